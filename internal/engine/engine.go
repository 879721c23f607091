// Package engine wires the store, processor, mail ingestor and slideshow
// into one running unit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/framelight/framelight/internal/config"
	"github.com/framelight/framelight/internal/geo"
	"github.com/framelight/framelight/internal/mail"
	"github.com/framelight/framelight/internal/processor"
	"github.com/framelight/framelight/internal/slideshow"
	"github.com/framelight/framelight/internal/store"
)

// Engine holds the assembled components. The mail ingestor is nil when no
// mailbox is configured; everything else always runs.
type Engine struct {
	Config    *config.Config
	Store     *store.Store
	Processor *processor.Processor
	Ingestor  *mail.Ingestor
	Slideshow *slideshow.Engine
}

// Open assembles the local components: store, processor and slideshow.
// One-shot commands use this to avoid touching the mailbox.
func Open(cfg *config.Config) (*Engine, error) {
	st, err := store.Open(cfg.Paths.Index, cfg.Paths.Originals, cfg.Paths.Proxies)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var geocoder processor.Geocoder
	if cfg.Geocode.Enabled {
		geocoder = geo.New(cfg.Geocode.Endpoint)
	}
	proc := processor.New(st, processor.Options{
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
		Quality:  cfg.Process.Quality,
		Workers:  cfg.Process.Workers,
		Timeout:  cfg.Process.Timeout(),
		Geocoder: geocoder,
	})

	return &Engine{
		Config:    cfg,
		Store:     st,
		Processor: proc,
		Slideshow: slideshow.New(st, cfg.Slideshow),
	}, nil
}

// New opens the local components and attaches the configured mailbox.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	eng, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Email.Username != "" || cfg.Email.Provider == "gmail" {
		mailbox, err := newMailbox(ctx, cfg.Email)
		if err != nil {
			eng.Store.Close()
			return nil, err
		}
		eng.Ingestor = mail.NewIngestor(mailbox, eng.Store, eng.Processor, cfg.Email)
	}
	return eng, nil
}

func newMailbox(ctx context.Context, cfg config.EmailConfig) (mail.Mailbox, error) {
	switch cfg.Provider {
	case "gmail":
		return mail.NewGmailMailbox(ctx, cfg)
	default:
		return mail.NewIMAPMailbox(cfg), nil
	}
}

// Run starts every activity and blocks until ctx is cancelled. Leftover
// pending records from a previous run are reprocessed on startup.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"display", fmt.Sprintf("%dx%d", e.Config.Display.Width, e.Config.Display.Height),
		"mailbox", e.Ingestor != nil)

	if n, err := e.Processor.ProcessAll(ctx); err != nil {
		slog.Warn("startup reprocess failed", "error", err)
	} else if n > 0 {
		slog.Info("reprocessed leftover images", "count", n)
	}

	var wg sync.WaitGroup

	if e.Ingestor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Ingestor.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Slideshow.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	slog.Info("engine stopped")
	return e.Store.Close()
}
