// Package processor converts stored originals into display-ready proxies.
//
// A proxy is the original decoded, rotated upright per its EXIF orientation,
// fitted inside the configured display resolution, and re-encoded as JPEG.
// Processing is idempotent: the same original and configuration always yield
// the same proxy bytes, so retries are safe.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"time"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	"golang.org/x/sync/singleflight"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/framelight/framelight/internal/store"
	"github.com/framelight/framelight/internal/types"
)

// DecodeError reports an unsupported or corrupt source image. The original
// stays in the store; only the record is marked failed.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Geocoder resolves GPS coordinates to a place label. Implementations must
// honor the context deadline; lookup failures are tolerated.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Options configures a Processor.
type Options struct {
	Width    int
	Height   int
	Quality  int
	Workers  int
	Timeout  time.Duration
	Geocoder Geocoder // optional
}

// Processor turns pending records into processed ones.
type Processor struct {
	store *store.Store
	opts  Options

	group singleflight.Group
	sem   chan struct{}
}

// New builds a Processor over the given store.
func New(st *store.Store, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Processor{
		store: st,
		opts:  opts,
		sem:   make(chan struct{}, opts.Workers),
	}
}

// Process converts the original behind id into its proxy and attaches it to
// the record. Concurrent calls for the same id coalesce into one execution
// whose result all callers share; calls for distinct ids run in parallel up
// to the configured worker limit. A record that is already processed is
// returned as-is; a failed record is reset and retried.
func (p *Processor) Process(ctx context.Context, id string) (*types.ImageRecord, error) {
	v, err, _ := p.group.Do(id, func() (any, error) {
		return p.processOne(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ImageRecord), nil
}

// Submit schedules processing without waiting for the result. Errors are
// logged; the record carries the failure state for later inspection.
func (p *Processor) Submit(ctx context.Context, id string) {
	go func() {
		if _, err := p.Process(ctx, id); err != nil {
			slog.Error("image processing failed", "id", id, "error", err)
		}
	}()
}

// ProcessAll runs processing for every pending and failed record. Returns
// how many records ended up processed.
func (p *Processor) ProcessAll(ctx context.Context) (int, error) {
	recs, err := p.store.List()
	if err != nil {
		return 0, err
	}

	done := 0
	for _, rec := range recs {
		if rec.Status == types.StatusProcessed {
			continue
		}
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := p.Process(ctx, rec.ID); err != nil {
			slog.Warn("processing failed", "id", rec.ID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

func (p *Processor) processOne(ctx context.Context, id string) (*types.ImageRecord, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rec, err := p.store.Get(id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case types.StatusProcessed:
		return rec, nil
	case types.StatusFailed:
		if err := p.store.ResetFailed(id); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type outcome struct {
		proxy []byte
		meta  Metadata
		err   error
	}
	resC := make(chan outcome, 1)
	go func() {
		proxy, meta, err := p.convert(rec)
		resC <- outcome{proxy, meta, err}
	}()

	var out outcome
	select {
	case out = <-resC:
	case <-ctx.Done():
		reason := "processing timeout"
		if err := p.store.MarkFailed(id, reason); err != nil {
			slog.Warn("mark failed", "id", id, "error", err)
		}
		return nil, fmt.Errorf("process %s: %w", id, ctx.Err())
	}

	if out.err != nil {
		if err := p.store.MarkFailed(id, out.err.Error()); err != nil {
			slog.Warn("mark failed", "id", id, "error", err)
		}
		return nil, out.err
	}

	capturedAt := out.meta.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = rec.IngestedAt
	}

	geo := out.meta.Geo
	if geo != nil && p.opts.Geocoder != nil {
		if label, err := p.opts.Geocoder.Reverse(ctx, geo.Latitude, geo.Longitude); err == nil {
			geo.Label = label
		}
	}

	attached, err := p.store.AttachProxy(id, out.proxy, capturedAt, geo)
	if err != nil {
		return nil, fmt.Errorf("attach proxy %s: %w", id, err)
	}

	slog.Info("proxy created", "id", id, "captured_at", attached.CapturedAt, "bytes", len(out.proxy))
	return attached, nil
}

// convert decodes, orients, fits and re-encodes the original.
func (p *Processor) convert(rec *types.ImageRecord) ([]byte, Metadata, error) {
	data, err := os.ReadFile(rec.OriginalPath)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read original: %w", err)
	}

	meta := ExtractMetadata(data)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, meta, &DecodeError{Path: rec.OriginalPath, Err: err}
	}

	img = orient(img, meta.Orientation)
	img = fit(img, p.opts.Width, p.opts.Height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.opts.Quality}); err != nil {
		return nil, meta, fmt.Errorf("encode proxy: %w", err)
	}
	return buf.Bytes(), meta, nil
}

// fit scales img down to fit inside maxW x maxH, preserving aspect ratio.
// Images already within bounds are returned unchanged; there is no upscaling.
func fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// IsDecodeError reports whether err stems from undecodable input.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
