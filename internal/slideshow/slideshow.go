// Package slideshow runs the display state machine: it walks the ordered
// sequence of processed images, advances on a timer or gesture, and exposes
// a control surface safe to call from outside the display loop.
package slideshow

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/framelight/framelight/internal/config"
	"github.com/framelight/framelight/internal/store"
	"github.com/framelight/framelight/internal/types"
)

// Mode is the current state of the display loop.
type Mode string

const (
	ModeEmpty   Mode = "empty"
	ModePlaying Mode = "playing"
	ModePaused  Mode = "paused"
	ModeMenu    Mode = "menu"
)

// Transition names the fade the renderer should draw. The renderer overlays
// outgoing and incoming proxies by the progress fraction; fadeIn means the
// incoming slide is appearing, fadeOut means the outgoing one is receding.
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionFadeIn  Transition = "fadeIn"
	TransitionFadeOut Transition = "fadeOut"
)

// Gesture is a touch event produced by the rendering collaborator.
type Gesture string

const (
	GestureSwipeLeft  Gesture = "swipeLeft"
	GestureSwipeRight Gesture = "swipeRight"
	GestureLongPress  Gesture = "longPress"
	GestureTap        Gesture = "tap"
)

// Catalog is the read side of the image store the engine rebuilds from.
type Catalog interface {
	ListProcessed() ([]*types.ImageRecord, error)
	Changes() <-chan struct{}
}

// Snapshot is a consistent copy of the engine state for renderers and the
// web surface. Current and Outgoing are nil when not applicable.
type Snapshot struct {
	Mode               Mode
	CurrentIndex       int
	SequenceLen        int
	Current            *Slide
	Outgoing           *Slide
	Transition         Transition
	TransitionProgress float64
}

// Engine owns the slideshow state. All mutation happens under a single
// mutex; the run loop and the control surface never interleave partially.
type Engine struct {
	catalog Catalog
	cfg     config.SlideshowConfig

	sessionSeed int64
	now         func() time.Time

	mu            sync.Mutex
	seq           []Slide
	index         int
	mode          Mode
	outgoing      *Slide
	fadeKind      Transition
	fadeStart     time.Time
	nextAdvanceAt time.Time
	menuDeadline  time.Time

	wakeC chan struct{}
}

// New builds an engine over the given catalog. The shuffle seed for the
// session is fixed at construction.
func New(catalog Catalog, cfg config.SlideshowConfig) *Engine {
	return &Engine{
		catalog:     catalog,
		cfg:         cfg,
		sessionSeed: time.Now().UnixNano(),
		now:         time.Now,
		mode:        ModeEmpty,
		wakeC:       make(chan struct{}, 1),
	}
}

// Run drives the timer loop until ctx is cancelled. It rebuilds the
// sequence on store changes and advances the current slide while playing.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Rebuild(); err != nil {
		slog.Warn("initial sequence build failed", "error", err)
	}

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if deadline, ok := e.nextDeadline(); ok {
			timer = time.NewTimer(time.Until(deadline))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-e.catalog.Changes():
			if err := e.Rebuild(); err != nil {
				slog.Warn("sequence rebuild failed", "error", err)
			}
		case <-e.wakeC:
		case <-timerC:
			e.onDeadline()
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// nextDeadline reports when the run loop next needs to act.
func (e *Engine) nextDeadline() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModePlaying:
		if e.cfg.AutoPlay {
			return e.nextAdvanceAt, true
		}
	case ModeMenu:
		if e.cfg.MenuTimeout() > 0 {
			return e.menuDeadline, true
		}
	}
	return time.Time{}, false
}

// onDeadline fires the timer action that is due.
func (e *Engine) onDeadline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	switch e.mode {
	case ModePlaying:
		if e.cfg.AutoPlay && !now.Before(e.nextAdvanceAt) {
			e.stepLocked(1, now)
		}
	case ModeMenu:
		if e.cfg.MenuTimeout() > 0 && !now.Before(e.menuDeadline) {
			e.mode = ModePlaying
			e.nextAdvanceAt = now.Add(e.cfg.Interval())
		}
	}
}

// Rebuild recomputes the sequence from the catalog's current processed set.
// The displayed image is kept when it survives; an index past the new bound
// is clamped; an empty result parks the engine in the empty state.
func (e *Engine) Rebuild() error {
	records, err := e.catalog.ListProcessed()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seed := e.sessionSeed
	if e.cfg.ShuffleReseed == "rebuild" {
		seed = rand.Int63()
	}
	var currentID string
	if e.mode != ModeEmpty && e.index < len(e.seq) {
		currentID = e.seq[e.index].ID
	}

	e.seq = BuildSequence(records, e.cfg.OrderBy, e.cfg.Shuffle, seed)
	now := e.now()

	if len(e.seq) == 0 {
		e.mode = ModeEmpty
		e.index = 0
		e.outgoing = nil
		return nil
	}

	if e.mode == ModeEmpty {
		// The very first image appears without a fade.
		e.mode = ModePlaying
		e.index = 0
		e.outgoing = nil
		e.nextAdvanceAt = now.Add(e.cfg.Interval())
		e.wake()
		return nil
	}

	if i := indexOf(e.seq, currentID); i >= 0 {
		e.index = i
	} else if e.index >= len(e.seq) {
		e.index = len(e.seq) - 1
	}
	e.wake()
	return nil
}

// Next advances one slide and restarts the interval timer.
func (e *Engine) Next() error { return e.step(1) }

// Previous steps one slide back and restarts the interval timer.
func (e *Engine) Previous() error { return e.step(-1) }

func (e *Engine) step(delta int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeEmpty {
		return store.ErrInvalidState
	}
	e.stepLocked(delta, e.now())
	e.wake()
	return nil
}

// stepLocked moves the index with wraparound and begins a fade. Forward
// steps fade the incoming slide in; backward steps fade the outgoing one out.
func (e *Engine) stepLocked(delta int, now time.Time) {
	n := len(e.seq)
	if n == 0 {
		return
	}
	kind := TransitionFadeIn
	if delta < 0 {
		kind = TransitionFadeOut
	}
	out := e.seq[e.index]
	e.index = ((e.index+delta)%n + n) % n
	e.nextAdvanceAt = now.Add(e.cfg.Interval())
	e.beginFadeLocked(&out, kind, now)
}

func (e *Engine) beginFadeLocked(out *Slide, kind Transition, now time.Time) {
	if e.cfg.Transition() <= 0 {
		e.outgoing = nil
		return
	}
	e.outgoing = out
	e.fadeKind = kind
	e.fadeStart = now
}

// Pause suspends the advance timer from any non-empty state.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeEmpty {
		return store.ErrInvalidState
	}
	e.mode = ModePaused
	e.wake()
	return nil
}

// Resume returns to playing with a fresh interval timer.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeEmpty {
		return store.ErrInvalidState
	}
	e.mode = ModePlaying
	e.nextAdvanceAt = e.now().Add(e.cfg.Interval())
	e.wake()
	return nil
}

// JumpTo displays the slide with the given id.
func (e *Engine) JumpTo(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := indexOf(e.seq, id)
	if i < 0 {
		return store.ErrNotFound
	}
	now := e.now()
	out := e.seq[e.index]
	e.index = i
	e.nextAdvanceAt = now.Add(e.cfg.Interval())
	e.beginFadeLocked(&out, TransitionFadeIn, now)
	e.wake()
	return nil
}

// HandleGesture maps touch input onto state transitions.
func (e *Engine) HandleGesture(g Gesture) error {
	switch g {
	case GestureSwipeLeft:
		return e.Next()
	case GestureSwipeRight:
		return e.Previous()
	case GestureLongPress:
		return e.openMenu()
	case GestureTap:
		return e.togglePause()
	}
	return store.ErrInvalidState
}

func (e *Engine) openMenu() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeEmpty {
		return store.ErrInvalidState
	}
	e.mode = ModeMenu
	e.menuDeadline = e.now().Add(e.cfg.MenuTimeout())
	e.wake()
	return nil
}

// togglePause flips between paused and playing in one critical section, so
// concurrent control calls never observe a half-applied toggle.
func (e *Engine) togglePause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModePlaying, ModeMenu:
		e.mode = ModePaused
	case ModePaused:
		e.mode = ModePlaying
		e.nextAdvanceAt = e.now().Add(e.cfg.Interval())
	default:
		return store.ErrInvalidState
	}
	e.wake()
	return nil
}

// Snapshot returns a consistent copy of the state. Fade progress is derived
// from elapsed time so callers polling at any rate see a linear ramp.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Mode:        e.mode,
		SequenceLen: len(e.seq),
		Transition:  TransitionNone,
	}
	if e.mode == ModeEmpty {
		return snap
	}

	snap.CurrentIndex = e.index
	cur := e.seq[e.index]
	snap.Current = &cur

	if e.outgoing != nil {
		progress := e.now().Sub(e.fadeStart).Seconds() / e.cfg.Transition().Seconds()
		if progress >= 1 {
			e.outgoing = nil
		} else {
			snap.Transition = e.fadeKind
			snap.TransitionProgress = math.Max(0, progress)
			out := *e.outgoing
			snap.Outgoing = &out
		}
	}
	return snap
}

// wake pokes the run loop so it recomputes its timer deadline.
func (e *Engine) wake() {
	select {
	case e.wakeC <- struct{}{}:
	default:
	}
}
