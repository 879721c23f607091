package mail

import (
	"sync"
	"time"
)

// BackoffState is a snapshot of the poll scheduling state.
type BackoffState struct {
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextPollAt          time.Time `json:"next_poll_at"`
}

// Backoff schedules mailbox polls: the base interval while healthy, doubling
// per consecutive failure up to a cap, back to base on the first success.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mu    sync.Mutex
	state BackoffState
}

// NewBackoff builds a Backoff with the given base interval and cap.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Success resets the failure count and schedules the next poll one base
// interval from now.
func (b *Backoff) Success(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.LastSuccessAt = now
	b.state.ConsecutiveFailures = 0
	b.state.NextPollAt = now.Add(b.base)
}

// Failure bumps the failure count and pushes the next poll out by the
// doubled, capped delay.
func (b *Backoff) Failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures++
	b.state.NextPollAt = now.Add(b.delayLocked())
}

// delayLocked derives the current retry delay from the failure count.
func (b *Backoff) delayLocked() time.Duration {
	delay := b.base
	for i := 1; i < b.state.ConsecutiveFailures; i++ {
		delay *= 2
		if delay >= b.max {
			return b.max
		}
	}
	if delay > b.max {
		return b.max
	}
	return delay
}

// NextPollAt returns when the next poll is due. Before any poll has
// completed it is the zero time, meaning "poll immediately".
func (b *Backoff) NextPollAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.NextPollAt
}

// State returns a copy of the current scheduling state.
func (b *Backoff) State() BackoffState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
