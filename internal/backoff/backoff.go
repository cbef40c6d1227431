// Package backoff implements a concrete schedule of durations the
// Consumer engine steps through on error, saturating at the final
// entry. It satisfies
// github.com/cenkalti/backoff/v4's BackOff interface so a host
// application can drive other operations (not just the Consumer loop)
// with the same policy via backoff.Retry/backoff.WithContext.
package backoff

import (
	"context"
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

var _ cenkalti.BackOff = (*Backoff)(nil)

// DefaultSchedule is the documented default: {1,2,4,8,16,32,60} seconds.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	60 * time.Second,
}

// Backoff steps through a fixed schedule, saturating at the last entry.
// An all-zero schedule (e.g. for tests) yields immediately forever.
type Backoff struct {
	mu       sync.Mutex
	schedule []time.Duration
	step     int
}

// New creates a Backoff over schedule. An empty schedule uses
// DefaultSchedule. schedule must be non-negative; callers that need an
// explicit all-zero schedule for testing can pass one.
func New(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Backoff{schedule: append([]time.Duration(nil), schedule...)}
}

// Reset moves the step pointer back to index 0.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.step = 0
	b.mu.Unlock()
}

// NextBackOff implements cenkalti/backoff/v4's BackOff: it returns the
// duration to wait next and advances the internal pointer by one step,
// clamped to the final index. Unlike a cenkalti exponential backoff,
// this schedule never returns backoff.Stop — it saturates instead,
// clamping at the final index.
func (b *Backoff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.schedule[b.step]
	if b.step < len(b.schedule)-1 {
		b.step++
	}
	return d
}

// CurrentStep returns the step index that will be used by the next
// NextBackOff/Interval call.
func (b *Backoff) CurrentStep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.step
}

// CurrentDelayMs returns the duration, in milliseconds, of the step that
// will be used next.
func (b *Backoff) CurrentDelayMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.schedule[b.step].Milliseconds()
}

// MaxDelayMs returns the final schedule entry's duration in
// milliseconds.
func (b *Backoff) MaxDelayMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.schedule[len(b.schedule)-1].Milliseconds()
}

// Interval awaits the current step's duration (returning immediately if
// it is zero), then advances the pointer by one step. It returns early
// with ctx.Err() if ctx is cancelled mid-wait.
func (b *Backoff) Interval(ctx context.Context) error {
	d := b.NextBackOff()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
