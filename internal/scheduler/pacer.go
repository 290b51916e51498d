package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time for pacing.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Pacer spaces out consecutive evolutions within a batch.
type Pacer interface {
	// Wait blocks until the next item may start or ctx is done.
	Wait(ctx context.Context) error
	// Done marks the end of the current item.
	Done()
}

// RatePacer admits one item per interval, measured from the end of the
// previous item once Done is called, so every item is followed by a full
// interval of quiet. The first item is admitted immediately.
type RatePacer struct {
	limit rate.Limit
	clock Clock

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewPacer creates a RatePacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration, clock Clock) *RatePacer {
	if clock == nil {
		clock = realClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RatePacer{
		limit:   limit,
		clock:   clock,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Done restarts the interval at the current time.
func (p *RatePacer) Done() {
	if p.limit == rate.Inf {
		return
	}
	limiter := rate.NewLimiter(p.limit, 1)
	limiter.AllowN(p.clock.Now(), 1)

	p.mu.Lock()
	p.limiter = limiter
	p.mu.Unlock()
}

// Wait implements Pacer.
func (p *RatePacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()

	now := p.clock.Now()
	r := limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-p.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(p.clock.Now())
		return ctx.Err()
	}
}
