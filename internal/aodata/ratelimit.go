package aodata

import (
	"context"
	"sync"
	"time"

	"github.com/millelog/albion-market-tools/internal/metrics"
)

// window is one fixed-size rate-limit window. The count resets when the
// window elapses; there is no sliding behavior.
type window struct {
	limit  int
	length time.Duration
	start  time.Time
	count  int
}

// Limiter enforces the upstream API's request ceilings across fixed reset
// windows (180 per 60s and 300 per 300s by default). It is safe for
// concurrent use. When a ceiling would be exceeded, Wait suspends the caller
// until capacity frees instead of returning an error.
type Limiter struct {
	mu      sync.Mutex
	windows []*window

	// Hooks for tests. now defaults to time.Now, sleep to a timer that
	// honors context cancellation.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter with the given per-minute and per-5-minute
// request ceilings.
func NewLimiter(perMinute, per5Minutes int) *Limiter {
	return &Limiter{
		windows: []*window{
			{limit: perMinute, length: time.Minute},
			{limit: per5Minutes, length: 5 * time.Minute},
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until one request slot is available in every window, then
// consumes it. Returns the context error if ctx is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	waited := time.Duration(0)
	for {
		l.mu.Lock()
		now := l.now()
		free := true
		var nextFree time.Time
		for _, w := range l.windows {
			if w.start.IsZero() || !now.Before(w.start.Add(w.length)) {
				w.start = now
				w.count = 0
			}
			if w.count >= w.limit {
				free = false
				reset := w.start.Add(w.length)
				if nextFree.IsZero() || reset.After(nextFree) {
					nextFree = reset
				}
			}
		}
		if free {
			for _, w := range l.windows {
				w.count++
			}
			l.mu.Unlock()
			if waited > 0 {
				metrics.RateLimitWaitSeconds.Observe(waited.Seconds())
			}
			return nil
		}
		l.mu.Unlock()

		d := nextFree.Sub(now)
		if d < 0 {
			d = 0
		}
		waited += d
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
