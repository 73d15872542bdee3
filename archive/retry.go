package archive

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff retries an upload with capped exponential delays.
// A zero Backoff makes a single attempt.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Jitter scales each delay by a random factor in [0.8, 1.2).
	Jitter bool
}

var DefaultBackoff = Backoff{Attempts: 3, Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: true}

func (b Backoff) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(b.Attempts, 1)
	ceiling := max(b.Max, b.Base)

	var last error
	delay := b.Base
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(ctx); last == nil {
			return nil
		}
		if i == attempts-1 || delay <= 0 {
			continue
		}

		wait := delay
		if b.Jitter {
			wait = time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))
		}
		timer := time.NewTimer(min(wait, ceiling))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, ceiling)
	}
	return last
}
