package locking

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// Backoff is a jittered exponential retry policy:
// delay(n) = Base * 2^(n-1) +/- Jitter*delay, floored at Min and capped at Max (0 = no cap).
type Backoff struct {
	MaxRetries int
	Base       time.Duration
	Min        time.Duration
	Max        time.Duration
	Jitter     float64
	// Rand returns values in [0,1). nil uses math/rand/v2.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		Base:       100 * time.Millisecond,
		Min:        10 * time.Millisecond,
		Jitter:     0.25,
	}
}

// Delay is the pause before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	d += (2*r() - 1) * d * b.Jitter
	if d < float64(b.Min) {
		d = float64(b.Min)
	}
	return time.Duration(d)
}

// Retry calls try until it reports true or MaxRetries retries are spent.
// The error of the final attempt, if any, is returned alongside false.
func (b Backoff) Retry(ctx context.Context, try func(ctx context.Context) (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, b.Delay(attempt)); err != nil {
				return false, err
			}
		}
		ok, err := try(ctx)
		lastErr = err
		if err == nil && ok {
			return true, nil
		}
	}
	return false, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ordered returns ids deduplicated and sorted ascending. Every caller that
// locks several products must lock them in this order.
func Ordered(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
