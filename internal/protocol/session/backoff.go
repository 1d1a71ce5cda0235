package session

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Backoff counts consecutive failures of one retry loop. Not safe for
// concurrent use.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
	max     int
}

// NewBackoff builds a retry counter. maxAttempts <= 0 retries forever.
func NewBackoff(cfg BackoffConfig, maxAttempts int) *Backoff {
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		max: maxAttempts,
	}
}

// Attempt returns the number of failures recorded since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Fail records a failure and reports whether another attempt is allowed.
func (b *Backoff) Fail() bool {
	b.attempt++
	return b.max <= 0 || b.attempt < b.max
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits out the delay for the current attempt or until ctx ends.
func (b *Backoff) Sleep(ctx context.Context) error {
	delay := NextBackoffDelay(b.cfg, b.attempt, b.rng)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
