package connector

import (
	"math"
	"math/rand/v2"
	"time"
)

const minJitteredDelay = 100 * time.Millisecond

// backoff yields reconnect delays: InitialBackoff, then ×BackoffMultiplier per
// failed attempt, capped at MaxBackoff.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	maxAttempt int

	attempt int
	random  func() float64
}

func newBackoff(cfg Config) *backoff {
	return &backoff{
		initial:    cfg.InitialBackoff,
		max:        cfg.MaxBackoff,
		multiplier: cfg.BackoffMultiplier,
		jitter:     cfg.Jitter,
		maxAttempt: cfg.MaxAttempts,
		random:     rand.Float64,
	}
}

// Next returns the delay before the next attempt, or false once MaxAttempts
// consecutive attempts have failed.
func (b *backoff) Next() (time.Duration, bool) {
	b.attempt++
	if b.maxAttempt > 0 && b.attempt > b.maxAttempt {
		return 0, false
	}
	return b.delay(b.attempt), true
}

// Reset starts over from InitialBackoff
func (b *backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset
func (b *backoff) Attempt() int {
	return b.attempt
}

func (b *backoff) delay(attempt int) time.Duration {
	d := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	if b.jitter > 0 {
		spread := d * b.jitter
		d += spread * (2*b.random() - 1)
		if d < float64(minJitteredDelay) {
			d = float64(minJitteredDelay)
		}
	}
	return time.Duration(d)
}
