package binance

import (
	"math/rand"
	"time"
)

// backoffBase and backoffCap are the reconnect backoff bounds (spec.md
// §4.1: "exponential backoff (base 1s, cap 30s, jitter +-20%)").
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	jitterFrac  = 0.20
)

// nextBackoff returns the delay before reconnect attempt number attempt
// (0-based), doubling from backoffBase up to backoffCap and applying
// +-20% jitter.
func nextBackoff(attempt int, rng *rand.Rand) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	if d > backoffCap {
		d = backoffCap
	}

	jitter := float64(d) * jitterFrac
	delta := (rng.Float64()*2 - 1) * jitter
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		out = 0
	}
	return out
}
