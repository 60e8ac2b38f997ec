package binance

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextBackoffStaysWithinJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for attempt := 0; attempt < 10; attempt++ {
		d := nextBackoff(attempt, rng)
		if d < 0 {
			t.Fatalf("attempt %d: negative backoff %v", attempt, d)
		}
		maxPossible := time.Duration(float64(backoffCap) * (1 + jitterFrac))
		if d > maxPossible {
			t.Fatalf("attempt %d: backoff %v exceeds cap+jitter %v", attempt, d, maxPossible)
		}
	}
}

func TestNextBackoffGrowsThenCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	first := nextBackoff(0, rng)
	if first < time.Duration(float64(backoffBase)*(1-jitterFrac)) {
		t.Fatalf("first backoff %v below base-jitter floor", first)
	}

	late := nextBackoff(20, rng)
	capFloor := time.Duration(float64(backoffCap) * (1 - jitterFrac))
	if late < capFloor {
		t.Fatalf("late backoff %v should have saturated near cap, floor %v", late, capFloor)
	}
}
