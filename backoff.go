package redis

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay implements spec.md §4.6's retry formula:
//
//	delay = random(0, factor * base^attempt), capped by MaxDelay.
//
// attempt is zero-based (the first retry uses attempt=0).
func backoffDelay(strategy RetryStrategy, attempt int, rng *rand.Rand) time.Duration {
	if strategy.MaxAttempts <= 0 {
		return 0
	}
	upper := strategy.Factor * math.Pow(strategy.Base, float64(attempt))
	d := time.Duration(upper * float64(time.Millisecond))
	if strategy.MaxDelay > 0 && d > strategy.MaxDelay {
		d = strategy.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(d) + 1))
}
