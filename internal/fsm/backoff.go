package fsm

import (
	"math/rand/v2"
	"time"
)

// backoff computes the jittered exponential retry delay of spec.md §4.7
// step 5: base doubles per attempt, capped, with up to 20% jitter so
// concurrent retries of many posts don't all land on the same instant.
func backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > cap {
			d = cap
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 5 + 1))
	return d + jitter
}
