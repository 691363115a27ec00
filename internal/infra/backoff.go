package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// CalculateBackoff returns the delay before reconnect attempt n
// (0-based): exponential from 1s capped at 30s, with up to 25% jitter
// so parallel workers don't stampede the endpoint together.
func CalculateBackoff(retry int) time.Duration {
	delay := backoffBase
	for i := 0; i < retry && delay < backoffMax; i++ {
		delay *= 2
	}
	if delay > backoffMax {
		delay = backoffMax
	}

	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
