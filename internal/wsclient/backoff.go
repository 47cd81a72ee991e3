package wsclient

import (
	"math"
	"math/rand"
	"time"
)

const maxReconnectDelay = 30 * time.Second

// reconnectDelay computes the backoff before reconnect attempt n (0-based):
// min(base * 1.5^attempt * jitter, 30s) with jitter drawn uniformly from
// [0.75, 1.25]. jitterSource returns a value in [0, 1).
func reconnectDelay(base time.Duration, attempt int, jitterSource func() float64) time.Duration {
	exp := float64(base) * math.Pow(1.5, float64(attempt))
	jitter := 0.75 + jitterSource()*0.5
	d := time.Duration(exp * jitter)
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func defaultJitter() float64 {
	return rand.Float64()
}
