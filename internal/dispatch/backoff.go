package dispatch

import (
	"math"
	"time"
)

const (
	DefaultBaseDelay = 2.0
	DefaultMaxDelay  = 12 * time.Hour
)

// Backoff returns base^attempts seconds, capped at max (max <= 0 disables
// the cap). Attempts below 1 are treated as 1.
func Backoff(base float64, attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base < 1 {
		base = 1
	}
	secs := math.Pow(base, float64(attempts))
	limit := float64(math.MaxInt64) / float64(time.Second)
	if max > 0 {
		limit = max.Seconds()
	}
	if math.IsInf(secs, 0) || math.IsNaN(secs) || secs > limit {
		secs = limit
	}
	return time.Duration(secs * float64(time.Second))
}
