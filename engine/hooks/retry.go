package hooks

import (
	"math"
	"math/rand"
	"time"
)

// Retry computes backoff delays for re-attempting failed tool
// invocations. The zero value uses the defaults below.
type Retry struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
)

// Delay returns the backoff before the given 1-based retry attempt,
// exponential with ±25% jitter, capped at MaxDelay.
func (r Retry) Delay(attempt int) time.Duration {
	base := float64(r.BaseDelay)
	if base <= 0 {
		base = float64(defaultBaseDelay)
	}
	maxD := float64(r.MaxDelay)
	if maxD <= 0 {
		maxD = float64(defaultMaxDelay)
	}
	delay := base * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.25 * (rand.Float64()*2 - 1)
	delay += jitter
	if delay > maxD {
		delay = maxD
	}
	return time.Duration(delay)
}
