// Package backoff provides exponential delay schedules for retry loops.
package backoff

import (
	"math"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	Base        time.Duration // delay before the first retry
	Factor      float64       // multiplier applied per retry
	Cap         time.Duration // upper bound on any single delay
	MaxAttempts int           // total attempts including the first
}

// Default returns the delivery schedule used for webhook callbacks:
// 1s, 2s, 4s, 8s ... capped at 30s, five attempts in total.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Factor:      2,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retry number `retry` (1-based).
// Retry 1 waits Base, retry 2 waits Base*Factor, and so on.
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(retry-1))
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

// Exhausted reports whether `attempts` completed attempts have used up
// the policy's budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
