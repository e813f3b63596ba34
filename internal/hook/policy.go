package hook

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Policy is the retry schedule for a delivery job: exponential backoff with
// a cap and jitter, bounded by an attempt ceiling per dispatch cycle. A
// manual replay opens a new cycle with a fresh budget while the lifetime
// attempt counter keeps increasing.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	JitterPercent float64
}

// Exhausted reports whether the cycle that started at attempt cycleStart
// has used up its budget after the given lifetime attempt count.
func (p Policy) Exhausted(attempt, cycleStart int) bool {
	return attempt-cycleStart >= p.MaxAttempts
}

// NextDelay computes the backoff before the attempt following lifetime
// attempt n in a cycle starting at cycleStart. Jitter spreads retries so
// concurrent jobs against the same target do not fire in lockstep.
func (p Policy) NextDelay(attempt, cycleStart int) time.Duration {
	n := attempt - cycleStart // attempts made this cycle, >= 1
	if n < 1 {
		n = 1
	}
	base := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	j := 1 + (rand.Float64()*2-1)*p.JitterPercent
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(base * j)
}

// FailureReason labels a non-success outcome for metrics and the record's
// last_error column.
func FailureReason(o Outcome) string {
	if o.Err != nil {
		errLower := strings.ToLower(o.Err.Error())
		switch {
		case strings.Contains(errLower, "timeout"), strings.Contains(errLower, "deadline"):
			return "timeout"
		case strings.Contains(errLower, "connection refused"):
			return "connection_refused"
		case strings.Contains(errLower, "no such host"), strings.Contains(errLower, "dns"):
			return "dns_error"
		}
		return "network"
	}
	switch {
	case o.StatusCode >= 500:
		return "http_5xx"
	case o.StatusCode == 429:
		return "http_429"
	case o.StatusCode == 408:
		return "http_408"
	case o.StatusCode >= 400:
		return "http_4xx"
	}
	return "other"
}
