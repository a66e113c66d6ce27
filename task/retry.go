package task

import (
	"errors"
	"math"
	"strings"
	"time"
)

// RetryPolicy classifies stage failures and computes backoff delays.
type RetryPolicy struct {
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryPolicy provides sensible defaults.
var DefaultRetryPolicy = RetryPolicy{
	InitialDelay:    30 * time.Second,
	MaxDelay:        30 * time.Minute,
	BackoffMultiple: 2.0,
}

// Classify determines whether a stage failure is worth retrying. Stage
// processors wrap their errors as StageError; anything else is classified by
// message heuristics, defaulting to transient so genuinely flaky failures
// get their retries.
func (p RetryPolicy) Classify(err error) ErrorType {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}

	s := strings.ToLower(err.Error())

	// Permanent request/input problems: no amount of retrying fixes these.
	if strings.Contains(s, "400") || strings.Contains(s, "bad request") ||
		strings.Contains(s, "404") || strings.Contains(s, "not found") ||
		strings.Contains(s, "malformed") || strings.Contains(s, "invalid") ||
		strings.Contains(s, "unsupported") || strings.Contains(s, "corrupt") {
		return ErrorFatal
	}

	// Network, rate limits, 5xx and the like.
	return ErrorTransient
}

// BackoffDelay returns the delay before retry number retryCount. It is
// monotonically non-decreasing in retryCount and always positive, so the
// computed next_retry_at is strictly in the future at schedule time.
func (p RetryPolicy) BackoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiple, float64(retryCount-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < float64(time.Millisecond) {
		d = float64(time.Millisecond)
	}
	return time.Duration(d)
}
