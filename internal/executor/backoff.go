package executor

import (
	"errors"
	"math"
	"time"
)

// BackoffPolicy computes retry delays as min(Base * Multiplier^attempt, Max).
// One policy is shared by every leg and every trade.
type BackoffPolicy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int // failed attempts allowed per leg before giving up
}

// DefaultBackoff is 1s doubling to 30s over five attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Validate checks the policy can produce finite delays.
func (p BackoffPolicy) Validate() error {
	var errs []error
	if p.Base <= 0 {
		errs = append(errs, errors.New("backoff base must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be >= 1"))
	}
	if p.Max < p.Base {
		errs = append(errs, errors.New("backoff max must be >= base"))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("backoff max attempts must be >= 1"))
	}
	return errors.Join(errs...)
}

// Delay returns the wait before retrying after failure number attempt+1.
// Negative attempts are treated as zero.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsInf(d, 0) || d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Schedule lists Delay(0) .. Delay(MaxAttempts-1).
func (p BackoffPolicy) Schedule() []time.Duration {
	out := make([]time.Duration, p.MaxAttempts)
	for i := range out {
		out[i] = p.Delay(i)
	}
	return out
}

// Exhausted reports whether failures has used up the attempt budget.
func (p BackoffPolicy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}
