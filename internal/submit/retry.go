package submit

import (
	"context"
	"errors"
	"time"
)

// Retry limits. MaxDelay caps a single backoff wait.
const (
	MaxRetries = 10
	MaxDelay   = 5 * time.Minute
)

// Policy decides whether and when a failed submission is retried.
type Policy struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// DefaultPolicy returns a Policy with up to 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// ShouldRetry reports whether the attempt-th call (zero based) should be
// followed by another one.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	var se *Error
	return errors.As(err, &se) && se.Retryable
}

// DelayFor returns the backoff before retrying after the attempt-th call:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) DelayFor(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	return min(d, MaxDelay)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
