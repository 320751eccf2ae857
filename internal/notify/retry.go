package notify

import "time"

// RetryPolicy bounds how often the email worker re-queues a failed message.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// EmailRetryPolicy is used by the email worker. MaxDelay stays under the
// SQS DelaySeconds ceiling so a retry never needs a scheduler.
var EmailRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     30 * time.Second,
	MaxDelay:      maxDelay,
	BackoffFactor: 2.0,
}

// NextDelay returns min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay)
	for range attempt {
		delay *= p.BackoffFactor
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(time.Duration(delay), p.MaxDelay)
}

// Exhausted reports whether a message that has already been retried
// retryCount times may not be retried again.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
