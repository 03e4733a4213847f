package retry

import (
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic.
// This interface provides methods to determine if a specific error is retryable,
// and to determine the backoff interval between retries.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	// err: The error to evaluate.
	// Returns: true if the error is retryable, false otherwise.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the backoff interval for a given attempt number.
	// attempt: The current attempt number (starting from 1).
	// Returns: The waiting time until the next retry.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of retry attempts.
	// Returns: The maximum number of attempts.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy.
// This factory generates instances of defaultRetryPolicy based on configuration.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
// Returns: A pointer to the new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy instance based on the given settings.
// maxAttempts: The maximum number of retry attempts.
// initialInterval: The waiting time until the first retry.
// factor: The multiplier applied to the interval on each subsequent attempt.
// retryableExceptions: A list of string representations of exception types considered retryable.
// Returns: A new RetryPolicy instance.
func (f *DefaultRetryPolicyFactory) Create(maxAttempts int, initialInterval time.Duration, factor float64, retryableExceptions []string) RetryPolicy {
	if factor <= 0 {
		factor = 1.0
	}
	return &defaultRetryPolicy{
		maxAttempts:         maxAttempts,
		initialInterval:     initialInterval,
		factor:              factor,
		retryableExceptions: retryableExceptions,
	}
}

// defaultRetryPolicy is the default implementation of RetryPolicy.
// This policy operates based on the configured maximum attempts, initial interval, and list of retryable exceptions.
type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	factor              float64
	retryableExceptions []string
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry determines if an error is retryable.
// The determination is based on the IsRetryable flag of BatchError, or by matching against the configured list of retryable exceptions.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// 1. Check BatchError flag
	if be, ok := err.(*exception.BatchError); ok && be.IsRetryable() {
		return true
	}

	// 2. Match against configured retryable exceptions list
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}

	return false
}

// GetBackoffInterval returns the backoff interval based on the specified attempt number.
// The interval grows linearly with the attempt number, scaled by the configured factor.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.initialInterval) * p.factor * float64(attempt))
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)
