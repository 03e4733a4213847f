package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

func TestShouldRetryHonorsBatchErrorFlag(t *testing.T) {
	policy := NewDefaultRetryPolicyFactory().Create(3, time.Second, 1.0, nil)

	retryable := exception.NewTransferError("transport", "connection reset", errors.New("reset"))
	assert.True(t, policy.ShouldRetry(retryable))

	fatal := exception.NewDataShapeError("engine", "missing dimension", nil)
	assert.False(t, policy.ShouldRetry(fatal))

	assert.False(t, policy.ShouldRetry(nil))
}

func TestShouldRetryMatchesConfiguredTypes(t *testing.T) {
	policy := NewDefaultRetryPolicyFactory().Create(3, time.Second, 1.0, []string{"context.DeadlineExceeded"})
	wrapped := exception.NewBatchError("transport", "timeout", context.DeadlineExceeded, false, false)
	assert.True(t, policy.ShouldRetry(wrapped))
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	policy := NewDefaultRetryPolicyFactory().Create(3, time.Second, 1.0, nil)

	assert.Equal(t, time.Second, policy.GetBackoffInterval(1))
	assert.Equal(t, 2*time.Second, policy.GetBackoffInterval(2))
	assert.Equal(t, 3*time.Second, policy.GetBackoffInterval(3))
	assert.Equal(t, time.Second, policy.GetBackoffInterval(0))
	assert.Equal(t, 3, policy.GetMaxAttempts())
}
