package redisclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

func TestLockKeyIsNamespacedByKind(t *testing.T) {
	assert.Equal(t, "lock:appointment:42", lockKey("appointment", "42"))
	assert.NotEqual(t, lockKey("session", "42"), lockKey("appointment", "42"))
}

func TestLockContentionIsRetryable(t *testing.T) {
	err := fmt.Errorf("create session: %w", ErrLockNotAcquired)

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
	assert.True(t, fault.Retryable(err))
}
