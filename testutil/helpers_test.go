package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContexts(t *testing.T) {
	assert.NoError(t, TestContext(t).Err())
	assert.True(t, errors.Is(CancelledContext().Err(), context.Canceled))
	assert.True(t, errors.Is(ExpiredContext().Err(), context.DeadlineExceeded))
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	assert.True(t, WaitFor(func() bool { return time.Since(start) > 20*time.Millisecond }, time.Second))
	assert.False(t, WaitFor(func() bool { return false }, 10*time.Millisecond))
}

func TestIDs(t *testing.T) {
	assert.Equal(t, []string{"t-000", "t-001", "t-002"}, IDs("t", 3))
	assert.Empty(t, IDs("t", 0))
}
