package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPrincipal(ctx, "alice")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	who, ok := Principal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", who)

	_, ok = Principal(WithPrincipal(context.Background(), ""))
	assert.False(t, ok)
}
