package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowPermitsBurstThenThrottles(t *testing.T) {
	l := New(60, 2, nil)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "1.2.3.4"))
	assert.True(t, l.Allow(ctx, "1.2.3.4"))
	assert.False(t, l.Allow(ctx, "1.2.3.4"), "third immediate request exceeds burst of 2")
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(60, 1, nil)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a"))
	assert.True(t, l.Allow(ctx, "b"), "a different key gets its own bucket")
}
