package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_Calls(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxConcurrentCalls: 2})

	require.NoError(t, c.AcquireCall(ctx))
	require.True(t, c.TryAcquireCall())
	assert.Equal(t, int64(2), c.InFlight())
	assert.False(t, c.TryAcquireCall())

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireCall(timeoutCtx))

	c.ReleaseCall()
	assert.True(t, c.TryAcquireCall())
	c.ReleaseCall()
	c.ReleaseCall()
	assert.Equal(t, int64(0), c.InFlight())
}

func TestController_Rate(t *testing.T) {
	c := NewController(Config{MaxConcurrentCalls: 4, CallsPerSecond: 1, Burst: 1})

	require.True(t, c.TryAcquireCall())
	c.ReleaseCall()
	// The bucket is empty until a second has passed.
	assert.False(t, c.TryAcquireCall())
	assert.Equal(t, int64(0), c.InFlight())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	assert.NoError(t, c.AcquireMemory(1<<40))
	assert.NoError(t, c.AcquireCall(context.Background()))
	assert.True(t, c.TryAcquireCall())
	c.ReleaseCall()
	c.ReleaseMemory(10)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.Equal(t, int64(0), c.InFlight())
}
