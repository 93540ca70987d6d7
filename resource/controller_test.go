package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_MemoryLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 1024})

	assert.True(t, c.TryAcquireMemory(512))
	assert.True(t, c.TryAcquireMemory(512))
	assert.Equal(t, int64(1024), c.MemoryUsed())

	// Limit reached.
	assert.False(t, c.TryAcquireMemory(1))

	c.ReleaseMemory(512)
	assert.Equal(t, int64(512), c.MemoryUsed())
	assert.True(t, c.TryAcquireMemory(256))
}

func TestController_AcquireBlocksUntilRelease(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	require.True(t, c.TryAcquireMemory(100))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Exhausted: a blocking acquire must fail once the context expires.
	err := c.AcquireMemory(ctx, 10)
	assert.Error(t, err)
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})

	assert.True(t, c.TryAcquireMemory(1<<40))
	assert.NoError(t, c.AcquireMemory(context.Background(), 1<<40))
	assert.NoError(t, c.WaitFlush(context.Background(), 1<<30))

	// Tracking still works without a limit.
	assert.Equal(t, int64(2<<40), c.MemoryUsed())
}

func TestController_NilReceiver(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(10))
	assert.NoError(t, c.AcquireMemory(context.Background(), 10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsed())
	assert.NoError(t, c.WaitFlush(context.Background(), 10))
}

func TestController_WaitFlushThrottles(t *testing.T) {
	// 64 KiB/s with a full burst available: the first 64 KiB is free, the
	// next 32 KiB must take roughly half a second.
	c := NewController(Config{FlushLimitBytesPerSec: 64 * 1024})

	require.NoError(t, c.WaitFlush(context.Background(), 64*1024))

	start := time.Now()
	require.NoError(t, c.WaitFlush(context.Background(), 32*1024))
	elapsed := time.Since(start)

	assert.Greater(t, elapsed, 300*time.Millisecond)
}

func TestController_WaitFlushCancel(t *testing.T) {
	c := NewController(Config{FlushLimitBytesPerSec: 1024})
	require.NoError(t, c.WaitFlush(context.Background(), 1024)) // drain burst

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, c.WaitFlush(ctx, 4096))
}
