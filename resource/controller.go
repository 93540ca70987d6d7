// Package resource provides shared limits for mapped-memory consumers.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for allocator-managed memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// FlushLimitBytesPerSec caps writeback throughput so that draining a
	// large dirty region does not saturate the storage device.
	// If 0, unlimited.
	FlushLimitBytesPerSec int64
}

// Controller manages shared resources (memory budget, flush bandwidth).
// One controller can be shared across several maps and movers.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Flush bandwidth
	flushLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.FlushLimitBytesPerSec > 0 {
		c.flushLimiter = rate.NewLimiter(rate.Limit(cfg.FlushLimitBytesPerSec), int(cfg.FlushLimitBytesPerSec))
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// If a hard limit is configured and usage would exceed it, this blocks
// until memory is available or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory attempts to reserve memory without blocking.
// Returns true if acquired, false if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory returns previously reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	c.memUsed.Add(-bytes)
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
}

// MemoryUsed returns the currently reserved memory in bytes.
func (c *Controller) MemoryUsed() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// WaitFlush blocks until the flush limiter admits n bytes of writeback,
// or ctx is canceled. With no limit configured it returns immediately.
func (c *Controller) WaitFlush(ctx context.Context, n int) error {
	if c == nil || c.flushLimiter == nil || n <= 0 {
		return nil
	}

	// Bursts larger than the limiter can admit at once are fed in slices.
	burst := c.flushLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.flushLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
