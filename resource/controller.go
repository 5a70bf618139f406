package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory budget.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxBuildWorkers which defaults to 1.
type Config struct {
	// MemoryLimitBytes bounds memory held by cubes and filter masks.
	MemoryLimitBytes int64

	// MaxBuildWorkers bounds how many passive-view cubes are built at once.
	MaxBuildWorkers int64

	// ReadLimitBytesPerSec throttles dataset reads from blob stores.
	ReadLimitBytesPerSec int64
}

// Controller enforces the limits of a Config. A nil *Controller enforces
// nothing and is safe to use.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	buildSem *semaphore.Weighted

	readLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBuildWorkers <= 0 {
		cfg.MaxBuildWorkers = 1
	}

	c := &Controller{
		cfg:      cfg,
		buildSem: semaphore.NewWeighted(cfg.MaxBuildWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.ReadLimitBytesPerSec > 0 {
		c.readLimiter = rate.NewLimiter(rate.Limit(cfg.ReadLimitBytesPerSec), int(cfg.ReadLimitBytesPerSec))
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// Reservation is memory held against the budget. Release is idempotent.
type Reservation struct {
	c     *Controller
	bytes int64
	once  sync.Once
}

// Bytes returns the reserved size.
func (r *Reservation) Bytes() int64 {
	if r == nil {
		return 0
	}
	return r.bytes
}

// Release returns the memory to the budget.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() { r.c.releaseMemory(r.bytes) })
}

// Reserve reserves bytes without blocking. It fails with
// ErrMemoryLimitExceeded when the budget is exhausted.
func (c *Controller) Reserve(bytes int64) (*Reservation, error) {
	if c == nil || bytes <= 0 {
		return &Reservation{c: c}, nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrMemoryLimitExceeded, bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(bytes)
	return &Reservation{c: c, bytes: bytes}, nil
}

func (c *Controller) releaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireBuild blocks until a build slot is free or ctx is done.
func (c *Controller) AcquireBuild(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.buildSem.Acquire(ctx, 1)
}

// ReleaseBuild frees a build slot.
func (c *Controller) ReleaseBuild() {
	if c == nil {
		return
	}
	c.buildSem.Release(1)
}

// BuildWorkers returns the build concurrency, or 0 when unbounded.
func (c *Controller) BuildWorkers() int {
	if c == nil {
		return 0
	}
	return int(c.cfg.MaxBuildWorkers)
}

// WaitRead blocks until n bytes may be read.
func (c *Controller) WaitRead(ctx context.Context, n int) error {
	if c == nil || c.readLimiter == nil || n <= 0 {
		return nil
	}
	// WaitN rejects requests above the burst size.
	burst := c.readLimiter.Burst()
	for n > burst {
		if err := c.readLimiter.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	return c.readLimiter.WaitN(ctx, n)
}
