// Package concurrency provides the bounded worker pool used for off-path work
package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"execution_client/internal/core"

	"github.com/alitto/pond"
)

// ErrPoolStopped is returned by Submit once Stop has been called
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolConfig sizes a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int // 1 keeps tasks in submission order
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // Submit fails instead of waiting when the queue is full
}

// WorkerPool runs tasks on a fixed set of pond workers, recovering task panics
type WorkerPool struct {
	pool   *pond.WorkerPool
	name   string
	config PoolConfig
	logger core.ILogger
	panics atomic.Uint64

	mu      sync.RWMutex // held across check-and-submit so Stop cannot interleave
	stopped bool
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 256
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}

	wp := &WorkerPool{
		name:   cfg.Name,
		config: cfg,
		logger: logger.WithField("component", "worker_pool").WithField("pool", cfg.Name),
	}
	wp.pool = pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.PanicHandler(func(p interface{}) {
			wp.panics.Add(1)
			wp.logger.Error("Task panicked", "panic", p)
		}),
	)
	return wp
}

// Submit queues a task. In blocking mode a full queue delays Stop until space frees up.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return fmt.Errorf("%s: %w", wp.name, ErrPoolStopped)
	}
	if !wp.config.NonBlocking {
		wp.pool.Submit(task)
		return nil
	}
	if !wp.pool.TrySubmit(task) {
		return fmt.Errorf("%s: queue full (%d tasks)", wp.name, wp.config.MaxCapacity)
	}
	return nil
}

// Backlog is the number of queued tasks not yet started
func (wp *WorkerPool) Backlog() uint64 {
	return wp.pool.WaitingTasks()
}

// Panics counts recovered task panics
func (wp *WorkerPool) Panics() uint64 {
	return wp.panics.Load()
}

// Stop runs every queued task, then releases the workers. Safe to call twice.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	wp.pool.StopAndWait()
}
