package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/tessera-ai/tessera/internal/log"
)

// Dispatcher polls the queue and fans claimed jobs out over a bounded worker
// pool. Multiple dispatchers (goroutines or processes) can run against the
// same database; the claim query guarantees each job is taken once.
type Dispatcher struct {
	queue    *Queue
	pool     *ants.Pool
	interval time.Duration
	logger   log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher builds a dispatcher with the given worker pool size and poll
// interval.
func NewDispatcher(queue *Queue, workers int, interval time.Duration, logger log.Logger) (*Dispatcher, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("dispatcher workers must be positive, got %d", workers)
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Dispatcher{
		queue:    queue,
		pool:     pool,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start launches the poll loop. It returns immediately; call Stop to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx)
	d.logger.Info("dispatcher started", "workers", d.pool.Cap(), "poll_interval", d.interval)
}

// reapInterval is how often the loop sweeps for jobs stranded in dispatched
// by a crashed dispatcher.
const reapInterval = time.Minute

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	reaper := time.NewTicker(reapInterval)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.kick(ctx)
		case <-reaper.C:
			n, err := d.queue.ReclaimStale(ctx)
			if err != nil {
				d.logger.Error("stale job sweep failed", "error", err)
			} else if n > 0 {
				d.kick(ctx)
			}
		}
	}
}

// kick hands one drain task to every idle worker. Each task claims and
// processes jobs until the queue runs dry, so a burst of submissions is
// drained without waiting for the next tick.
func (d *Dispatcher) kick(ctx context.Context) {
	for i := d.pool.Free(); i > 0; i-- {
		err := d.pool.Submit(func() { d.drain(ctx) })
		if err != nil {
			if !errors.Is(err, ants.ErrPoolOverload) {
				d.logger.Warn("submit to worker pool failed", "error", err)
			}
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := d.queue.DispatchNext(ctx)
		if err != nil {
			d.logger.Error("dispatch failed", "error", err)
			return
		}
		if !claimed {
			return
		}
	}
}

// Stop halts polling, waits for in-flight jobs to finish, and releases the
// pool. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	// Let running tasks observe cancellation before releasing.
	deadline := time.Now().Add(10 * time.Second)
	for d.pool.Running() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	d.pool.Release()
	d.logger.Info("dispatcher stopped")
}
