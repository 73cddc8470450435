// Package tasks runs fire-and-forget work off the request path.
package tasks

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/gateway/metrics"
	"github.com/panjf2000/ants/v2"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Executor queues detached tasks and runs them on a bounded worker pool.
// Each task gets its own context and a recover boundary, so a failing task
// never reaches the request that scheduled it.
type Executor struct {
	pool    *ants.Pool
	queue   chan task
	timeout time.Duration
	wg      sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates an executor with size workers and room for queueSize waiting
// tasks. timeout bounds every task.
func New(size, queueSize int, timeout time.Duration) (*Executor, error) {
	if queueSize <= 0 {
		return nil, fmt.Errorf("task queue size must be positive, got %d", queueSize)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	e := &Executor{
		pool:    pool,
		queue:   make(chan task, queueSize),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go e.dispatch()
	return e, nil
}

// dispatch moves queued tasks onto the pool. Submit blocks while every
// worker is busy, so tasks wait in the queue rather than being lost.
func (e *Executor) dispatch() {
	defer close(e.done)
	for t := range e.queue {
		t := t
		if err := e.pool.Submit(func() { e.run(t) }); err != nil {
			e.wg.Done()
			metrics.DroppedTask()
			log.Printf("task %s: dropped: %v", t.name, err)
		}
	}
}

func (e *Executor) run(t task) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("task %s: panic: %v\n%s", t.name, r, debug.Stack())
		}
	}()

	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := t.fn(ctx); err != nil {
		log.Printf("task %s: %v", t.name, err)
	}
}

// Go schedules fn without blocking the caller. The task is dropped only
// when the queue is full or the executor is closed.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		metrics.DroppedTask()
		log.Printf("task %s: dropped: executor closed", name)
		return
	}

	e.wg.Add(1)
	select {
	case e.queue <- task{name: name, fn: fn}:
	default:
		e.wg.Done()
		metrics.DroppedTask()
		log.Printf("task %s: dropped: queue full", name)
	}
}

// Flush waits until every task scheduled so far has finished.
func (e *Executor) Flush() {
	e.wg.Wait()
}

// Close stops accepting tasks, runs everything already queued and releases
// the pool.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	e.Flush()
	e.pool.Release()
	return nil
}
