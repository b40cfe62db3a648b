// Package mainthread hands callbacks raised on arbitrary goroutines over to a
// single consumer goroutine, which runs them one at a time in FIFO order.
//
// The consumer is whatever loop owns the host's scene state: a render loop
// calling DrainOnce every frame, or Run for hosts without one.
package mainthread

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/pkg/sequence"
)

// Task is a deferred callback.
type Task func()

// TaskQueue is a mutex-guarded FIFO of tasks. Enqueue may be called from any
// goroutine; DrainOnce must only be called from the consumer.
type TaskQueue struct {
	mu    sync.Mutex
	tasks *sequence.Queue[Task]

	bound   atomic.Bool
	running atomic.Bool

	executed atomic.Uint64
	panicked atomic.Uint64

	logger log.Log
}

// NewTaskQueue creates an unbound queue.
func NewTaskQueue(logger log.Log) *TaskQueue {
	if logger == nil {
		logger = log.NewNop()
	}
	return &TaskQueue{
		tasks:  sequence.NewQueue[Task](64),
		logger: logger.With(log.String("component", "mainthread")),
	}
}

// Bind declares that a consumer loop exists and will call DrainOnce.
func (q *TaskQueue) Bind() {
	q.bound.Store(true)
}

// Bound reports whether a consumer has been declared.
func (q *TaskQueue) Bound() bool {
	return q.bound.Load()
}

// Enqueue appends task to the queue.
func (q *TaskQueue) Enqueue(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if !q.bound.Load() {
		q.logger.Error("Task queued without a consumer; bind the queue before use")
		return ErrNoConsumer
	}

	q.mu.Lock()
	q.tasks.Enqueue(task)
	q.mu.Unlock()
	return nil
}

// DrainOnce runs every task that was queued when the call began and returns how
// many ran. Tasks queued while draining are left for the next call. A task that
// panics is logged and does not stop the rest.
func (q *TaskQueue) DrainOnce() int {
	q.mu.Lock()
	batch := q.tasks.DequeueN(q.tasks.Len())
	q.mu.Unlock()

	for _, task := range batch {
		q.run(task)
	}
	q.executed.Add(uint64(len(batch)))
	return len(batch)
}

// Run binds the queue and drains it every interval until ctx is done. A final
// drain runs before returning so callbacks already queued are not lost.
func (q *TaskQueue) Run(ctx context.Context, interval time.Duration) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrConsumerBound
	}
	defer q.running.Store(false)
	q.Bind()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.DrainOnce()
			return nil
		case <-ticker.C:
			q.DrainOnce()
		}
	}
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Stats returns the number of executed and panicked tasks.
func (q *TaskQueue) Stats() (executed, panicked uint64) {
	return q.executed.Load(), q.panicked.Load()
}

func (q *TaskQueue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.panicked.Add(1)
			q.logger.Error("Task panicked",
				log.String("panic", fmt.Sprint(r)),
				log.String("stack", string(debug.Stack())))
		}
	}()
	task()
}
