// Package queue serializes mutating document operations into a single FIFO
// stream so that at most one mutation is in flight at any time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned for operations enqueued after Close.
var ErrClosed = errors.New("operation queue closed")

// Operation is one mutating unit of work. Its error is reported to the
// submitting caller only and never stops the queue.
type Operation func(ctx context.Context) (interface{}, error)

type outcome struct {
	value interface{}
	err   error
}

type task struct {
	ctx    context.Context
	name   string
	fn     Operation
	result chan outcome
}

// Queue runs operations strictly in submission order on a single worker.
type Queue struct {
	tasks  chan *task
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// New creates a queue with the given backlog size and starts its worker.
func New(size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		tasks:  make(chan *task, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			// Drain the backlog so blocked callers are released.
			for {
				select {
				case t := <-q.tasks:
					t.result <- outcome{err: ErrClosed}
				default:
					return
				}
			}
		case t := <-q.tasks:
			q.execute(t)
		}
	}
}

// execute runs one task, isolating panics so a faulty operation cannot
// poison subsequent entries.
func (q *Queue) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("operation panicked",
				zap.String("operation", t.name), zap.Any("panic", r))
			t.result <- outcome{err: fmt.Errorf("operation %s panicked: %v", t.name, r)}
		}
	}()

	if err := t.ctx.Err(); err != nil {
		t.result <- outcome{err: err}
		return
	}
	value, err := t.fn(t.ctx)
	t.result <- outcome{value: value, err: err}
}

// Enqueue submits an operation and blocks until it has run. Operations run
// strictly in submission order.
func (q *Queue) Enqueue(ctx context.Context, name string, fn Operation) (interface{}, error) {
	t := &task{ctx: ctx, name: name, fn: fn, result: make(chan outcome, 1)}

	// The send happens under the lock so it cannot race Close: a task is
	// either in the channel before done closes, and the worker's drain
	// answers it, or rejected here.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	select {
	case q.tasks <- t:
		q.mu.Unlock()
	case <-ctx.Done():
		q.mu.Unlock()
		return nil, ctx.Err()
	}

	out := <-t.result
	return out.value, out.err
}

// Close stops the worker after the in-flight operation finishes. Backlogged
// operations are failed with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()
	if !alreadyClosed {
		close(q.done)
	}
	q.wg.Wait()
}
