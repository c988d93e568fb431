package debug

import (
	"context"
	"sync"
)

// task is a unit of work run on the service goroutine.
type task func(ctx context.Context)

// taskQueue is an unbounded FIFO. Push never blocks, so the session's
// receive goroutine can hand events over while the service goroutine is
// waiting on a reply from that same session.
type taskQueue struct {
	mu    sync.Mutex
	tasks []task
	wake  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

func (q *taskQueue) push(t task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

func (q *taskQueue) drop() {
	q.mu.Lock()
	q.tasks = nil
	q.mu.Unlock()
}

// run executes tasks in order until ctx is done.
func (q *taskQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drop()
			return
		case <-q.wake:
		}
		for t := q.pop(); t != nil; t = q.pop() {
			if ctx.Err() != nil {
				q.drop()
				return
			}
			t(ctx)
		}
	}
}

// do runs fn on the service goroutine and waits for it. Adapter events that
// arrive while fn waits on a reply are applied after fn returns, so they
// see the model fn left behind.
func (s *Service) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	s.queue.push(func(context.Context) {
		defer close(done)
		fn(ctx)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-done:
			return nil
		default:
			return ErrDisposed
		}
	}
}
