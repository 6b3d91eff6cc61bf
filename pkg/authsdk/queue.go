package authsdk

import (
	"log/slog"
	"sync"
)

// eventQueue runs observer callbacks one at a time, in the order they were
// enqueued, on a single goroutine. Callbacks never run under Auth's locks.
type eventQueue struct {
	logger *slog.Logger

	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
	idle   *sync.Cond
	busy   bool
}

func newEventQueue(logger *slog.Logger) *eventQueue {
	q := &eventQueue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.busy = false
			q.idle.Broadcast()
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.busy = true
		q.mu.Unlock()

		q.call(fn)
	}
}

func (q *eventQueue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("observer panicked", "panic", r)
		}
	}()
	fn()
}

// flush blocks until every callback enqueued so far has run.
func (q *eventQueue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.busy {
		q.idle.Wait()
	}
}

// close drops pending callbacks and stops the worker once the running one
// returns.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
