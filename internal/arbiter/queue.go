package arbiter

import (
	"fmt"
	"sync"
)

// Queue is a FIFO lock. Tasks run one at a time in submission order; a task
// that fails or panics releases the lock like any other.
//
// There is no timeout at this layer: tasks bound their own duration.
type Queue struct {
	mu      sync.Mutex
	tail    chan struct{}
	locked  bool
	waiting int
}

// NewQueue returns an idle queue.
func NewQueue() *Queue { return &Queue{} }

// Do runs task with exclusive ownership and returns its error.
func (q *Queue) Do(task func() error) error {
	_, err := Run(q, func() (struct{}, error) {
		return struct{}{}, task()
	})
	return err
}

// Run runs task with exclusive ownership of q and returns its result. Admission
// order equals call order.
func Run[T any](q *Queue, task func() (T, error)) (res T, err error) {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.waiting++
	q.mu.Unlock()

	if prev != nil {
		<-prev
	}

	q.mu.Lock()
	q.waiting--
	q.locked = true
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			res, err = zero, taskPanicError{value: r}
		}
		q.mu.Lock()
		q.locked = false
		q.mu.Unlock()
		close(done)
	}()
	return task()
}

// Locked reports whether a task is currently running.
func (q *Queue) Locked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.locked
}

// Waiting reports how many tasks are queued behind the current holder.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

type taskPanicError struct{ value any }

func (e taskPanicError) Error() string { return fmt.Sprintf("queued task panicked: %v", e.value) }
