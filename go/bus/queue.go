package bus

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrAborted is returned by blocking reads woken by shutdown.
	ErrAborted = errors.New("blocking read aborted")
	ErrTimeout = errors.New("blocking read timed out")
)

// Queue is an unbounded FIFO whose readers may block until enough items
// arrive. Waiters are woken by Push, by Close, and by their context.
type Queue[T any] struct {
	// Timeout bounds blocking reads when non-zero.
	Timeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Close wakes every blocked reader with ErrAborted.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Read returns up to n items. With block set it waits until n items are
// queued, the queue is closed, or ctx is done.
func (q *Queue[T]) Read(ctx context.Context, n int, block bool) ([]T, error) {
	if n < 0 {
		return nil, errors.Errorf("negative read size %d", n)
	}
	if block {
		if q.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.Timeout)
			defer cancel()
		}
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for block && len(q.items) < n {
		if q.closed {
			return nil, ErrAborted
		}
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ErrAborted
		}
		q.cond.Wait()
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]T, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out, nil
}

// Pop blocks for a single item.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	items, err := q.Read(ctx, 1, true)
	if err != nil {
		return zero, err
	}
	return items[0], nil
}

// Mailbox holds the most recent value delivered to it.
type Mailbox[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	val   T
	seq   uint64
	valid bool
}

func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	m.val, m.valid = v, true
	m.seq++
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Get returns the current value, if any has been put.
func (m *Mailbox[T]) Get() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.val, m.valid
}

// Wait blocks until a value newer than seq arrives and returns it with its
// sequence number. Pass 0 to accept any value.
func (m *Mailbox[T]) Wait(ctx context.Context, seq uint64) (T, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.seq <= seq {
		if ctx.Err() != nil {
			var zero T
			return zero, m.seq, ErrAborted
		}
		m.cond.Wait()
	}
	return m.val, m.seq, nil
}
