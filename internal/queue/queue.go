// Package queue provides the bounded hand-off between the acquisition
// goroutine and frame consumers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the number of frames buffered between producer and
// consumer before backpressure applies.
const DefaultCapacity = 3

// ErrClosed is returned by PopContext once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

// Policy decides what Push does when the queue is full.
type Policy int

const (
	// Block waits for a consumer to make room.
	Block Policy = iota
	// DropOldest evicts the head to make room, so the consumer always sees
	// the most recent items.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config value onto a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "block":
		return Block, true
	case "drop-oldest":
		return DropOldest, true
	}
	return Block, false
}

// Option configures a Bounded queue.
type Option[T any] func(*Bounded[T])

// WithPolicy sets the overflow policy.
func WithPolicy[T any](p Policy) Option[T] {
	return func(q *Bounded[T]) { q.policy = p }
}

// WithEvict registers a callback that receives items evicted under
// DropOldest and items discarded by Drain. It runs with the queue lock held
// and must not call back into the queue.
func WithEvict[T any](fn func(T)) Option[T] {
	return func(q *Bounded[T]) { q.onEvict = fn }
}

// Bounded is a fixed-capacity FIFO guarded by one mutex and two condition
// variables. Len never exceeds Cap.
type Bounded[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	head     int
	count    int
	closed   bool
	policy   Policy
	onEvict  func(T)
	evicted  uint64
	accepted uint64

	// Blocked producers take a ticket and push in ticket order.
	nextTicket uint64
	serving    uint64
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, opts ...Option[T]) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Bounded[T]{items: make([]T, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends item at the tail. Under Block it waits while the queue is
// full; producers that had to wait complete in the order they arrived. It
// returns false if the queue is closed, in which case the caller still owns
// item.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	full := q.count == len(q.items)
	switch {
	case q.closed:
		return false
	case full && q.policy == DropOldest:
		q.evictHeadLocked()
	case full || q.nextTicket != q.serving:
		ticket := q.nextTicket
		q.nextTicket++
		for !q.closed && (q.count == len(q.items) || ticket != q.serving) {
			q.notFull.Wait()
		}
		if q.closed {
			return false
		}
		q.serving++
		// The next ticket holder may already have room.
		q.notFull.Broadcast()
	}

	q.items[(q.head+q.count)%len(q.items)] = item
	q.count++
	q.accepted++
	q.notEmpty.Broadcast()
	return true
}

// Pop removes and returns the head, waiting while the queue is empty. The
// second result is false once the queue is closed and drained.
func (q *Bounded[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// PopContext is Pop that gives up when ctx is done.
func (q *Bounded[T]) PopContext(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return zero, ErrClosed
	}
	return q.popLocked(), nil
}

// Close wakes every waiter. Pushes after Close fail; pops drain what is
// left and then fail. Close is idempotent.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Drain removes every queued item, handing each to fn (or to the evict
// callback when fn is nil). It returns the number removed.
func (q *Bounded[T]) Drain(fn func(T)) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fn == nil {
		fn = q.onEvict
	}
	n := 0
	for q.count > 0 {
		item := q.popLocked()
		if fn != nil {
			fn(item)
		}
		n++
	}
	return n
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Counters returns how many items were accepted and how many were evicted
// by the DropOldest policy.
func (q *Bounded[T]) Counters() (accepted, evicted uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accepted, q.evicted
}

func (q *Bounded[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.notFull.Broadcast()
	return item
}

func (q *Bounded[T]) evictHeadLocked() {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.evicted++
	if q.onEvict != nil {
		q.onEvict(item)
	}
}
