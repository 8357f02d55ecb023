package connection

import (
	"sync"
)

// Queue is a thread-safe FIFO ring that starts small, doubles its capacity
// when it reaches 70% full, and refuses items beyond a hard limit.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalRefused int64
	resizeCount  int
}

// NewQueue creates a queue holding at most limit items.
func NewQueue[T any](limit int) *Queue[T] {
	if limit < 1 {
		limit = 1
	}
	initial := 16
	if initial > limit {
		initial = limit
	}
	return &Queue[T]{
		buf:      make([]T, initial),
		capacity: initial,
		limit:    limit,
	}
}

// Push appends an item. Returns ErrQueueFull at the limit.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.limit {
		q.totalRefused++
		return ErrQueueFull
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if (q.count+1 >= threshold || q.count == q.capacity) && q.capacity < q.limit {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalPushed++
	return nil
}

// Pop removes the oldest item without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalPopped++
	return item, true
}

// PushFront puts an item back at the head, used when a flush is cut short.
// It ignores the limit so a popped item is never lost.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		q.grow()
	}
	q.head = (q.head - 1 + q.capacity) % q.capacity
	q.buf[q.head] = item
	q.count++
	q.totalPopped--
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:        q.count,
		Capacity:     q.capacity,
		Limit:        q.limit,
		TotalPushed:  q.totalPushed,
		TotalPopped:  q.totalPopped,
		TotalRefused: q.totalRefused,
		ResizeCount:  q.resizeCount,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count        int
	Capacity     int
	Limit        int
	TotalPushed  int64
	TotalPopped  int64
	TotalRefused int64
	ResizeCount  int
}

// grow doubles the capacity. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if newCapacity < q.count+1 {
		newCapacity = q.count + 1
	}
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count % newCapacity
	q.capacity = newCapacity
	q.resizeCount++
}
