package journal

import "sync"

// queue is a ring buffer that starts small and doubles on demand up to a
// hard limit. Push never blocks: at the limit the item is rejected.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	count  int
	limit  int
	closed bool

	resizes int
}

// queueStats describes the queue at one point in time.
type queueStats struct {
	Count    int
	Capacity int
	Resizes  int
}

// newQueue creates a queue with room for initial items, growing to limit.
func newQueue[T any](initial, limit int) *queue[T] {
	if limit < 1 {
		limit = 1
	}
	if initial < 1 || initial > limit {
		initial = limit
	}
	q := &queue[T]{
		buf:   make([]T, initial),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false when the queue is full or closed.
func (q *queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		if len(q.buf) >= q.limit {
			return false
		}
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. After Close
// it returns the remaining items, then false.
func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// Drain removes and returns every queued item.
func (q *queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	out := make([]T, 0, q.count)
	for q.count > 0 {
		out = append(out, q.take())
	}
	return out
}

// Close rejects further pushes and wakes blocked Pop calls.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current capacity.
func (q *queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats returns queue statistics.
func (q *queue[T]) Stats() queueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queueStats{Count: q.count, Capacity: len(q.buf), Resizes: q.resizes}
}

// take pops the head. Must be called with the lock held and count > 0.
func (q *queue[T]) take() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Release for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

// grow doubles the capacity, capped at limit. Must be called with the lock
// held.
func (q *queue[T]) grow() {
	size := min(len(q.buf)*2, q.limit)
	buf := make([]T, size)

	// Unwrap: [head...end) + [0...tail)
	n := copy(buf, q.buf[q.head:])
	if n < q.count {
		copy(buf[n:], q.buf[:q.count-n])
	}

	q.buf = buf
	q.head = 0
	q.resizes++
}
