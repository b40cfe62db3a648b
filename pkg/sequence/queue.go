package sequence

// Queue is an unbounded FIFO backed by a growable ring buffer. It is not safe
// for concurrent use; callers provide their own locking.
type Queue[T any] struct {
	items []T
	head  int
	size  int
}

// NewQueue creates a queue with room for capacity items before growing.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Enqueue appends value at the tail.
func (q *Queue[T]) Enqueue(value T) {
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = value
	q.size++
}

// Dequeue removes and returns the head.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	value := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return value, true
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// DequeueN removes up to n items from the head, in order.
func (q *Queue[T]) DequeueN(n int) []T {
	if n > q.size {
		n = q.size
	}
	out := make([]T, 0, n)
	for range n {
		v, _ := q.Dequeue()
		out = append(out, v)
	}
	return out
}

func (q *Queue[T]) Len() int {
	return q.size
}

func (q *Queue[T]) IsEmpty() bool {
	return q.size == 0
}

func (q *Queue[T]) grow() {
	next := make([]T, len(q.items)*2)
	for i := range q.size {
		next[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = next
	q.head = 0
}
