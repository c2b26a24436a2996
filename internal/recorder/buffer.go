package recorder

import "sync"

// Buffer is a thread-safe ring buffer that doubles its capacity when full.
// It decouples the update intake from database flushes: pushes never block.
type Buffer[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	tail   int
	count  int
	closed bool

	pushed int64
	popped int64
	grows  int
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer[T any](initial int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	return &Buffer[T]{buf: make([]T, initial)}
}

// Push adds an item, growing the buffer if it is full.
// Returns false if the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.buf) {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.pushed++
	return true
}

// TryPop removes and returns the oldest item without blocking.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.buf[b.head]
	b.buf[b.head] = zero
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	b.popped++
	return item, true
}

// Drain removes up to max items in FIFO order. max <= 0 drains everything.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
		b.count--
		b.popped++
	}
	return out
}

// Close marks the buffer closed. Pushes are rejected afterwards; remaining
// items stay drainable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// grow doubles capacity and unwraps the ring. Caller holds the lock.
func (b *Buffer[T]) grow() {
	next := make([]T, len(b.buf)*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.buf[b.head:b.tail])
		} else {
			n := copy(next, b.buf[b.head:])
			copy(next[n:], b.buf[:b.tail])
		}
	}
	b.buf = next
	b.head = 0
	b.tail = b.count
	b.grows++
}
