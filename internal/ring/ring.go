// Package ring provides a fixed-capacity, insertion-ordered buffer.
// When full, pushing a new entry evicts the oldest one. Reads return
// entries newest-first.
package ring

import "sync"

// Buffer is a bounded circular buffer safe for concurrent use.
// Capacity enforcement is atomic with insertion: a Push on a full
// buffer drops the oldest entry in the same critical section.
type Buffer[T any] struct {
	mu       sync.Mutex
	entries  []T
	start    int // index of the oldest entry
	count    int
	capacity int
}

// New creates a Buffer holding at most capacity entries.
// Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{
		entries:  make([]T, capacity),
		capacity: capacity,
	}
}

// Push inserts an entry as the newest. If the buffer is full, the
// oldest entry is evicted.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[(b.start+b.count)%b.capacity] = v
	if b.count < b.capacity {
		b.count++
		return
	}
	// Full: the slot we just wrote was the oldest. Advance start so it
	// becomes the newest.
	b.start = (b.start + 1) % b.capacity
}

// Len returns the number of entries currently held.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the configured capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Newest returns up to n entries, newest-first. n <= 0 or n > Len
// returns all entries.
func (b *Buffer[T]) Newest(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.start + b.count - 1 - i + b.capacity) % b.capacity
		out = append(out, b.entries[idx])
	}
	return out
}

// NewestFunc returns up to n entries matching keep, newest-first.
// It scans from newest to oldest and stops once n matches are found.
func (b *Buffer[T]) NewestFunc(n int, keep func(T) bool) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]T, 0, n)
	for i := 0; i < b.count && len(out) < n; i++ {
		idx := (b.start + b.count - 1 - i + b.capacity) % b.capacity
		if keep(b.entries[idx]) {
			out = append(out, b.entries[idx])
		}
	}
	return out
}
