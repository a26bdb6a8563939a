package buffer

import (
	"fmt"
	"iter"
	"sync"
)

// Ring is a thread-safe FIFO of fixed capacity. Writes never block: when the
// ring is full the oldest elements are overwritten.
//
// head and tail are monotonic positions; the live elements are the positions
// in [head, tail), stored at position % capacity.
type Ring[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a Ring holding at most size elements. It panics if size is
// not positive.
func RingN[T any](size int) *Ring[T] {
	if size <= 0 {
		panic(fmt.Sprintf("buffer: invalid ring size %d", size))
	}
	return &Ring[T]{buf: make([]T, size)}
}

// Add appends v. If the ring was full, the evicted oldest element is returned
// with evicted set.
func (r *Ring[T]) Add(v T) (old T, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := int64(len(r.buf))
	if r.tail-r.head == size {
		old = r.buf[r.head%size]
		evicted = true
		r.head++
	}
	r.buf[r.tail%size] = v
	r.tail++
	return old, evicted
}

// Write appends all of p, overwriting the oldest elements as needed. Only
// the last Cap() elements of p can survive a single call.
func (r *Ring[T]) Write(p []T) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(p)
	size := int64(len(r.buf))
	if int64(len(p)) > size {
		// Everything before the last size elements would be evicted by this
		// same call, so skip it and account for the positions.
		skip := int64(len(p)) - size
		p = p[skip:]
		r.tail += skip
		r.head = r.tail
	}
	for len(p) > 0 {
		off := int(r.tail % size)
		c := copy(r.buf[off:], p)
		p = p[c:]
		r.tail += int64(c)
	}
	if r.tail-r.head > size {
		r.head = r.tail - size
	}
	return n, nil
}

// Items returns a copy of the live elements, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(int(r.tail - r.head))
}

// Last returns a copy of the newest n elements, oldest first. It returns
// fewer when the ring holds fewer.
func (r *Ring[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(n)
}

func (r *Ring[T]) lastLocked(n int) []T {
	n = min(n, int(r.tail-r.head))
	if n <= 0 {
		return nil
	}
	size := int64(len(r.buf))
	out := make([]T, n)
	start := r.tail - int64(n)
	for i := range out {
		out[i] = r.buf[(start+int64(i))%size]
	}
	return out
}

// All iterates over a snapshot of the live elements, oldest first.
func (r *Ring[T]) All() iter.Seq2[int, T] {
	items := r.Items()
	return func(yield func(int, T) bool) {
		for i, v := range items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Len returns the number of live elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Reset discards every element.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head = 0
	r.tail = 0
}
