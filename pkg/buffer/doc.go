// Package buffer provides a thread-safe fixed-capacity ring.
//
// A Ring keeps the most recent elements written to it. When a write would
// exceed the capacity, the oldest elements are evicted first. It backs the
// per-cluster embedding FIFO and the reference engine's audio history.
//
// Example usage:
//
//	r := buffer.RingN[[]float32](5)
//	if old, evicted := r.Add(embedding); evicted {
//	    log.Printf("dropped %d-dim embedding", len(old))
//	}
//	for _, e := range r.Items() {
//	    // oldest first
//	}
package buffer
