// Package pty runs child processes attached to a pseudo-terminal and keeps
// a bounded tail of their output.
package pty

import (
	"sync"
)

// RingBuffer is a thread-safe fixed-size buffer of output lines. Once full,
// each write overwrites the oldest line.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []string
	// next is the slot the next write goes to.
	next int
	size int
	cap  int
}

// NewRingBuffer creates a ring buffer holding up to capacity lines.
// A non-positive capacity defaults to 200.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &RingBuffer{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Write appends a line.
func (rb *RingBuffer) Write(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.next] = line
	rb.next = (rb.next + 1) % rb.cap
	if rb.size < rb.cap {
		rb.size++
	}
}

// Lines returns a copy of the stored lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	return rb.Tail(0)
}

// Tail returns a copy of the newest n lines, oldest first. n <= 0 returns
// everything.
func (rb *RingBuffer) Tail(n int) []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.size {
		n = rb.size
	}
	out := make([]string, n)
	// Index of the oldest line we return.
	start := (rb.next - n + rb.cap) % rb.cap
	for i := 0; i < n; i++ {
		out[i] = rb.lines[(start+i)%rb.cap]
	}
	return out
}

// Size returns the number of stored lines.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of lines.
func (rb *RingBuffer) Capacity() int {
	return rb.cap
}

// Clear drops all lines.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.next = 0
	rb.size = 0
}
