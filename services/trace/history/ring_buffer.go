// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history provides bounded in-memory histories used by the entity
// store to answer "how often did this identity change recently" without
// keeping an unbounded list per identity.
package history

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 256

// RingBuffer is a fixed-size circular buffer.
//
// # Description
//
// Provides O(1) push and bounded memory usage. When full, the oldest item
// is overwritten.
//
// # Thread Safety
//
// NOT safe for concurrent use; caller must synchronize.
type RingBuffer[T any] struct {
	data  []T
	head  int // next write position
	tail  int // oldest element position
	count int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
//
// # Inputs
//
//   - capacity: Maximum number of elements to store. Non-positive values
//     fall back to DefaultCapacity.
//
// # Outputs
//
//   - *RingBuffer[T]: Ready-to-use buffer.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
	}
}

// Push adds an item, overwriting the oldest one when the buffer is full.
func (r *RingBuffer[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)

	if r.count == len(r.data) {
		r.tail = (r.tail + 1) % len(r.data)
		return
	}
	r.count++
}

// At returns the i-th item counting from the oldest (0) to the newest
// (Len()-1). Panics when i is out of range, like a slice index.
func (r *RingBuffer[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("history: ring buffer index out of range")
	}
	return r.data[(r.tail+i)%len(r.data)]
}

// Slice returns all items from oldest to newest as a copy.
func (r *RingBuffer[T]) Slice() []T {
	if r.count == 0 {
		return nil
	}

	result := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		result[i] = r.data[(r.tail+i)%len(r.data)]
	}
	return result
}

// Len returns the current number of elements.
func (r *RingBuffer[T]) Len() int {
	return r.count
}

// Cap returns the maximum capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// IsFull returns true if the buffer is at capacity.
func (r *RingBuffer[T]) IsFull() bool {
	return r.count == len(r.data)
}

// ForEach calls fn for each item from oldest to newest. Returning false
// stops the iteration.
func (r *RingBuffer[T]) ForEach(fn func(item T) bool) {
	for i := 0; i < r.count; i++ {
		if !fn(r.data[(r.tail+i)%len(r.data)]) {
			return
		}
	}
}
