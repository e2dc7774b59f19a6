// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package queue

// NewRing creates a new ring buffer with the given capacity.
func NewRing[T any](size int) *Ring[T] {
	r := &Ring[T]{}
	r.Init(size)

	return r
}

// Ring is a fixed-capacity FIFO which drops the oldest element when written while full.
//
// Ring is not safe for concurrent use.
type Ring[T any] struct {
	data []T
	head int
	n    int
}

// Write appends data, overwriting the oldest element if the ring is full.
func (r *Ring[T]) Write(data T) {
	r.data[(r.head+r.n)%len(r.data)] = data

	if r.n == len(r.data) {
		r.head = (r.head + 1) % len(r.data)

		return
	}

	r.n++
}

// Read removes and returns the oldest element, or false if the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	var zero T

	if r.n == 0 {
		return zero, false
	}

	data := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.n--

	return data, true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.n
}

// IsFull reports whether the next Write drops an element.
func (r *Ring[T]) IsFull() bool {
	return r.n == len(r.data)
}

// Init allocates the buffer. It panics on a non-positive size or a second call.
func (r *Ring[T]) Init(size int) {
	if size <= 0 {
		panic("ring: size must be positive")
	}

	if r.data != nil {
		panic("ring: already initialized")
	}

	r.data = make([]T, size)
}
