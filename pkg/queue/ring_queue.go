// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package queue

import (
	"context"
	"sync"
)

// NewRingQueue creates a new ring queue with the given capacity.
func NewRingQueue[T any](size int) *RingQueue[T] {
	q := &RingQueue[T]{
		notify: make(chan struct{}, 1),
	}

	q.r.Init(size)

	return q
}

// RingQueue is a Ring safe for concurrent use with a blocking Pop.
//
// Push never blocks: when the queue is full the oldest value is dropped, so a slow
// consumer only ever sees the most recent values.
type RingQueue[T any] struct {
	notify chan struct{}
	mu     sync.Mutex
	r      Ring[T]
}

// Push appends v, dropping the oldest value if the queue is full.
func (q *RingQueue[T]) Push(v T) {
	q.mu.Lock()
	q.r.Write(v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest value. It blocks while the queue is empty, until the context is canceled.
func (q *RingQueue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		v, ok := q.r.Read()
		q.mu.Unlock()

		if ok {
			return v, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return *new(T), ctx.Err()
		}
	}
}

// Len returns the number of buffered values.
func (q *RingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.r.Len()
}
