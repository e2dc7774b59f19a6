// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package queue provides the work queue that serializes tunnel operations and
// the ring queue that buffers network path updates.
package queue

import "context"

// New creates a new work queue with the given capacity.
func New[T any](size int) Queue[T] {
	return Queue[T]{
		ch: make(chan T, size),
	}
}

// Queue is a bounded FIFO safe for concurrent use.
type Queue[T any] struct {
	ch chan T
}

// Push appends v. It blocks while the queue is full, until the context is canceled.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest value. It blocks while the queue is empty, until the context is canceled.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// Serve pops values one at a time and hands them to fn until the context is canceled.
//
// fn runs on the calling goroutine, so values are processed strictly in order.
func (q *Queue[T]) Serve(ctx context.Context, fn func(T)) error {
	for {
		v, err := q.Pop(ctx)
		if err != nil {
			return err
		}

		fn(v)
	}
}
