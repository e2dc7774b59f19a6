// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wait provides a one-shot value for waiting on completion callbacks.
package wait

import (
	"context"
	"sync"
	"time"
)

// Value is set at most once and can be awaited by any number of goroutines.
//
// The zero value is ready to use.
//
//nolint:govet
type Value[T any] struct {
	once  sync.Once
	mx    sync.Mutex
	set   chan struct{}
	value T
}

func (wv *Value[T]) ch() chan struct{} {
	wv.once.Do(func() { wv.set = make(chan struct{}) })

	return wv.set
}

// Set stores the value and unblocks waiters. Only the first call has any effect;
// it reports whether this call was the one.
func (wv *Value[T]) Set(value T) bool {
	ch := wv.ch()

	wv.mx.Lock()
	defer wv.mx.Unlock()

	select {
	case <-ch:
		return false
	default:
	}

	wv.value = value
	close(ch)

	return true
}

// Get waits for the value. It returns an error if the context is canceled first.
func (wv *Value[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		return *new(T), ctx.Err()
	case <-wv.ch():
	}

	wv.mx.Lock()
	defer wv.mx.Unlock()

	return wv.value, nil
}

// GetWithin waits at most d for the value; ok is false on timeout.
func (wv *Value[T]) GetWithin(ctx context.Context, d time.Duration) (value T, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	value, err := wv.Get(ctx)

	return value, err == nil
}

// TryGet returns the value if it is set.
func (wv *Value[T]) TryGet() (T, bool) {
	select {
	case <-wv.ch():
	default:
		return *new(T), false
	}

	wv.mx.Lock()
	defer wv.mx.Unlock()

	return wv.value, true
}
