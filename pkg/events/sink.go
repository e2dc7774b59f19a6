// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package events

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Adapter is an abstract event stream receiver.
type Adapter interface {
	HandleEvent(ctx context.Context, event Event) error
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, event Event) error

// HandleEvent implements Adapter.
func (f AdapterFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Sink fans events out to the registered adapters in registration order.
type Sink struct {
	logger *zap.Logger

	mu       sync.Mutex
	adapters []*registration
}

type registration struct {
	adapter Adapter
}

// NewSink creates new events sink.
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{
		logger: logger,
	}
}

// Subscribe registers an adapter. The returned function removes it.
func (s *Sink) Subscribe(a Adapter) (unsubscribe func()) {
	reg := &registration{adapter: a}

	s.mu.Lock()
	s.adapters = append(s.adapters, reg)
	s.mu.Unlock()

	return sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.adapters = slices.DeleteFunc(s.adapters, func(r *registration) bool { return r == reg })
	})
}

// Publish delivers the event to every adapter. Adapter errors are logged and do not
// stop the delivery to the remaining adapters.
func (s *Sink) Publish(ctx context.Context, e Event) {
	s.mu.Lock()
	adapters := slices.Clone(s.adapters)
	s.mu.Unlock()

	s.logger.Debug("publishing event", zap.Stringer("event", e))

	for _, reg := range adapters {
		if err := reg.adapter.HandleEvent(ctx, e); err != nil {
			s.logger.Warn("event adapter failed", zap.Stringer("event", e), zap.Error(err))
		}
	}
}

// Chan returns an adapter which forwards events to ch, blocking until the event is
// accepted or ctx is canceled.
func Chan(ch chan<- Event) Adapter {
	return AdapterFunc(func(ctx context.Context, e Event) error {
		select {
		case ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
