// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used where change notifications are unavailable.
const DefaultPollInterval = 5 * time.Second

// Monitor reports path changes to a handler.
//
// A Monitor is started once and cancelled once, like the tunnel it serves.
type Monitor struct {
	logger   *zap.Logger
	exclude  []string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor ignoring the excluded interfaces.
func NewMonitor(logger *zap.Logger, exclude ...string) *Monitor {
	return &Monitor{
		logger:   logger,
		exclude:  exclude,
		interval: DefaultPollInterval,
	}
}

// Start begins watching; handler is called with the initial path and on every change.
//
// The handler is called from a single goroutine.
func (m *Monitor) Start(handler func(Path)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	changes := subscribe(ctx, m.interval, m.logger)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		m.run(ctx, changes, handler)
	}()
}

// Cancel stops watching and waits for the handler to return.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, changes <-chan struct{}, handler func(Path)) {
	var last *Path

	report := func() {
		p, err := Snapshot(ctx, m.exclude)
		if err != nil {
			m.logger.Warn("failed to read network path", zap.Error(err))

			return
		}

		if last != nil && last.Equal(p) {
			return
		}

		last = &p

		m.logger.Debug("network path changed", zap.Stringer("path", p))

		handler(p)
	}

	report()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}

			report()
		}
	}
}

func poll(ctx context.Context, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notify(ch)
			}
		}
	}()

	return ch
}

func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
