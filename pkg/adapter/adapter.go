// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package adapter drives a tunnel backend: it resolves peers, applies host network
// settings, configures the backend and follows network path changes.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/internal/wait"
	"github.com/siderolabs/tunnelctl/pkg/netmon"
	"github.com/siderolabs/tunnelctl/pkg/queue"
	"github.com/siderolabs/tunnelctl/pkg/resolver"
	"github.com/siderolabs/tunnelctl/pkg/settings"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

// DefaultSettingsTimeout bounds the wait for the host to apply network settings.
const DefaultSettingsTimeout = 5 * time.Second

// State is the adapter state.
type State int

// Adapter states.
const (
	StateStopped State = iota
	StateStarted
	StateTemporarySuspended
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateTemporarySuspended:
		return "temporary suspended"
	}

	return "unknown"
}

// Config configures an Adapter.
//
//nolint:govet
type Config struct {
	Backend        Backend            // Backend runs the tunnel.
	Provider       Provider           // Provider supplies the packet device and applies network settings.
	NewPathMonitor func() PathMonitor // NewPathMonitor creates a monitor on every start.
	Resolver       *resolver.Resolver // Resolver resolves peer endpoints.
	Platform       settings.Platform  // Platform selects MTU, IPv6 clamp and roaming behaviour.
	Logger         *zap.Logger

	// SettingsTimeout overrides DefaultSettingsTimeout.
	SettingsTimeout time.Duration
}

// Adapter runs one tunnel.
//
// All operations are serialized on a single goroutine; callers may use it concurrently.
type Adapter struct {
	cfg Config

	work  queue.Queue[func()]
	paths *queue.RingQueue[netmon.Path]

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// owned by the worker goroutine
	handle    int32
	generator *settings.Generator
	monitor   PathMonitor
	lastPath  *netmon.Path

	mu            sync.Mutex
	state         State
	interfaceName string
}

// New creates an Adapter and starts its worker goroutine. Call Close to release it.
func New(cfg Config) *Adapter {
	if cfg.SettingsTimeout == 0 {
		cfg.SettingsTimeout = DefaultSettingsTimeout
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Resolver == nil {
		cfg.Resolver = resolver.New(nil, cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		cfg:    cfg,
		work:   queue.New[func()](16),
		paths:  queue.NewRingQueue[netmon.Path](1),
		ctx:    ctx,
		cancel: cancel,
	}

	cfg.Backend.SetLogger(func(level LogLevel, msg string) {
		if level == LogLevelError {
			a.cfg.Logger.Error(msg)
		} else {
			a.cfg.Logger.Debug(msg)
		}
	})

	a.wg.Add(2)

	go func() {
		defer a.wg.Done()

		a.work.Serve(ctx, func(job func()) { job() }) //nolint:errcheck
	}()

	go func() {
		defer a.wg.Done()

		a.pumpPaths(ctx)
	}()

	return a
}

// Close stops the tunnel if it is running and releases the worker goroutines.
func (a *Adapter) Close() {
	if a.State() != StateStopped {
		if err := a.Stop(a.ctx); err != nil {
			a.cfg.Logger.Warn("failed to stop adapter on close", zap.Error(err))
		}
	}

	a.cancel()
	a.wg.Wait()
}

// State returns the current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// InterfaceName returns the name of the packet device while the tunnel runs.
func (a *Adapter) InterfaceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.interfaceName
}

func (a *Adapter) setState(state State, generator *settings.Generator) {
	a.generator = generator

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// do runs fn on the worker goroutine and waits for its result.
//
// Once fn has been picked up, do waits for it to finish even if ctx is canceled,
// so the returned error always matches the adapter state; fn observes ctx itself.
func (a *Adapter) do(ctx context.Context, fn func() error) error {
	if a.ctx.Err() != nil {
		return ErrClosed
	}

	var claimed atomic.Bool

	errCh := make(chan error, 1)

	job := func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}

		if err := ctx.Err(); err != nil {
			errCh <- err

			return
		}

		errCh <- fn()
	}

	if err := a.work.Push(ctx, job); err != nil {
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-a.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-a.ctx.Done():
		return ErrClosed
	}
}

// Start brings the tunnel up. It is valid only when stopped.
func (a *Adapter) Start(ctx context.Context, tunnel *wgconfig.Tunnel) error {
	return a.do(ctx, func() error {
		if a.state != StateStopped {
			return &Error{Kind: KindInvalidState}
		}

		monitor := a.cfg.NewPathMonitor()
		monitor.Start(a.paths.Push)

		handle, generator, err := a.start(ctx, tunnel)
		if err != nil {
			monitor.Cancel()

			return err
		}

		a.monitor = monitor
		a.handle = handle
		a.setState(StateStarted, generator)

		a.cfg.Logger.Info("tunnel started", zap.String("tunnel", tunnel.Name), zap.String("interface", a.InterfaceName()))

		return nil
	})
}

func (a *Adapter) start(ctx context.Context, tunnel *wgconfig.Tunnel) (int32, *settings.Generator, error) {
	generator, err := a.makeGenerator(ctx, tunnel)
	if err != nil {
		return 0, nil, err
	}

	if err = a.applyNetworkSettings(ctx, generator.NetworkSettings()); err != nil {
		return 0, nil, err
	}

	if err = ctx.Err(); err != nil {
		return 0, nil, err
	}

	handle, err := a.startBackend(generator)
	if err != nil {
		return 0, nil, err
	}

	return handle, generator, nil
}

// Stop tears the tunnel down. It is valid when started or suspended.
func (a *Adapter) Stop(ctx context.Context) error {
	return a.do(ctx, func() error {
		switch a.state {
		case StateStopped:
			return &Error{Kind: KindInvalidState}
		case StateStarted:
			a.cfg.Backend.TurnOff(a.handle)
		case StateTemporarySuspended:
		}

		if a.monitor != nil {
			a.monitor.Cancel()
			a.monitor = nil
		}

		a.lastPath = nil
		a.setState(StateStopped, nil)

		a.cfg.Logger.Info("tunnel stopped")

		return nil
	})
}

// Update applies a new configuration to a started or suspended tunnel.
//
// A suspended tunnel only keeps the new settings for when it resumes.
func (a *Adapter) Update(ctx context.Context, tunnel *wgconfig.Tunnel) error {
	return a.do(ctx, func() error {
		if a.state == StateStopped {
			return &Error{Kind: KindInvalidState}
		}

		a.cfg.Provider.SetReasserting(true)
		defer a.cfg.Provider.SetReasserting(false)

		generator, err := a.makeGenerator(ctx, tunnel)
		if err != nil {
			return err
		}

		if err = a.applyNetworkSettings(ctx, generator.NetworkSettings()); err != nil {
			return err
		}

		switch a.state {
		case StateStarted:
			uapi, err := generator.UAPIConfiguration()
			if err != nil {
				return fmt.Errorf("error generating backend configuration: %w", err)
			}

			a.setConfig(uapi)
			a.setState(StateStarted, generator)
		case StateTemporarySuspended:
			a.setState(StateTemporarySuspended, generator)
		case StateStopped:
		}

		return nil
	})
}

// RuntimeConfiguration reads the configuration and peer statistics from the running backend.
func (a *Adapter) RuntimeConfiguration(ctx context.Context) (*wgconfig.Tunnel, error) {
	var res *wgconfig.Tunnel

	err := a.do(ctx, func() error {
		if a.state != StateStarted {
			return &Error{Kind: KindInvalidState}
		}

		text, ok := a.cfg.Backend.GetConfig(a.handle)
		if !ok {
			return errors.New("backend returned no configuration")
		}

		var err error

		res, err = wgconfig.ParseUAPI(text, a.generator.Tunnel())

		return err
	})

	return res, err
}

func (a *Adapter) makeGenerator(ctx context.Context, tunnel *wgconfig.Tunnel) (*settings.Generator, error) {
	results := a.cfg.Resolver.ResolveBatch(ctx, tunnel.Endpoints())

	if err := resolver.Errors(results); err != nil {
		return nil, &Error{Kind: KindDNSResolution, Err: err}
	}

	return settings.New(tunnel, resolver.Endpoints(results), a.cfg.Platform)
}

func (a *Adapter) applyNetworkSettings(ctx context.Context, ns *settings.NetworkSettings) error {
	var done wait.Value[error]

	a.cfg.Provider.SetNetworkSettings(ns, func(err error) { done.Set(err) })

	err, ok := done.GetWithin(ctx, a.cfg.SettingsTimeout)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		a.cfg.Logger.Error("setting network settings timed out; proceeding anyway", zap.Duration("timeout", a.cfg.SettingsTimeout))

		return nil
	}

	if err != nil {
		return &Error{Kind: KindSetNetworkSettings, Err: err}
	}

	return nil
}

func (a *Adapter) startBackend(generator *settings.Generator) (int32, error) {
	uapi, err := generator.UAPIConfiguration()
	if err != nil {
		return 0, fmt.Errorf("error generating backend configuration: %w", err)
	}

	dev, err := a.cfg.Provider.TunDevice()
	if err != nil {
		return 0, &Error{Kind: KindCannotLocateTunnelDevice, Err: err}
	}

	name, err := dev.Name()
	if err != nil {
		return 0, &Error{Kind: KindCannotLocateTunnelDevice, Err: err}
	}

	handle := a.cfg.Backend.TurnOn(uapi, dev)
	if handle < 0 {
		a.cfg.Logger.Error("backend failed to start", zap.Int32("code", handle))

		return 0, &Error{Kind: KindStartBackend, Code: handle}
	}

	a.mu.Lock()
	a.interfaceName = name
	a.mu.Unlock()

	return handle, nil
}

func (a *Adapter) setConfig(uapi string) {
	if code := a.cfg.Backend.SetConfig(a.handle, uapi); code != 0 {
		a.cfg.Logger.Error("backend rejected configuration", zap.Int64("code", code))
	}
}

func (a *Adapter) pumpPaths(ctx context.Context) {
	for {
		p, err := a.paths.Pop(ctx)
		if err != nil {
			return
		}

		if err = a.work.Push(ctx, func() { a.handlePath(ctx, p) }); err != nil {
			return
		}
	}
}

func (a *Adapter) handlePath(ctx context.Context, p netmon.Path) {
	a.cfg.Logger.Debug("network path update", zap.Stringer("path", p), zap.Stringer("state", a.state))

	changed := a.lastPath == nil || !a.lastPath.Equal(p)
	a.lastPath = &p

	if a.cfg.Platform.TransparentRoaming {
		if a.state == StateStarted {
			a.cfg.Backend.BumpSockets(a.handle)
		}

		return
	}

	switch a.state {
	case StateStarted:
		if !p.Viable() {
			a.cfg.Logger.Info("connectivity offline, pausing backend")

			a.cfg.Backend.TurnOff(a.handle)
			a.setState(StateTemporarySuspended, a.generator)

			return
		}

		if !changed {
			return
		}

		// endpoints resolve again on the new path; the cached ones are kept if that fails
		generator, err := a.makeGenerator(ctx, a.generator.Tunnel())
		if err != nil {
			a.cfg.Logger.Warn("failed to re-resolve endpoints, keeping cached addresses", zap.Error(err))

			generator = a.generator
		}

		uapi, err := generator.EndpointUAPIConfiguration()
		if err != nil {
			a.cfg.Logger.Error("failed to generate endpoint configuration", zap.Error(err))

			return
		}

		a.setConfig(uapi)
		a.setState(StateStarted, generator)
		a.cfg.Backend.BumpSockets(a.handle)
	case StateTemporarySuspended:
		if !p.Viable() {
			return
		}

		a.cfg.Logger.Info("connectivity online, resuming backend")

		handle, generator, err := a.start(ctx, a.generator.Tunnel())
		if err != nil {
			a.cfg.Logger.Error("failed to restart backend", zap.Error(err))

			return
		}

		a.handle = handle
		a.setState(StateStarted, generator)
	case StateStopped:
	}
}
