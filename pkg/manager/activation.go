// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/events"
	"github.com/siderolabs/tunnelctl/pkg/profilestore"
)

// StartActivation brings the tunnel up. It fails if the tunnel is not inactive or another
// tunnel is operational.
//
// The call returns once the session has started; the session then reports the tunnel
// status through Run.
func (m *Manager) StartActivation(ctx context.Context, t *Tunnel) error {
	return m.startActivation(ctx, t, false)
}

func (m *Manager) startActivation(ctx context.Context, t *Tunnel, resumed bool) error {
	fx := &effects{}

	m.mu.Lock()
	err := m.beginActivation(fx, t, resumed)
	m.mu.Unlock()

	m.apply(ctx, fx)

	if err != nil {
		return err
	}

	return m.activate(ctx, t)
}

// beginActivation marks the tunnel activating. A resumed activation also accepts a
// waiting tunnel.
func (m *Manager) beginActivation(fx *effects, t *Tunnel, resumed bool) error {
	if slices.Index(m.tunnels, t) < 0 {
		return ErrTunnelNotFound
	}

	name := t.profile.Name

	if t.status != events.StatusInactive && (!resumed || t.status != events.StatusWaiting) {
		return &Error{Kind: KindTunnelNotInactive, Tunnel: name}
	}

	if other := m.operational(t); other != nil {
		return &Error{Kind: KindAnotherTunnelOperational, Tunnel: name, Other: other.profile.Name}
	}

	if m.waiting == t {
		m.waiting = nil
	}

	m.activating = t
	t.status = events.StatusActivating

	fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: name, Status: t.status})

	m.cfg.Logger.Info("activating tunnel", zap.String("tunnel", name))

	return nil
}

// activate starts the session, fixing disabled and stale profiles between attempts.
func (m *Manager) activate(ctx context.Context, t *Tunnel) error {
	var lastErr error

	for attempt := range maxActivationAttempts {
		m.mu.Lock()
		p := t.profile.Clone()
		m.mu.Unlock()

		err := m.cfg.Sessions.Start(ctx, p)
		if err == nil {
			return nil
		}

		m.cfg.Logger.Debug("activation attempt failed", zap.String("tunnel", p.Name), zap.Int("attempt", attempt+1), zap.Error(err))

		lastErr = err

		switch {
		case errors.Is(err, ErrConfigurationDisabled):
			p.Enabled = true

			if err = m.cfg.Store.Save(ctx, p); err != nil {
				return m.failActivation(ctx, t, &Error{Kind: KindFailedWhileSaving, Tunnel: p.Name, Err: err})
			}

			m.setProfile(t, p)
		case errors.Is(err, ErrConfigurationStale), errors.Is(err, ErrConfigurationInvalid):
			fresh, err := m.cfg.Store.Reload(ctx, p.ID)
			if err != nil {
				return m.failActivation(ctx, t, &Error{Kind: KindFailedWhileLoading, Tunnel: p.Name, Err: err})
			}

			m.setProfile(t, fresh)
		default:
			return m.failActivation(ctx, t, &Error{Kind: KindFailedWhileStarting, Tunnel: p.Name, Err: err})
		}
	}

	return m.failActivation(ctx, t, &Error{Kind: KindTooManyAttempts, Tunnel: t.Name(), Err: lastErr})
}

func (m *Manager) setProfile(t *Tunnel, p *profilestore.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.profile = p
}

func (m *Manager) failActivation(ctx context.Context, t *Tunnel, err *Error) error {
	fx := &effects{}

	m.mu.Lock()

	if m.activating == t {
		m.activating = nil
	}

	if t.status == events.StatusActivating {
		t.status = events.StatusInactive

		fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: err.Tunnel, Status: t.status})
	}

	fx.publish(events.Event{Kind: events.KindActivationFailed, Tunnel: err.Tunnel, Err: err})

	m.mu.Unlock()

	m.apply(ctx, fx)

	return err
}

// StartDeactivation asks the session of the tunnel to stop. Inactive and deactivating
// tunnels are left alone; a waiting tunnel just stops waiting.
func (m *Manager) StartDeactivation(ctx context.Context, t *Tunnel) {
	fx := &effects{}

	m.mu.Lock()

	switch t.status { //nolint:exhaustive
	case events.StatusInactive, events.StatusDeactivating:
	case events.StatusWaiting:
		t.status = events.StatusInactive
		m.waiting = nil

		fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: t.profile.Name, Status: t.status})
	default:
		fx.stops = append(fx.stops, t.profile.ID)
	}

	m.mu.Unlock()

	m.apply(ctx, fx)
}

// Switch activates the tunnel, first deactivating the operational one if there is any.
//
// While the other tunnel goes down the tunnel is waiting; Run activates it once no tunnel
// is operational anymore.
func (m *Manager) Switch(ctx context.Context, t *Tunnel) error {
	fx := &effects{}

	m.mu.Lock()
	wait, err := m.beginSwitch(fx, t)
	m.mu.Unlock()

	m.apply(ctx, fx)

	if err != nil || wait {
		return err
	}

	return m.StartActivation(ctx, t)
}

func (m *Manager) beginSwitch(fx *effects, t *Tunnel) (bool, error) {
	if slices.Index(m.tunnels, t) < 0 {
		return false, ErrTunnelNotFound
	}

	if t.status != events.StatusInactive {
		return false, &Error{Kind: KindTunnelNotInactive, Tunnel: t.profile.Name}
	}

	if prev := m.waiting; prev != nil {
		prev.status = events.StatusInactive
		m.waiting = nil

		fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: prev.profile.Name, Status: prev.status})
	}

	other := m.operational(t)
	if other == nil {
		return false, nil
	}

	t.status = events.StatusWaiting
	m.waiting = t

	fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: t.profile.Name, Status: t.status})

	if other.status != events.StatusDeactivating {
		fx.stops = append(fx.stops, other.profile.ID)
	}

	return true, nil
}

// Run consumes session status changes until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.cfg.Sessions.Events():
			if !ok {
				return nil
			}

			fx := &effects{}

			m.mu.Lock()
			m.handleSessionEvent(fx, ev)
			m.mu.Unlock()

			m.apply(ctx, fx)
		}
	}
}

func (m *Manager) handleSessionEvent(fx *effects, ev SessionEvent) {
	t := m.findID(ev.ID)
	if t == nil {
		return
	}

	name := t.profile.Name
	status := ev.Status.TunnelStatus()

	m.cfg.Logger.Debug("session status changed", zap.String("tunnel", name), zap.Stringer("session", ev.Status))

	switch t.status { //nolint:exhaustive
	case events.StatusRestarting:
		if status == events.StatusInactive {
			t.status = events.StatusInactive
			fx.activate = t
		}

		return
	case events.StatusWaiting:
		return
	}

	if m.activating == t {
		switch status { //nolint:exhaustive
		case events.StatusActive:
			m.activating = nil

			fx.publish(events.Event{Kind: events.KindActivationSucceeded, Tunnel: name})
		case events.StatusInactive:
			m.activating = nil
			fx.checkReachability = t
		}
	}

	if t.status != status {
		t.status = status

		fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: name, Status: status})
	}

	if status == events.StatusInactive && m.waiting != nil && m.operational(m.waiting) == nil {
		fx.activate = m.waiting
	}
}
