// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package manager owns the configured tunnels and keeps at most one of them operational.
package manager

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/events"
	"github.com/siderolabs/tunnelctl/pkg/profilestore"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

const maxActivationAttempts = 8

// ErrTunnelNotFound is returned for tunnels which are no longer managed.
var ErrTunnelNotFound = errors.New("tunnel not found")

// Config configures a Manager.
//
//nolint:govet
type Config struct {
	Store        ProfileStore    // Store persists profiles.
	Credentials  CredentialStore // Credentials keeps the configuration text.
	Sessions     Sessions        // Sessions runs the tunnels.
	Connectivity Connectivity    // Connectivity enriches activation failures, optional.
	Logger       *zap.Logger
}

// OnDemand is the on-demand activation setup of a tunnel.
type OnDemand struct {
	Rules   []profilestore.OnDemandRule
	Enabled bool
}

// Manager owns the name-sorted list of tunnels.
type Manager struct {
	cfg  Config
	sink *events.Sink
	wg   sync.WaitGroup

	mu         sync.Mutex
	tunnels    []*Tunnel
	activating *Tunnel
	waiting    *Tunnel
}

// Tunnel is a managed tunnel.
type Tunnel struct {
	m *Manager

	// guarded by m.mu
	profile *profilestore.Profile
	status  events.Status
}

// Name returns the tunnel name.
func (t *Tunnel) Name() string {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	return t.profile.Name
}

// ID returns the profile ID.
func (t *Tunnel) ID() uuid.UUID {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	return t.profile.ID
}

// Status returns the current status.
func (t *Tunnel) Status() events.Status {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	return t.status
}

// OnDemand returns the on-demand setup.
func (t *Tunnel) OnDemand() OnDemand {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	return OnDemand{
		Enabled: t.profile.OnDemandEnabled,
		Rules:   slices.Clone(t.profile.OnDemandRules),
	}
}

// Config reads and parses the stored configuration.
func (t *Tunnel) Config() (*wgconfig.Tunnel, error) {
	t.m.mu.Lock()
	name, ref := t.profile.Name, t.profile.ConfigRef
	t.m.mu.Unlock()

	blob, err := t.m.cfg.Credentials.Open(ref)
	if err != nil {
		return nil, err
	}

	return wgconfig.Parse(string(blob), name)
}

// effects are applied once the lock is released.
type effects struct {
	checkReachability *Tunnel
	activate          *Tunnel
	events            []events.Event
	stops             []uuid.UUID
}

func (fx *effects) publish(e events.Event) {
	fx.events = append(fx.events, e)
}

// New loads the stored profiles. Profiles whose configuration is missing are skipped.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &Manager{
		cfg:  cfg,
		sink: events.NewSink(cfg.Logger),
	}

	profiles, err := cfg.Store.LoadAll(ctx)
	if err != nil {
		return nil, &Error{Kind: KindSystemErrorOnListingTunnels, Err: err}
	}

	for _, p := range profiles {
		if !cfg.Credentials.Verify(p.ConfigRef) {
			cfg.Logger.Warn("skipping tunnel with missing configuration", zap.String("tunnel", p.Name), zap.String("ref", p.ConfigRef))

			continue
		}

		m.tunnels = append(m.tunnels, &Tunnel{m: m, profile: p})
	}

	m.sort()

	return m, nil
}

// Subscribe registers a listener for list and status changes.
func (m *Manager) Subscribe(a events.Adapter) (unsubscribe func()) {
	return m.sink.Subscribe(a)
}

// Tunnels returns the tunnels sorted by name.
func (m *Manager) Tunnels() []*Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.tunnels)
}

// TunnelNamed returns the tunnel with the given name or nil.
func (m *Manager) TunnelNamed(name string) *Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.find(name)
}

func (m *Manager) find(name string) *Tunnel {
	for _, t := range m.tunnels {
		if t.profile.Name == name {
			return t
		}
	}

	return nil
}

func (m *Manager) findID(id uuid.UUID) *Tunnel {
	for _, t := range m.tunnels {
		if t.profile.ID == id {
			return t
		}
	}

	return nil
}

func (m *Manager) sort() {
	slices.SortStableFunc(m.tunnels, func(a, b *Tunnel) int { return strings.Compare(a.profile.Name, b.profile.Name) })
}

func (m *Manager) operational(except *Tunnel) *Tunnel {
	for _, t := range m.tunnels {
		if t != except && t.status != events.StatusInactive {
			return t
		}
	}

	return nil
}

func (m *Manager) deleteRef(ref string) {
	if err := m.cfg.Credentials.Delete(ref); err != nil {
		m.cfg.Logger.Warn("failed to delete configuration", zap.String("ref", ref), zap.Error(err))
	}
}

func (m *Manager) apply(ctx context.Context, fx *effects) {
	for _, id := range fx.stops {
		m.cfg.Sessions.Stop(id)
	}

	for _, e := range fx.events {
		m.sink.Publish(ctx, e)
	}

	if t := fx.checkReachability; t != nil && m.cfg.Connectivity != nil && !m.cfg.Connectivity.IsReachable(ctx) {
		name := t.Name()

		m.sink.Publish(ctx, events.Event{
			Kind:   events.KindActivationFailed,
			Tunnel: name,
			Err:    &Error{Kind: KindNoInternet, Tunnel: name},
		})
	}

	if t := fx.activate; t != nil {
		m.wg.Add(1)

		go func() {
			defer m.wg.Done()

			if err := m.startActivation(ctx, t, true); err != nil {
				m.cfg.Logger.Warn("activation failed", zap.Error(err))
			}
		}()
	}
}

// Add stores a new tunnel.
func (m *Manager) Add(ctx context.Context, cfg *wgconfig.Tunnel, onDemand OnDemand) (*Tunnel, error) {
	fx := &effects{}

	m.mu.Lock()
	t, err := m.add(ctx, fx, cfg, onDemand)
	m.mu.Unlock()

	m.apply(ctx, fx)

	return t, err
}

func (m *Manager) add(ctx context.Context, fx *effects, cfg *wgconfig.Tunnel, onDemand OnDemand) (*Tunnel, error) {
	name := cfg.Name

	if name == "" {
		return nil, &Error{Kind: KindEmptyName}
	}

	if m.find(name) != nil {
		return nil, &Error{Kind: KindNameAlreadyExists, Tunnel: name}
	}

	ref, err := m.cfg.Credentials.Put(name, []byte(cfg.Serialize()))
	if err != nil {
		return nil, &Error{Kind: KindSystemErrorOnAddTunnel, Tunnel: name, Err: err}
	}

	p := &profilestore.Profile{
		ID:              uuid.New(),
		Name:            name,
		ConfigRef:       ref,
		Enabled:         true,
		OnDemandEnabled: onDemand.Enabled,
		OnDemandRules:   slices.Clone(onDemand.Rules),
	}

	if err = m.cfg.Store.Save(ctx, p); err != nil {
		m.deleteRef(ref)

		return nil, &Error{Kind: KindSystemErrorOnAddTunnel, Tunnel: name, Err: err}
	}

	t := &Tunnel{m: m, profile: p}

	m.tunnels = append(m.tunnels, t)
	m.sort()

	fx.publish(events.Event{Kind: events.KindAdded, Tunnel: name, Index: slices.Index(m.tunnels, t)})

	m.cfg.Logger.Info("tunnel added", zap.String("tunnel", name))

	return t, nil
}

// Modify replaces the configuration and on-demand setup of a tunnel.
//
// A running tunnel whose configuration changed is restarted.
func (m *Manager) Modify(ctx context.Context, t *Tunnel, cfg *wgconfig.Tunnel, onDemand OnDemand) error {
	fx := &effects{}

	m.mu.Lock()
	err := m.modify(ctx, fx, t, cfg, onDemand)
	m.mu.Unlock()

	m.apply(ctx, fx)

	return err
}

func (m *Manager) modify(ctx context.Context, fx *effects, t *Tunnel, cfg *wgconfig.Tunnel, onDemand OnDemand) error {
	fromIndex := slices.Index(m.tunnels, t)
	if fromIndex < 0 {
		return ErrTunnelNotFound
	}

	name := cfg.Name

	if name == "" {
		return &Error{Kind: KindEmptyName}
	}

	if name != t.profile.Name && m.find(name) != nil {
		return &Error{Kind: KindNameAlreadyExists, Tunnel: name}
	}

	text := cfg.Serialize()

	old, err := m.cfg.Credentials.Open(t.profile.ConfigRef)
	if err != nil {
		m.cfg.Logger.Warn("failed to read previous configuration", zap.String("tunnel", t.profile.Name), zap.Error(err))
	}

	changed := err != nil || string(old) != text

	ref, err := m.cfg.Credentials.Put(name, []byte(text))
	if err != nil {
		return &Error{Kind: KindSystemErrorOnModifyTunnel, Tunnel: name, Err: err}
	}

	p := t.profile.Clone()
	p.Name = name
	p.ConfigRef = ref
	p.Enabled = true
	p.OnDemandEnabled = onDemand.Enabled
	p.OnDemandRules = slices.Clone(onDemand.Rules)

	if err = m.cfg.Store.Save(ctx, p); err != nil {
		m.deleteRef(ref)

		return &Error{Kind: KindSystemErrorOnModifyTunnel, Tunnel: name, Err: err}
	}

	m.deleteRef(t.profile.ConfigRef)

	t.profile = p
	m.sort()

	index := slices.Index(m.tunnels, t)

	if index != fromIndex {
		fx.publish(events.Event{Kind: events.KindMoved, Tunnel: name, FromIndex: fromIndex, Index: index})
	}

	fx.publish(events.Event{Kind: events.KindModified, Tunnel: name, Index: index})

	if changed && (t.status == events.StatusActive || t.status == events.StatusReasserting) {
		t.status = events.StatusRestarting

		fx.publish(events.Event{Kind: events.KindStatusChanged, Tunnel: name, Status: t.status})
		fx.stops = append(fx.stops, p.ID)
	}

	return nil
}

// Remove deletes a tunnel and its stored configuration, stopping it if needed.
func (m *Manager) Remove(ctx context.Context, t *Tunnel) error {
	fx := &effects{}

	m.mu.Lock()
	err := m.remove(ctx, fx, t)
	m.mu.Unlock()

	m.apply(ctx, fx)

	return err
}

func (m *Manager) remove(ctx context.Context, fx *effects, t *Tunnel) error {
	index := slices.Index(m.tunnels, t)
	if index < 0 {
		return ErrTunnelNotFound
	}

	name := t.profile.Name

	if err := m.cfg.Store.Remove(ctx, t.profile.ID); err != nil {
		return &Error{Kind: KindSystemErrorOnRemoveTunnel, Tunnel: name, Err: err}
	}

	m.deleteRef(t.profile.ConfigRef)

	if t.status != events.StatusInactive && t.status != events.StatusWaiting {
		fx.stops = append(fx.stops, t.profile.ID)
	}

	if m.activating == t {
		m.activating = nil
	}

	if m.waiting == t {
		m.waiting = nil
	}

	m.tunnels = slices.Delete(m.tunnels, index, index+1)

	fx.publish(events.Event{Kind: events.KindRemoved, Tunnel: name, Index: index})

	m.cfg.Logger.Info("tunnel removed", zap.String("tunnel", name))

	return nil
}

// SetOnDemandEnabled toggles on-demand activation. Enabling it also enables the profile.
func (m *Manager) SetOnDemandEnabled(ctx context.Context, t *Tunnel, enabled bool) error {
	fx := &effects{}

	m.mu.Lock()
	err := m.setOnDemandEnabled(ctx, fx, t, enabled)
	m.mu.Unlock()

	m.apply(ctx, fx)

	return err
}

func (m *Manager) setOnDemandEnabled(ctx context.Context, fx *effects, t *Tunnel, enabled bool) error {
	if slices.Index(m.tunnels, t) < 0 {
		return ErrTunnelNotFound
	}

	if t.profile.OnDemandEnabled == enabled {
		return nil
	}

	p := t.profile.Clone()
	p.OnDemandEnabled = enabled

	if enabled {
		p.Enabled = true
	}

	if err := m.cfg.Store.Save(ctx, p); err != nil {
		return &Error{Kind: KindSystemErrorOnModifyTunnel, Tunnel: p.Name, Err: err}
	}

	t.profile = p

	fx.publish(events.Event{Kind: events.KindModified, Tunnel: p.Name, Index: slices.Index(m.tunnels, t)})

	return nil
}
