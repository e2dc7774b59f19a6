// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/manager"
	"github.com/siderolabs/tunnelctl/pkg/profilestore"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

// stopTimeout bounds tearing a session down.
const stopTimeout = 30 * time.Second

// Sessions errors.
var (
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionsClosed    = errors.New("sessions are closed")
)

// Runner runs a single tunnel.
type Runner interface {
	Start(ctx context.Context, tunnel *wgconfig.Tunnel) error
	Stop(ctx context.Context) error
	// Update reconfigures the running tunnel in place.
	Update(ctx context.Context, tunnel *wgconfig.Tunnel) error
	RuntimeConfiguration(ctx context.Context) (*wgconfig.Tunnel, error)
	Close()
}

// RunnerFactory creates the runner of a profile.
//
// The runner calls reasserting with true when it starts reconnecting and with false
// once it is connected again.
type RunnerFactory func(p *profilestore.Profile, reasserting func(bool)) Runner

// SessionsConfig configures Sessions.
//
//nolint:govet
type SessionsConfig struct {
	Store       manager.ProfileStore    // Store is checked for stale profiles.
	Credentials manager.CredentialStore // Credentials holds the configuration text.
	NewRunner   RunnerFactory           // NewRunner creates the tunnel runners.
	Logger      *zap.Logger
}

// Sessions runs the tunnel of each started profile.
type Sessions struct {
	cfg    SessionsConfig
	events chan manager.SessionEvent
	done   chan struct{}
	close  func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[uuid.UUID]*session
}

type session struct {
	runner Runner

	// stopRequested is set when Stop arrives while the session is still starting.
	stopRequested bool
}

// NewSessions creates Sessions. Call Close to stop every session.
func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Sessions{
		cfg:     cfg,
		events:  make(chan manager.SessionEvent, 64),
		done:    make(chan struct{}),
		running: map[uuid.UUID]*session{},
	}

	s.close = sync.OnceFunc(func() { close(s.done) })

	return s
}

// Events implements manager.Sessions.
func (s *Sessions) Events() <-chan manager.SessionEvent {
	return s.events
}

func (s *Sessions) emit(id uuid.UUID, status manager.SessionStatus) {
	select {
	case s.events <- manager.SessionEvent{ID: id, Status: status}:
	case <-s.done:
	}
}

// Start implements manager.Sessions.
func (s *Sessions) Start(ctx context.Context, p *profilestore.Profile) error {
	if !p.Enabled {
		return manager.ErrConfigurationDisabled
	}

	stored, err := s.cfg.Store.Reload(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("error reloading profile: %w", err)
	}

	if stored.Generation != p.Generation {
		return fmt.Errorf("%w: generation %d, stored %d", manager.ErrConfigurationStale, p.Generation, stored.Generation)
	}

	tunnel, err := s.load(p)
	if err != nil {
		return err
	}

	sess := &session{}

	s.mu.Lock()

	if _, ok := s.running[p.ID]; ok {
		s.mu.Unlock()

		return fmt.Errorf("session of %q is already running", p.Name)
	}

	s.running[p.ID] = sess
	s.mu.Unlock()

	logger := s.cfg.Logger.With(zap.String("tunnel", p.Name))

	s.emit(p.ID, manager.SessionConnecting)

	runner := s.cfg.NewRunner(p, func(reasserting bool) {
		if reasserting {
			s.emit(p.ID, manager.SessionReasserting)
		} else {
			s.emit(p.ID, manager.SessionConnected)
		}
	})

	if err = runner.Start(ctx, tunnel); err != nil {
		runner.Close()

		s.mu.Lock()
		delete(s.running, p.ID)
		s.mu.Unlock()

		s.emit(p.ID, manager.SessionDisconnected)

		return err
	}

	s.mu.Lock()
	sess.runner = runner
	stop := sess.stopRequested
	_, tracked := s.running[p.ID]
	s.mu.Unlock()

	if !tracked {
		s.stop(p.ID, runner)

		return ErrSessionsClosed
	}

	logger.Info("session connected")

	s.emit(p.ID, manager.SessionConnected)

	if stop {
		s.Stop(p.ID)
	}

	return nil
}

// load reads and parses the configuration of p.
//
// A missing configuration is ErrConfigurationInvalid, which the manager recovers from by
// reloading the profile; text that does not parse fails as is.
func (s *Sessions) load(p *profilestore.Profile) (*wgconfig.Tunnel, error) {
	blob, err := s.cfg.Credentials.Open(p.ConfigRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", manager.ErrConfigurationInvalid, err)
	}

	tunnel, err := wgconfig.Parse(string(blob), p.Name)
	if err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return tunnel, nil
}

// Update reconfigures the running session of p from its stored configuration without
// tearing the tunnel down. The session reports SessionReasserting while it reconnects.
func (s *Sessions) Update(ctx context.Context, p *profilestore.Profile) error {
	s.mu.Lock()
	sess, ok := s.running[p.ID]
	s.mu.Unlock()

	if !ok || sess.runner == nil {
		return ErrSessionNotRunning
	}

	tunnel, err := s.load(p)
	if err != nil {
		return err
	}

	return sess.runner.Update(ctx, tunnel)
}

// Stop implements manager.Sessions.
func (s *Sessions) Stop(id uuid.UUID) {
	s.mu.Lock()

	sess, ok := s.running[id]

	switch {
	case !ok:
	case sess.runner == nil:
		sess.stopRequested = true

		s.mu.Unlock()

		return
	default:
		delete(s.running, id)
	}

	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if !ok {
			s.emit(id, manager.SessionDisconnected)

			return
		}

		s.emit(id, manager.SessionDisconnecting)

		s.stop(id, sess.runner)

		s.emit(id, manager.SessionDisconnected)
	}()
}

func (s *Sessions) stop(id uuid.UUID, runner Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := runner.Stop(ctx); err != nil {
		s.cfg.Logger.Warn("error stopping session", zap.Stringer("id", id), zap.Error(err))
	}

	runner.Close()

	s.cfg.Logger.Info("session disconnected", zap.Stringer("id", id))
}

// RuntimeConfiguration returns the running configuration and peer statistics of the
// session of profile id.
func (s *Sessions) RuntimeConfiguration(ctx context.Context, id uuid.UUID) (*wgconfig.Tunnel, error) {
	s.mu.Lock()
	sess, ok := s.running[id]
	s.mu.Unlock()

	if !ok || sess.runner == nil {
		return nil, ErrSessionNotRunning
	}

	return sess.runner.RuntimeConfiguration(ctx)
}

// Close stops every session and waits for them to go down.
func (s *Sessions) Close() {
	s.close()

	s.mu.Lock()

	runners := map[uuid.UUID]Runner{}

	for id, sess := range s.running {
		if sess.runner != nil {
			runners[id] = sess.runner
		}

		delete(s.running, id)
	}

	s.mu.Unlock()

	s.wg.Wait()

	for id, runner := range runners {
		s.stop(id, runner)
	}
}
