// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package agent wires the tunnel stack together and runs a tunnel in the foreground.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siderolabs/gen/panicsafe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/tunnelctl/pkg/adapter"
	"github.com/siderolabs/tunnelctl/pkg/events"
	"github.com/siderolabs/tunnelctl/pkg/keystore"
	"github.com/siderolabs/tunnelctl/pkg/manager"
	"github.com/siderolabs/tunnelctl/pkg/netmon"
	"github.com/siderolabs/tunnelctl/pkg/profilestore"
	"github.com/siderolabs/tunnelctl/pkg/resolver"
	"github.com/siderolabs/tunnelctl/pkg/settings"
	"github.com/siderolabs/tunnelctl/pkg/wireguard"
)

// DefaultInterfaceName is the name of the TUN interface.
const DefaultInterfaceName = "tunnelctl0"

// shutdownTimeout bounds the deactivation on exit.
const shutdownTimeout = 30 * time.Second

// Config is the configuration for the agent.
//
//nolint:govet
type Config struct {
	StateDir       string        // StateDir keeps the profile store.
	KeyringService string        // KeyringService is the keyring service holding the configurations.
	InterfaceName  string        // InterfaceName is the name of the TUN interface.
	ManageDNS      bool          // ManageDNS configures tunnel DNS through systemd-resolved.
	ServeUAPI      bool          // ServeUAPI exposes the UAPI socket of the running device.
	StatsInterval  time.Duration // StatsInterval is how often peer statistics are logged, zero disables them.

	// CreateTUN and ConfigureLink override the host integration.
	CreateTUN     TUNCreator
	ConfigureLink LinkConfigurator
}

// Environment is the wired tunnel stack.
type Environment struct {
	Manager  *manager.Manager
	Sessions *Sessions

	backend *wireguard.Backend
}

// Open wires the stores, the backend and the manager.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Environment, error) {
	if cfg.InterfaceName == "" {
		cfg.InterfaceName = DefaultInterfaceName
	}

	if cfg.CreateTUN == nil {
		cfg.CreateTUN = SystemTUN
	}

	if cfg.ConfigureLink == nil {
		cfg.ConfigureLink = SystemLink(cfg.ManageDNS, logger)
	}

	profiles, err := profilestore.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	credentials := keystore.New(cfg.KeyringService)

	var opts []wireguard.BackendOption

	if cfg.ServeUAPI {
		opts = append(opts, wireguard.WithUAPISocket())
	}

	backend := wireguard.NewBackend(logger.Named("wireguard"), opts...)

	sessions := NewSessions(SessionsConfig{
		Store:       profiles,
		Credentials: credentials,
		NewRunner:   newRunnerFactory(cfg, backend, logger),
		Logger:      logger.Named("sessions"),
	})

	mgr, err := manager.New(ctx, manager.Config{
		Store:        profiles,
		Credentials:  credentials,
		Sessions:     sessions,
		Connectivity: &netmon.Connectivity{Exclude: []string{cfg.InterfaceName}},
		Logger:       logger.Named("manager"),
	})
	if err != nil {
		sessions.Close()
		backend.Close()

		return nil, err
	}

	return &Environment{
		Manager:  mgr,
		Sessions: sessions,
		backend:  backend,
	}, nil
}

// Close stops every session and device.
func (e *Environment) Close() {
	e.Sessions.Close()
	e.backend.Close()
}

// runner is a tunnel adapter together with its host provider.
type runner struct {
	*adapter.Adapter

	provider *provider
}

func (r *runner) Close() {
	r.Adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	r.provider.Close(ctx)
}

func newRunnerFactory(cfg Config, backend *wireguard.Backend, logger *zap.Logger) RunnerFactory {
	res := resolver.New(nil, logger.Named("resolver"))

	return func(p *profilestore.Profile, reasserting func(bool)) Runner {
		tunnelLogger := logger.With(zap.String("tunnel", p.Name))

		prov := newProvider(cfg.InterfaceName, cfg.CreateTUN, cfg.ConfigureLink, reasserting, tunnelLogger)

		return &runner{
			Adapter: adapter.New(adapter.Config{
				Backend:  backend,
				Provider: prov,
				NewPathMonitor: func() adapter.PathMonitor {
					return netmon.NewMonitor(tunnelLogger, cfg.InterfaceName)
				},
				Resolver: res,
				Platform: settings.Desktop,
				Logger:   tunnelLogger,
			}),
			provider: prov,
		}
	}
}

// Run activates the named tunnel and keeps it up until ctx is canceled.
func Run(ctx context.Context, cfg Config, tunnelName string, logger *zap.Logger) error {
	env, err := Open(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer env.Close()

	t := env.Manager.TunnelNamed(tunnelName)
	if t == nil {
		return fmt.Errorf("tunnel %q not found", tunnelName)
	}

	managerCtx, stopManager := context.WithCancel(context.WithoutCancel(ctx))

	eg, egCtx := errgroup.WithContext(managerCtx)

	eg.Go(panicsafe.RunErrF(func() error {
		return env.Manager.Run(egCtx)
	}))

	evs := make(chan events.Event, 64)
	unsubscribe := env.Manager.Subscribe(events.Chan(evs))

	logger.Info("starting tunnel",
		zap.String("tunnel", tunnelName),
		zap.String("interface", cfg.InterfaceName),
		zap.Bool("manage_dns", cfg.ManageDNS),
	)

	runErr := run(ctx, env, t, evs, cfg.StatsInterval, logger)

	unsubscribe()
	stopManager()

	if waitErr := eg.Wait(); waitErr != nil {
		if runErr == nil {
			return waitErr
		}

		return fmt.Errorf("%w; also Wait() failed with: %w", runErr, waitErr)
	}

	return runErr
}

func run(ctx context.Context, env *Environment, t *manager.Tunnel, evs <-chan events.Event, statsInterval time.Duration, logger *zap.Logger) error {
	if err := env.Manager.StartActivation(ctx, t); err != nil {
		return err
	}

	var ticker <-chan time.Time

	if statsInterval > 0 {
		tick := time.NewTicker(statsInterval)
		defer tick.Stop()

		ticker = tick.C
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown(env, t, evs, logger)
		case <-ticker:
			logStats(ctx, env, t, logger)
		case e := <-evs:
			logger.Info("tunnel event", zap.Stringer("event", e))

			if e.Tunnel != t.Name() {
				continue
			}

			switch e.Kind { //nolint:exhaustive
			case events.KindActivationFailed:
				return e.Err
			case events.KindStatusChanged:
				if e.Status == events.StatusInactive {
					return errors.New("tunnel went down")
				}
			}
		}
	}
}

func shutdown(env *Environment, t *manager.Tunnel, evs <-chan events.Event, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	env.Manager.StartDeactivation(ctx, t)

	for t.Status() != events.StatusInactive {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out deactivating tunnel: %w", ctx.Err())
		case e := <-evs:
			logger.Info("tunnel event", zap.Stringer("event", e))
		}
	}

	return nil
}

func logStats(ctx context.Context, env *Environment, t *manager.Tunnel, logger *zap.Logger) {
	current, err := env.Sessions.RuntimeConfiguration(ctx, t.ID())
	if err != nil {
		logger.Warn("error reading runtime configuration", zap.Error(err))

		return
	}

	for _, peer := range current.Peers {
		logger.Info("peer statistics",
			zap.Stringer("public_key", peer.PublicKey),
			zap.Time("last_handshake", peer.Stats.LastHandshake),
			zap.Uint64("rx_bytes", peer.Stats.RxBytes),
			zap.Uint64("tx_bytes", peer.Stats.TxBytes),
		)
	}
}
