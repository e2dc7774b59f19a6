// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main provides the entrypoint for tunnelctl.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/agent"
	"github.com/siderolabs/tunnelctl/pkg/keystore"
)

var rootFlags struct {
	stateDir       string
	keyringService string
	interfaceName  string
	statsInterval  time.Duration
	manageDNS      bool
	serveUAPI      bool
	debug          bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "tunnelctl",
	Short:         "Manage and run WireGuard tunnels",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		println("error :", err.Error())

		os.Exit(1) //nolint:gocritic
	}
}

func init() {
	stateDir := "."

	if dir, err := os.UserConfigDir(); err == nil {
		stateDir = filepath.Join(dir, "tunnelctl")
	}

	rootCmd.PersistentFlags().StringVar(&rootFlags.stateDir, "state-dir", stateDir, "directory of the tunnel profile store")
	rootCmd.PersistentFlags().StringVar(&rootFlags.keyringService, "keyring-service", keystore.DefaultService, "keyring service holding the tunnel configurations")
	rootCmd.PersistentFlags().StringVar(&rootFlags.interfaceName, "interface", agent.DefaultInterfaceName, "name of the tunnel interface")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")

	upCmd.Flags().BoolVar(&rootFlags.manageDNS, "manage-dns", true, "configure tunnel DNS through systemd-resolved")
	upCmd.Flags().BoolVar(&rootFlags.serveUAPI, "uapi", false, "serve the UAPI socket of the tunnel device")
	upCmd.Flags().DurationVar(&rootFlags.statsInterval, "stats-interval", time.Minute, "interval of peer statistics logging, 0 disables it")

	rootCmd.AddCommand(importCmd, exportCmd, listCmd, removeCmd, upCmd)
}

func newLogger() (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	if rootFlags.debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	return logger, nil
}

func agentConfig() agent.Config {
	return agent.Config{
		StateDir:       rootFlags.stateDir,
		KeyringService: rootFlags.keyringService,
		InterfaceName:  rootFlags.interfaceName,
		ManageDNS:      rootFlags.manageDNS,
		ServeUAPI:      rootFlags.serveUAPI,
		StatsInterval:  rootFlags.statsInterval,
	}
}

// withEnvironment runs fn with the wired tunnel stack.
func withEnvironment(ctx context.Context, fn func(env *agent.Environment) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	defer logger.Sync() //nolint:errcheck

	env, err := agent.Open(ctx, agentConfig(), logger)
	if err != nil {
		return err
	}

	defer env.Close()

	return fn(env)
}
