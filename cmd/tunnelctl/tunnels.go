// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siderolabs/tunnelctl/pkg/agent"
	"github.com/siderolabs/tunnelctl/pkg/manager"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

var importCmd = &cobra.Command{
	Use:   "import <file> [name]",
	Short: "Import a wg-quick configuration file as a tunnel",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		if len(args) > 1 {
			name = args[1]
		}

		cfg, err := wgconfig.Parse(string(text), name)
		if err != nil {
			return fmt.Errorf("error parsing %s: %w", args[0], err)
		}

		return withEnvironment(cmd.Context(), func(env *agent.Environment) error {
			_, err := env.Manager.Add(cmd.Context(), cfg, manager.OnDemand{})

			return err
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Print the configuration of a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnvironment(cmd.Context(), func(env *agent.Environment) error {
			t := env.Manager.TunnelNamed(args[0])
			if t == nil {
				return fmt.Errorf("tunnel %q not found", args[0])
			}

			cfg, err := t.Config()
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), cfg.Serialize())

			return err
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tunnels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnvironment(cmd.Context(), func(env *agent.Environment) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintln(w, "NAME\tSTATUS\tON-DEMAND\tID") //nolint:errcheck

			for _, t := range env.Manager.Tunnels() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.Name(), t.Status(), t.OnDemand().Enabled, t.ID()) //nolint:errcheck
			}

			return w.Flush()
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a tunnel and its stored configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnvironment(cmd.Context(), func(env *agent.Environment) error {
			t := env.Manager.TunnelNamed(args[0])
			if t == nil {
				return fmt.Errorf("tunnel %q not found", args[0])
			}

			return env.Manager.Remove(cmd.Context(), t)
		})
	},
}

var upCmd = &cobra.Command{
	Use:   "up <name>",
	Short: "Bring a tunnel up and keep it running until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		defer logger.Sync() //nolint:errcheck

		return agent.Run(cmd.Context(), agentConfig(), args[0], logger)
	},
}
