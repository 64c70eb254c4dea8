// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/wingedbean/wingedbean/internal/config"
	"github.com/wingedbean/wingedbean/internal/xdg"
)

// NewRootCmd creates the root command for the WingedBean CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wingedbean",
		Short: "WingedBean - a runtime plugin host",
		Long: `WingedBean discovers, loads and activates plugins, and lets them
provide and consume contracts through a shared service registry.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/wingedbean/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd(nil))
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig loads the configuration for cmd. An explicit --config must
// exist; the default config file is optional.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag is registered on the root command
	}
	required := path != ""
	if !required {
		path = xdg.ConfigFile()
	}
	return config.Load(path, required, cmd.Flags())
}
