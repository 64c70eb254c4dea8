// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/plugin/goplugin"
)

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugins",
	}
	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins in activation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := newHost(cfg, discardLogger(), builtinCatalog(), goplugin.DefaultClientFactory{})
			if err != nil {
				return err
			}
			descs, err := h.Discover(cmd.Context())
			if err != nil {
				return err
			}

			ordered, err := plugin.Order(descs)
			if err != nil {
				cmd.PrintErrf("warning: %v\n", err)
				ordered = descs
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tPRIORITY\tPROVIDES\tREQUIRES")
			for _, d := range ordered {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					d.ID(), d.Version(), d.Type(), d.Priority(),
					dash(strings.Join(d.Provides(), ",")),
					dash(requirements(d)))
			}
			return w.Flush() //nolint:wrapcheck // terminal output
		},
	}
}

func requirements(d *plugin.Descriptor) string {
	reqs := d.Requires()
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		s := string(r.Contract)
		if r.Constraint != "" {
			s += " " + r.Constraint
		}
		if r.Optional {
			s += "?"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin.yaml>",
		Short: "Validate a plugin manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return oops.In("validate").With("path", path).Wrapf(err, "read manifest")
			}
			if err := plugin.ValidateSchema(data); err != nil {
				return oops.In("validate").
					With("path", path).
					Errorf("%s", plugin.FormatSchemaError(err))
			}
			m, err := plugin.ParseManifest(data)
			if err != nil {
				return oops.In("validate").With("path", path).Wrap(err)
			}
			if _, err := plugin.NewDescriptor(m, filepath.Dir(path)); err != nil {
				return oops.In("validate").With("path", path).Wrap(err)
			}
			cmd.Printf("%s: %s %s (%s) is valid\n", path, m.Name, m.Version, m.Type)
			return nil
		},
	}
}
