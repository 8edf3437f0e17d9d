/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acronis/go-dbops/internal/cli"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	var showSource bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration with secrets masked",
		Long:  `Show the effective configuration after merging defaults, config file and environment variables.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showSource {
				if a.cfgPath != "" {
					_, _ = fmt.Fprintf(a.stdout, "Config file: %s\n\n", a.cfgPath)
				} else {
					_, _ = fmt.Fprintf(a.stdout, "Config file: (none, using defaults and environment)\n\n")
				}
			}
			out, err := a.cfg.MaskedYAML()
			if err != nil {
				return cli.GeneralError("rendering configuration", err)
			}
			_, _ = a.stdout.Write(out)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSource, "source", false, "show config file source")
	cmd.AddCommand(showCmd)
	return cmd
}
