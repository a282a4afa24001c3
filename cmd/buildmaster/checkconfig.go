package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vyvo/buildmaster/pkg/project"
)

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkconfig",
		Short: "Build the full configuration without starting any service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := opts.logger()
			snap, err := project.CheckConfig(cfg.ProjectFile, bindings(cfg), project.Deps{Logger: logger})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workers, %d builders, %d schedulers, %d force schedulers\n",
				snap.Project, snap.Pool.Len(), len(snap.Resolution.Builders), len(snap.Schedulers), len(snap.Force))
			for _, name := range snap.Resolution.Unsatisfied {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: no workers satisfy %s\n", name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	}
}
