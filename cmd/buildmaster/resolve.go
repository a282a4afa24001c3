package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vyvo/buildmaster/pkg/project"
)

type builderView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Worker     string            `json:"worker"`
	Tags       []string          `json:"tags"`
	Properties map[string]string `json:"properties,omitempty"`
}

func builderViews(snap *project.Snapshot) []builderView {
	resolved := snap.Builders()
	out := make([]builderView, 0, len(resolved))
	for _, b := range resolved {
		out = append(out, builderView{
			ID:         b.ID(),
			Name:       b.Name(),
			Worker:     b.Worker.Name,
			Tags:       b.Worker.TagList(),
			Properties: b.Definition.Properties(),
		})
	}
	return out
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the concrete builders each definition resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			snap, err := project.CheckConfig(cfg.ProjectFile, bindings(cfg), project.Deps{Logger: opts.logger()})
			if err != nil {
				return err
			}

			views := builderViews(snap)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BUILDER\tWORKER\tTAGS")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%v\n", v.Name, v.Worker, v.Tags)
			}
			for _, name := range snap.Resolution.Unsatisfied {
				fmt.Fprintf(tw, "%s\t-\t(no eligible workers)\n", name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
