package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vyvo/buildmaster/pkg/config"
	"github.com/vyvo/buildmaster/pkg/project"
)

type rootOptions struct {
	configFile  string
	projectFile string
	project     string
	verbose     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "buildmaster",
		Short:         "Resolve, schedule and report CI builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to the buildmaster config file")
	root.PersistentFlags().StringVar(&opts.projectFile, "project-file", "", "path to the project file (overrides project_file)")
	root.PersistentFlags().StringVar(&opts.project, "project", "", "project in owner/repo form (overrides project)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(opts), newCheckConfigCmd(opts), newResolveCmd(opts))
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	overrides := map[string]any{}
	if o.projectFile != "" {
		overrides["project_file"] = o.projectFile
	}
	if o.project != "" {
		overrides["project"] = o.project
	}
	cfg, err := config.Load(config.Options{File: o.configFile, Overrides: overrides})
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func bindings(cfg config.Config) project.Bindings {
	return project.Bindings{
		Project:       cfg.Project,
		Repo:          cfg.Repo,
		WithReporters: cfg.WithReporters,
		GitHubTokens:  cfg.GitHubTokens,
		Namespaces:    cfg.Namespaces,
	}
}
