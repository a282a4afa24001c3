// Package commands parses "@ursabot ..." pull-request comments into the
// build properties that route them to the build, benchmark or crossbow
// schedulers.
package commands

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

// Prefix is the mention a comment must start with to be treated as a command.
const Prefix = "@ursabot"

// Property keys set by the commands.
const (
	PropCommand            = "command"
	PropBenchmarkBaseline  = "benchmark_baseline"
	PropBenchmarkOptions   = "benchmark_options"
	PropCrossbowRepo       = "crossbow_repo"
	PropCrossbowArgs       = "crossbow_args"
	defaultCrossbowRepo    = "ursa-labs/crossbow"
	crossbowTestsConfig    = "tests.yml"
	crossbowPackagesConfig = "tasks.yml"
)

var (
	testGroups    = []string{"docker", "integration", "cpp-python"}
	packageGroups = []string{"conda", "wheel", "linux", "gandiva"}
)

// CommandError reports a comment that is addressed to the bot but is not a
// valid command. Message is suitable for replying to the comment author.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string { return e.Message }

// IsCommand reports whether body is addressed to the bot.
func IsCommand(body string) bool {
	fields := strings.Fields(firstLine(body))
	return len(fields) > 0 && fields[0] == Prefix
}

// Parse interprets the first line of a comment and returns the properties the
// command sets.
func Parse(body string) (map[string]string, error) {
	args, err := shlex.Split(firstLine(body))
	if err != nil {
		return nil, &CommandError{Message: fmt.Sprintf("unable to parse command: %v", err)}
	}
	if len(args) == 0 || args[0] != Prefix {
		return nil, &CommandError{Message: fmt.Sprintf("commands must start with %s", Prefix)}
	}

	var props map[string]string
	root := newRoot(func(p map[string]string) { props = p })
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		return nil, &CommandError{Message: err.Error()}
	}
	if props == nil {
		return nil, &CommandError{Message: "no command given, try one of: build, benchmark, crossbow"}
	}
	return props, nil
}

func newRoot(emit func(map[string]string)) *cobra.Command {
	root := &cobra.Command{
		Use:           Prefix,
		Short:         "Ursabot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	root.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Trigger all tests registered for this pull request.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emit(map[string]string{PropCommand: "build"})
			return nil
		},
	})

	root.AddCommand(newBenchmark(emit))
	root.AddCommand(newCrossbow(emit))
	return root
}

func newBenchmark(emit func(map[string]string)) *cobra.Command {
	var suiteFilter, benchmarkFilter string
	cmd := &cobra.Command{
		Use:   "benchmark [<baseline>]",
		Short: "Run the benchmark suite in comparison mode.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props := map[string]string{PropCommand: "benchmark"}
			if len(args) == 1 {
				props[PropBenchmarkBaseline] = args[0]
			}
			var opts []string
			if suiteFilter != "" {
				opts = append(opts, "--suite-filter="+shellQuote(suiteFilter))
			}
			if benchmarkFilter != "" {
				opts = append(opts, "--benchmark-filter="+shellQuote(benchmarkFilter))
			}
			if len(opts) > 0 {
				props[PropBenchmarkOptions] = strings.Join(opts, " ")
			}
			emit(props)
			return nil
		},
	}
	cmd.Flags().StringVar(&suiteFilter, "suite-filter", "", "Regex filtering benchmark suites.")
	cmd.Flags().StringVar(&benchmarkFilter, "benchmark-filter", "", "Regex filtering benchmarks.")
	return cmd
}

func newCrossbow(emit func(map[string]string)) *cobra.Command {
	var repo string
	crossbow := &cobra.Command{
		Use:   "crossbow",
		Short: "Trigger crossbow builds for this pull request",
	}
	crossbow.PersistentFlags().StringVarP(&repo, "repo", "r", defaultCrossbowRepo, "Crossbow repository on github to use")

	submit := func(use, short, config string, choices []string) *cobra.Command {
		var groups []string
		cmd := &cobra.Command{
			Use:   use + " [task...]",
			Short: short,
			RunE: func(cmd *cobra.Command, tasks []string) error {
				args := []string{"-c", config}
				for _, g := range groups {
					if !slices.Contains(choices, g) {
						return fmt.Errorf("invalid value for --group: %q is not one of %s", g, strings.Join(choices, ", "))
					}
					args = append(args, "-g", g)
				}
				args = append(args, tasks...)
				emit(map[string]string{
					PropCommand:      "crossbow",
					PropCrossbowRepo: "https://github.com/" + repo,
					PropCrossbowArgs: strings.Join(args, " "),
				})
				return nil
			},
		}
		cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Submit task groups as defined in "+config)
		return cmd
	}

	crossbow.AddCommand(submit("test", "Submit crossbow testing tasks.", crossbowTestsConfig, testGroups))
	crossbow.AddCommand(submit("package", "Submit crossbow packaging tasks.", crossbowPackagesConfig, packageGroups))
	return crossbow
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote returns s as a single POSIX shell word.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func firstLine(body string) string {
	body = strings.TrimSpace(body)
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
