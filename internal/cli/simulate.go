package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loom-app/loom/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Assert bool
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scripted scenario against an in-memory engine",
		Long: `Run a yaml scenario file against an in-memory engine with the
recording device driver and a scripted generator, then print the broadcast
trace. Time advances only through the scenario's advance steps.

Examples:
  loom simulate scenario.yaml
  loom simulate scenario.yaml --assert
  loom simulate scenario.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Assert, "assert", false, "run the scenario's assertions")
	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "simulate", err)
	}

	var failures []string
	if opts.Assert {
		failures = harness.CheckAssertions(scenario, result)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		out := map[string]any{
			"broadcasts":   result.Envelopes,
			"device_calls": result.DeviceCalls,
		}
		if opts.Assert {
			out["failures"] = failures
		}
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, env := range result.Envelopes {
			line, err := env.MarshalTrace()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%d broadcast(s), %d device call(s)\n", len(result.Envelopes), len(result.DeviceCalls))
		for _, f := range failures {
			fmt.Fprintln(w, "assertion failed:", f)
		}
	}

	if len(failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion failure(s)", len(failures)))
	}
	return nil
}
