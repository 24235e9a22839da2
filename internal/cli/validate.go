package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validate command output.
type ValidationResult struct {
	Valid     bool        `json:"valid"`
	FlowCount int         `json:"flow_count"`
	Issues    []FlowIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var devicesPath string

	cmd := &cobra.Command{
		Use:   "validate <flows-dir>",
		Short: "Validate flow documents without running them",
		Long: `Validate authored flow JSON documents against the flow schema and
the codec's per-node config rules. Reports every problem found. With
--devices, also validates the device catalog.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], devicesPath, cmd)
		},
	}
	cmd.Flags().StringVar(&devicesPath, "devices", "", "devices.json to validate alongside the flows")
	return cmd
}

func runValidate(opts *RootOptions, dir, devicesPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	flows, issues, err := LoadFlows(dir)
	if err != nil {
		formatter.Error("E100", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load flows", err)
	}

	if devicesPath != "" {
		devIssues, err := catalogIssues(devicesPath)
		if err != nil {
			formatter.Error("E100", err.Error(), nil)
			return WrapExitError(ExitCommandError, "device catalog", err)
		}
		issues = append(issues, devIssues...)
	}

	result := ValidationResult{
		Valid:     len(issues) == 0,
		FlowCount: len(flows),
		Issues:    issues,
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, is := range issues {
			if is.Line > 0 {
				fmt.Fprintf(w, "%s:%d [%s] %s: %s\n", is.File, is.Line, is.Code, is.Field, is.Message)
			} else {
				fmt.Fprintf(w, "%s [%s] %s\n", is.File, is.Code, is.Message)
			}
		}
		fmt.Fprintf(w, "%d flow(s) valid, %d issue(s)\n", len(flows), len(issues))
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation issue(s)", len(issues)))
	}
	return nil
}
