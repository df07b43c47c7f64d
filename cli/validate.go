package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/petal-labs/storyline/runtime"
)

func (a *app) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a specification file against the fixture library without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runValidate,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	spec, err := readSpec(args[0])
	if err != nil {
		return err
	}

	_, problems, err := runtime.Compile(spec, a.lib)
	if err != nil {
		if errors.Is(err, runtime.ErrHeaderOnly) {
			return exitError(exitValidation, "%s has no steps to validate", args[0])
		}
		return exitError(exitValidation, "%v", err)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		if problems == nil {
			problems = []runtime.Problem{}
		}
		data, err := json.MarshalIndent(problems, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling problems: %w", err)
		}
		fmt.Fprintln(out, string(data))
	default:
		printProblemsText(out, spec.ID(), problems)
	}

	if len(problems) > 0 {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printProblemsText(w io.Writer, specID string, problems []runtime.Problem) {
	if len(problems) == 0 {
		fmt.Fprintf(w, "Valid: %s\n", specID)
		return
	}
	for _, p := range problems {
		fmt.Fprintf(w, "ERROR %s\n", p)
	}
	fmt.Fprintf(w, "\n%d problem(s) in %s\n", len(problems), specID)
}
