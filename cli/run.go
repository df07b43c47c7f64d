package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/storyline/config"
	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/loader"
	"github.com/petal-labs/storyline/model"
	storyotel "github.com/petal-labs/storyline/otel"
	"github.com/petal-labs/storyline/runtime"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a specification file",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRun,
	}

	cmd.Flags().String("format", "pretty", "Output format: pretty | json")
	cmd.Flags().StringP("output", "o", "", "Write the report to file (default: stdout)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("stop-on-failure", false, "Stop after the first fail result")
	cmd.Flags().Bool("stop-on-exception", false, "Stop after the first exception result")
	cmd.Flags().Bool("stream", false, "Print each step outcome as it finishes")

	return cmd
}

func (a *app) runRun(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "pretty" && format != "json" {
		return exitError(exitValidation, "unknown format %q (use pretty or json)", format)
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	spec, err := readSpec(args[0])
	if err != nil {
		return err
	}

	opts := runOptions(cmd, cfg)
	if cfg.Telemetry.OTLPEndpoint != "" {
		tel, err := storyotel.Setup(cmd.Context(), storyotel.Config{
			Endpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return exitError(exitValidation, "telemetry: %v", err)
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				a.logger.Warn("telemetry shutdown", "error", err)
			}
		}()
		opts = tel.Instrument(opts)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	report, err := runtime.Run(ctx, spec, a.lib, opts)
	if err != nil {
		if errors.Is(err, runtime.ErrHeaderOnly) {
			return exitError(exitValidation, "%s has no steps to run", args[0])
		}
		return exitError(exitFailures, "execution failed: %v", err)
	}
	for _, p := range report.Problems {
		a.logger.Warn("binding problem", "step", p.StepID, "kind", p.Kind, "message", p.Message)
	}
	if ctx.Err() == context.DeadlineExceeded {
		a.logger.Error("execution timed out", "timeout", timeout)
	}

	if err := writeReport(cmd, spec, report, format); err != nil {
		return err
	}
	if !report.Succeeded() {
		return exitError(exitFailures, "%s: %d failed, %d exceptions", spec.ID(), report.Counts.Fail, report.Counts.Exception)
	}
	return nil
}

// readSpec loads and validates one specification file.
func readSpec(path string) (*model.Specification, error) {
	d, err := readData(path)
	if err != nil {
		return nil, err
	}
	spec, err := model.FromData(d)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	return spec, nil
}

func readData(path string) (model.SpecData, error) {
	d, err := loader.ReadFile(path)
	if err == nil {
		return d, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return model.SpecData{}, exitError(exitFileError, "file not found: %s", path)
	}
	var verr *loader.ValidationError
	if errors.As(err, &verr) {
		return model.SpecData{}, exitError(exitValidation, "%v", err)
	}
	return model.SpecData{}, exitError(exitFileError, "%v", err)
}

// runOptions starts from the configured policy; explicit flags win.
func runOptions(cmd *cobra.Command, cfg config.Config) runtime.Options {
	opts := runtime.Options{Policy: cfg.Policy()}
	if cmd.Flags().Changed("stop-on-failure") {
		opts.Policy.StopOnFailure, _ = cmd.Flags().GetBool("stop-on-failure")
	}
	if cmd.Flags().Changed("stop-on-exception") {
		opts.Policy.StopOnException, _ = cmd.Flags().GetBool("stop-on-exception")
	}
	if stream, _ := cmd.Flags().GetBool("stream"); stream {
		opts.EventHandler = streamingEventHandler(cmd.ErrOrStderr())
	}
	return opts
}

func streamingEventHandler(out io.Writer) runtime.EventHandler {
	return func(e runtime.Event) {
		if e.Kind != runtime.EventStepFinished {
			return
		}
		status := e.Status()
		if status == "" {
			status = core.StatusSkipped
		}
		fmt.Fprintf(out, "%-9s %s (%s)\n", status, e.StepID, e.Elapsed.Round(time.Microsecond))
	}
}

// writeReport formats report and writes it to --output or stdout.
func writeReport(cmd *cobra.Command, spec *model.Specification, report *runtime.Report, format string) error {
	var output string
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return exitError(exitFailures, "marshaling report: %v", err)
		}
		output = string(data)
	default:
		output = formatPretty(spec, report)
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output+"\n"), 0o600); err != nil {
			return exitError(exitFileError, "writing output file: %v", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatPretty returns a human-readable summary of the report.
func formatPretty(spec *model.Specification, report *runtime.Report) string {
	var sb strings.Builder

	title := spec.Title()
	if title == "" {
		title = spec.ID()
	}
	fmt.Fprintf(&sb, "=== %s ===\n", title)
	for _, r := range report.Results {
		fmt.Fprintf(&sb, "  %s\n", r)
	}

	if len(report.Problems) > 0 {
		fmt.Fprintf(&sb, "\n=== Problems (%d) ===\n", len(report.Problems))
		for _, p := range report.Problems {
			fmt.Fprintf(&sb, "  %s\n", p)
		}
	}

	c := report.Counts
	fmt.Fprintf(&sb, "\n%s: %d pass, %d fail, %d exception, %d skipped (%s)\n",
		report.Status, c.Pass, c.Fail, c.Exception, c.Skipped, report.Elapsed.Round(time.Millisecond))
	if report.Revision != "" {
		fmt.Fprintf(&sb, "Revision: %s\n", report.Revision)
	}
	fmt.Fprintf(&sb, "Run ID: %s", report.RunID)
	return sb.String()
}
