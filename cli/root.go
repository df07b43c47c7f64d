// Package cli implements the storyline command line.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/storyline/config"
	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/samples"
)

// app carries what every subcommand shares.
type app struct {
	lib    *grammar.Library
	logger *slog.Logger
}

// NewRootCmd builds the command tree. Specifications run against lib; the
// sample library is used when lib is nil.
func NewRootCmd(lib *grammar.Library) *cobra.Command {
	if lib == nil {
		lib = samples.Library()
	}
	a := &app{lib: lib, logger: slog.Default()}

	root := &cobra.Command{
		Use:   "storyline",
		Short: "Storyline acceptance test runner",
		Long:  "Storyline runs executable specifications against a fixture library.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			quiet, _ := cmd.Flags().GetBool("quiet")
			a.logger = newLogger(cmd.ErrOrStderr(), verbose, quiet)
		},
	}
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.PersistentFlags().String("config", "", "Path to storyline.yaml")

	root.AddCommand(
		a.newRunCmd(),
		a.newValidateCmd(),
		a.newPushCmd(),
		a.newListCmd(),
		a.newScheduleCmd(),
	)
	return root
}

// newLogger writes text logs to w. The "error" key is shortened to "err".
func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == "error" {
				attr.Key = "err"
			}
			return attr
		},
	}))
}

// loadConfig resolves storyline.yaml from --config or the default
// locations.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.Resolve(explicit)
	if err != nil {
		return config.Config{}, exitError(exitValidation, "config: %v", err)
	}
	if path != "" {
		a.logger.Debug("loaded config", "path", path)
	}
	return cfg, nil
}
