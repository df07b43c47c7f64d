package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/storyline/model"
)

func (a *app) newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <file>...",
		Short: "Save specification files into the configured store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runPush,
	}
}

func (a *app) runPush(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	// Read everything first so a bad file stores nothing.
	docs := make([]model.SpecData, 0, len(args))
	for _, path := range args {
		d, err := readData(path)
		if err != nil {
			return err
		}
		docs = append(docs, d)
	}

	st, closeStore, err := cfg.OpenStore()
	if err != nil {
		return exitError(exitValidation, "opening store: %v", err)
	}
	defer func() { _ = closeStore() }()

	for _, d := range docs {
		rev, err := st.Put(cmd.Context(), d)
		if err != nil {
			return exitError(exitFailures, "saving %s: %v", d.ID, err)
		}
		a.logger.Debug("specification pushed", "spec", d.ID, "revision", rev)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.ID, rev)
	}
	return nil
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the specifications in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			st, closeStore, err := cfg.OpenStore()
			if err != nil {
				return exitError(exitValidation, "opening store: %v", err)
			}
			defer func() { _ = closeStore() }()

			ids, err := st.List(cmd.Context())
			if err != nil {
				return exitError(exitFailures, "listing specifications: %v", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
