package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/checkpoint"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect or clear batch checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved batch checkpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cps, err := openCheckpointsForAdmin(cmd)
		if err != nil {
			return err
		}
		defer cps.Close() //nolint:errcheck

		indices, err := cps.List(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoints list")
		}
		formatCheckpoints(os.Stdout, indices)
		return nil
	},
}

var checkpointsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all batch checkpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cps, err := openCheckpointsForAdmin(cmd)
		if err != nil {
			return err
		}
		defer cps.Close() //nolint:errcheck

		indices, err := cps.List(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoints list")
		}
		if err := cps.Clear(ctx); err != nil {
			return eris.Wrap(err, "checkpoints clear")
		}
		fmt.Fprintf(os.Stdout, "Cleared %d checkpoints.\n", len(indices))
		return nil
	},
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsClearCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

// openCheckpointsForAdmin opens the configured backend even when
// checkpointing is disabled for runs.
func openCheckpointsForAdmin(cmd *cobra.Command) (checkpoint.Store, error) {
	c := cfg.Checkpoint
	c.Enabled = true
	return openCheckpoints(cmd.Context(), c)
}

func formatCheckpoints(out io.Writer, indices []int) {
	if len(indices) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return
	}
	fmt.Fprintf(out, "%d checkpoints:", len(indices))
	for _, i := range indices {
		fmt.Fprintf(out, " %d", i)
	}
	fmt.Fprintln(out)
}
