package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment run history",
	Long:  "Commands for listing runs and their recorded collaborator failures. Requires store.driver.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs failures --

var runsFailuresCmd = &cobra.Command{
	Use:   "failures <run-id>",
	Short: "List collaborator failures recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ns, _ := cmd.Flags().GetString("namespace")
		limit, _ := cmd.Flags().GetInt("limit")
		failures, err := st.ListFailures(ctx, store.FailureFilter{RunID: args[0], Namespace: ns, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs failures")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures recorded.")
			return nil
		}
		formatFailures(os.Stdout, failures)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum runs to show")
	runsFailuresCmd.Flags().String("namespace", "", "only show failures of this namespace (url, images, content)")
	runsFailuresCmd.Flags().Int("limit", 100, "maximum failures to show")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsFailuresCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunStore(cmd *cobra.Command) (store.Store, error) {
	if cfg.Store.Driver == "" {
		return nil, eris.New("run history is disabled: set store.driver (CATALOG_STORE_DRIVER)")
	}
	return initStore(cmd.Context())
}

func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tSTATUS\tGROUPS\tFAILED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		var groups, failed int64
		if r.Stats != nil {
			groups = r.Stats.Groups
			for _, ss := range r.Stats.Stages {
				failed += ss.Failed
			}
		}

		input := r.Input
		if len(input) > 30 {
			input = "..." + input[len(input)-27:]
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			input,
			r.Status,
			groups,
			failed,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

func formatFailures(out io.Writer, failures []store.FailureRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tKEY\tCLASS\tATTEMPTS\tFAILED\tERROR")
	for _, f := range failures {
		msg := f.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			f.Namespace,
			truncateID(f.Key),
			f.Class,
			f.Attempts,
			f.FailedAt.Format("2006-01-02 15:04:05"),
			msg,
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
