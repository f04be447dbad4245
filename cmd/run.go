package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/catalog"
	"github.com/sells-group/catalog-cli/internal/export"
	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/server"
	"github.com/sells-group/catalog-cli/internal/store"
)

// runOptions are the per-invocation settings of the run command.
type runOptions struct {
	Input      string
	Output     string
	Format     string
	StatsOut   string
	StatusAddr string
	Offline    bool
	Fresh      bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Group, enrich and export a catalog file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runCatalog(ctx, runOpts, os.Stdout)
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.Input, "input", "", "catalog file (.csv or .xlsx) (required)")
	runCmd.Flags().StringVar(&runOpts.Output, "output", "", "export path (default from export.output)")
	runCmd.Flags().StringVar(&runOpts.Format, "format", "", "export format: shopify or json (default from export.format)")
	runCmd.Flags().StringVar(&runOpts.StatsOut, "stats-out", "", "write run statistics JSON to this path")
	runCmd.Flags().StringVar(&runOpts.StatusAddr, "status-addr", "", "serve the progress API on this address during the run")
	runCmd.Flags().BoolVar(&runOpts.Offline, "offline", false, "use stub collaborators instead of the vendor APIs")
	runCmd.Flags().BoolVar(&runOpts.Fresh, "fresh", false, "discard existing checkpoints before the run")
	runCmd.Flags().Int("batch-size", 0, "groups per batch (overrides batch.size)")
	runCmd.Flags().Int("max-workers", 0, "concurrent calls per stage (overrides batch.workers)")
	runCmd.Flags().Bool("no-checkpoints", false, "disable checkpointing for this run")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runCatalog(ctx context.Context, opts runOptions, out io.Writer) error {
	parsed, err := catalog.ParseFile(opts.Input)
	if err != nil {
		return eris.Wrap(err, "parse input")
	}

	env, err := initPipeline(ctx, opts.Offline, opts.Fresh)
	if err != nil {
		return err
	}
	defer env.Close()

	p := env.Pipeline
	stats := p.Stats()
	stats.AddSkippedRows(parsed.Stats.Skipped())

	if env.Store != nil {
		if _, err := env.Store.CreateRun(ctx, stats.RunID, opts.Input); err != nil {
			return eris.Wrap(err, "create run")
		}
	}

	if opts.StatusAddr != "" {
		srv, err := server.Start(opts.StatusAddr, server.NewRouter(p, cfg.Server.AllowedOrigins))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("status api shutdown", zap.Error(err))
			}
		}()
		zap.L().Info("status api listening", zap.String("addr", srv.Addr()))
	}

	res, runErr := p.Run(ctx, parsed.Rows)
	snap := stats.Snapshot()

	if env.Store != nil {
		if err := env.Store.FinishRun(context.WithoutCancel(ctx), stats.RunID, store.StatusFor(runErr), &snap, runErr); err != nil {
			zap.L().Warn("finish run", zap.String("run_id", stats.RunID), zap.Error(err))
		}
	}
	if opts.StatsOut != "" {
		if err := export.WriteJSON(opts.StatsOut, snap); err != nil {
			return eris.Wrap(err, "write stats")
		}
	}
	if runErr != nil {
		return eris.Wrap(runErr, "pipeline run")
	}

	paths, err := writeExport(ctx, opts, res.Groups)
	if err != nil {
		return err
	}

	formatRunSummary(out, snap, paths)
	return nil
}

func writeExport(ctx context.Context, opts runOptions, groups []*model.ProductGroup) ([]string, error) {
	format := firstSet(opts.Format, cfg.Export.Format)
	output := firstSet(opts.Output, cfg.Export.Output)

	switch format {
	case "json":
		if filepath.Ext(output) == ".csv" {
			output = strings.TrimSuffix(output, ".csv") + ".json"
		}
		if err := export.WriteJSON(output, groups); err != nil {
			return nil, eris.Wrap(err, "export json")
		}
		return []string{output}, nil
	case "shopify", "":
		paths, err := export.WriteShopifyCSV(ctx, output, groups, cfg.Export.RecordsPerFile)
		if err != nil {
			return nil, eris.Wrap(err, "export shopify")
		}
		return paths, nil
	default:
		return nil, eris.Errorf("unsupported export format: %s", format)
	}
}

func formatRunSummary(out io.Writer, snap model.StatsSnapshot, paths []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", snap.RunID)
	_, _ = fmt.Fprintf(w, "Rows:\t%d (%d skipped)\n", snap.Rows, snap.SkippedRows)
	_, _ = fmt.Fprintf(w, "Groups:\t%d\n", snap.Groups)
	_, _ = fmt.Fprintf(w, "Batches:\t%d (%d resumed)\n", snap.Batches+snap.BatchesResumed, snap.BatchesResumed)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", time.Duration(snap.DurationSecs*float64(time.Second)).Round(time.Millisecond))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "STAGE\tSUCCEEDED\tFAILED\tCACHED\tSKIPPED")
	for _, st := range model.Stages {
		ss := snap.Stages[st]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", st, ss.Succeeded, ss.Failed, ss.CacheHits, ss.Skipped)
	}
	_, _ = fmt.Fprintln(w)
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "Wrote:\t%s\n", p)
	}
	_ = w.Flush()
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
