package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the collaborator result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached results per namespace",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cs, err := openCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer cs.Close() //nolint:errcheck

		counts, err := cacheCounts(ctx, cs)
		if err != nil {
			return err
		}
		formatCacheStats(os.Stdout, cfg.Cache.Driver, counts)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheCounts(ctx context.Context, cs cache.Store) (map[cache.Namespace]int, error) {
	counts := make(map[cache.Namespace]int, len(cache.Namespaces))
	for _, ns := range cache.Namespaces {
		n, err := cs.Len(ctx, ns)
		if err != nil {
			return nil, eris.Wrapf(err, "cache stats %s", ns)
		}
		counts[ns] = n
	}
	return counts, nil
}

func formatCacheStats(out io.Writer, driver string, counts map[cache.Namespace]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Driver:\t%s\n", driver)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tENTRIES")
	total := 0
	for _, ns := range cache.Namespaces {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", ns, counts[ns])
		total += counts[ns]
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", total)
	_ = w.Flush()
}
