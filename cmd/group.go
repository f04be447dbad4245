package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/catalog"
	"github.com/sells-group/catalog-cli/internal/config"
)

var groupInput string

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Parse and group a catalog file without enrichment",
	Long:  "Prints the product groups of a catalog file as JSON. No vendor API is called.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return groupCatalog(groupInput, cfg.Grouping, os.Stdout)
	},
}

func init() {
	groupCmd.Flags().StringVar(&groupInput, "input", "", "catalog file (.csv or .xlsx) (required)")
	_ = groupCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(groupCmd)
}

func groupCatalog(path string, gc config.GroupingConfig, out io.Writer) error {
	parsed, err := catalog.ParseFile(path)
	if err != nil {
		return eris.Wrap(err, "parse input")
	}
	g, err := newGrouper(gc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Group(parsed.Rows))
}
