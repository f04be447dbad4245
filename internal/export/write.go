package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-cli/internal/model"
)

// DefaultRecordsPerFile bounds the data rows of one CSV part.
const DefaultRecordsPerFile = 1000

// PartPath returns the path of part n (1-based) for the output path,
// e.g. "out/products.csv" -> "out/products_part001.csv".
func PartPath(path string, n int) string {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".csv"
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return fmt.Sprintf("%s_part%03d%s", stem, n, ext)
}

// Partition splits per-group rows into parts of at most limit rows. A
// group's rows never span two parts; a group larger than limit gets a part
// of its own.
func Partition(groups [][][]string, limit int) [][][]string {
	if limit <= 0 {
		limit = DefaultRecordsPerFile
	}
	var parts [][][]string
	var cur [][]string
	for _, rows := range groups {
		if len(cur) > 0 && len(cur)+len(rows) > limit {
			parts = append(parts, cur)
			cur = nil
		}
		cur = append(cur, rows...)
	}
	if len(cur) > 0 {
		parts = append(parts, cur)
	}
	return parts
}

// WriteShopifyCSV writes groups as Shopify CSV parts next to path and
// returns the written paths in part order.
func WriteShopifyCSV(ctx context.Context, path string, groups []*model.ProductGroup, recordsPerFile int) ([]string, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "export: create dir %s", dir)
		}
	}

	parts := Partition(Rows(groups), recordsPerFile)
	paths := make([]string, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, rows := range parts {
		paths[i] = PartPath(path, i+1)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeCSV(paths[i], rows)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("export: wrote shopify csv",
		zap.Int("groups", len(groups)),
		zap.Int("parts", len(paths)),
		zap.Strings("files", paths),
	)
	return paths, nil
}

func writeCSV(path string, rows [][]string) error {
	return atomicWrite(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(Columns); err != nil {
			return err
		}
		if err := w.WriteAll(rows); err != nil {
			return err
		}
		return w.Error()
	})
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal json")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create dir %s", dir)
		}
	}
	return atomicWrite(path, func(f *os.File) error {
		_, err := f.Write(append(data, '\n'))
		return err
	})
}

// atomicWrite writes through a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "export: create temp for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := fill(tmp); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return eris.Wrapf(err, "export: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "export: rename %s", path)
	}
	return nil
}
