// Package checkpoint persists completed batches so an interrupted run can
// resume without redoing them.
package checkpoint

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Checkpoint is the saved state of one fully processed batch.
type Checkpoint struct {
	BatchIndex  int                   `json:"batch_index"`
	CompletedAt time.Time             `json:"completed_at"`
	GroupCount  int                   `json:"group_count"`
	Groups      []*model.ProductGroup `json:"groups"`
}

// New builds a checkpoint for batch index stamped with the current time.
func New(index int, groups []*model.ProductGroup) *Checkpoint {
	return &Checkpoint{
		BatchIndex:  index,
		CompletedAt: time.Now().UTC(),
		GroupCount:  len(groups),
		Groups:      groups,
	}
}

// Matches reports whether the checkpoint holds exactly the groups of
// groups: same brand and base name in order, and the same member rows with
// the same attributes. Any change to a row invalidates the checkpoint.
func (c *Checkpoint) Matches(groups []*model.ProductGroup) bool {
	if c == nil || len(c.Groups) != len(groups) {
		return false
	}
	for i, g := range groups {
		saved := c.Groups[i]
		if saved == nil || saved.Brand != g.Brand || saved.BaseName != g.BaseName ||
			!sameVariants(saved.Variants, g.Variants) {
			return false
		}
	}
	return true
}

func sameVariants(a, b []model.Variant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Row != b[i].Row || len(a[i].Attributes) != len(b[i].Attributes) {
			return false
		}
		for j, attr := range a[i].Attributes {
			if attr != b[i].Attributes[j] {
				return false
			}
		}
	}
	return true
}

// Store saves and loads batch checkpoints. It is only used by the single
// goroutine driving the batch loop.
type Store interface {
	// Save persists cp, replacing any checkpoint with the same index.
	Save(ctx context.Context, cp *Checkpoint) error
	// Load returns the checkpoint for index, or nil if none is saved.
	Load(ctx context.Context, index int) (*Checkpoint, error)
	// List returns the saved batch indices in ascending order.
	List(ctx context.Context) ([]int, error)
	// Clear removes every checkpoint.
	Clear(ctx context.Context) error
	Close() error
}

// NopStore is used when checkpointing is disabled.
type NopStore struct{}

func (NopStore) Save(context.Context, *Checkpoint) error        { return nil }
func (NopStore) Load(context.Context, int) (*Checkpoint, error) { return nil, nil }
func (NopStore) List(context.Context) ([]int, error)            { return nil, nil }
func (NopStore) Clear(context.Context) error                    { return nil }
func (NopStore) Close() error                                   { return nil }

// maxParallelLoads bounds concurrent reads in LoadAll.
const maxParallelLoads = 8

// LoadAll loads checkpoints 0..n-1 concurrently. The result has length n
// with nil entries for batches that have no checkpoint.
func LoadAll(ctx context.Context, s Store, n int) ([]*Checkpoint, error) {
	out := make([]*Checkpoint, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			cp, err := s.Load(gctx, i)
			if err != nil {
				return eris.Wrapf(err, "checkpoint: load batch %d", i)
			}
			out[i] = cp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Driver names a checkpoint backend.
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
)

// Config selects and configures a checkpoint backend.
type Config struct {
	Enabled bool
	Driver  Driver
	Dir     string
	DSN     string
}

func (c Config) dirOrDefault() string {
	if c.Dir == "" {
		return "checkpoints"
	}
	return c.Dir
}

// Open returns the store described by cfg. A disabled config yields a
// NopStore.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if !cfg.Enabled {
		return NopStore{}, nil
	}
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverFile, "":
		s, err = NewFileStore(cfg.Dir)
	case DriverSQLite:
		if cfg.DSN == "" {
			if err := os.MkdirAll(cfg.dirOrDefault(), 0o755); err != nil {
				return nil, eris.Wrap(err, "checkpoint: create dir")
			}
		}
		s, err = NewSQLite(ctx, sqliteDSN(cfg))
	default:
		return nil, eris.Errorf("checkpoint: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
