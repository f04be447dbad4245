package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/cache"
	"github.com/sells-group/catalog-cli/internal/checkpoint"
	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
)

// catalogRows returns two variant rows for each of n products.
func catalogRows(t *testing.T, n int) []model.VariantRow {
	t.Helper()
	var rows []model.VariantRow
	for i := 0; i < n; i++ {
		for j, color := range []string{"Black", "Red"} {
			row, err := model.NewVariantRow("Acme", fmt.Sprintf("UPC%03d%d", i, j),
				fmt.Sprintf("Product %02d %s 50ml", i, color), 1, 9.99)
			require.NoError(t, err)
			rows = append(rows, row)
		}
	}
	return rows
}

func fastInvoker(store cache.Store) *resilience.Invoker {
	return resilience.NewInvoker(store,
		resilience.WithRetry(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}),
		resilience.WithTimeout(time.Second),
	)
}

func newFileCache(t *testing.T) *cache.FileStore {
	t.Helper()
	fs, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return fs
}

func newCheckpoints(t *testing.T) *checkpoint.FileStore {
	t.Helper()
	cps, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	return cps
}

func groupsJSON(t *testing.T, groups []*model.ProductGroup) string {
	t.Helper()
	data, err := json.Marshal(groups)
	require.NoError(t, err)
	return string(data)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{}, nil, fastInvoker(nil), nil, Collaborators{})
	assert.Error(t, err)

	_, err = New(Config{}, nil, nil, nil, newFakeCollab().collaborators())
	assert.Error(t, err)
}

func TestRun_EnrichesEveryGroup(t *testing.T) {
	collab := newFakeCollab()
	p, err := New(Config{BatchSize: 3, Workers: 4}, nil, fastInvoker(newFileCache(t)), newCheckpoints(t), collab.collaborators())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), catalogRows(t, 7))
	require.NoError(t, err)

	require.Len(t, res.Groups, 7)
	for i, g := range res.Groups {
		assert.Equal(t, fmt.Sprintf("Product %02d", i), g.BaseName)
		assert.Len(t, g.Variants, 2)
		assert.Equal(t, fmt.Sprintf("https://acme.com/product-%02d", i), g.Enrichment.URL)
		assert.Len(t, g.Enrichment.Images, MaxImages)
		assert.Equal(t, "Hair Care", g.Enrichment.Category)
		assert.NotEmpty(t, g.Enrichment.Description)
	}

	stats := res.Stats
	assert.Equal(t, int64(14), stats.Rows())
	assert.Equal(t, int64(7), stats.Groups())
	assert.Equal(t, int64(3), stats.Batches())
	for _, st := range model.Stages {
		assert.Equal(t, int64(7), stats.Stage(st).Attempted(), st)
		assert.Equal(t, int64(7), stats.Stage(st).Succeeded(), st)
		assert.Zero(t, stats.Stage(st).Failed(), st)
	}
	assert.False(t, stats.FinishedAt().IsZero())
	assert.Equal(t, 3, p.Progress().CompletedBatches)
}

func TestRun_FailuresDegradeGracefully(t *testing.T) {
	collab := newFakeCollab()
	collab.resolveErrs["Product 01"] = resilience.NewPermanentError(errors.New("rejected"))
	collab.noURL["Product 02"] = true

	p, err := New(Config{BatchSize: 2, Workers: 2}, nil, fastInvoker(newFileCache(t)), nil, collab.collaborators())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), catalogRows(t, 4))
	require.NoError(t, err)

	assert.Empty(t, res.Groups[1].Enrichment.URL)
	assert.Empty(t, res.Groups[1].Enrichment.Images)
	assert.Equal(t, "Hair Care", res.Groups[1].Enrichment.Category)
	assert.Empty(t, res.Groups[2].Enrichment.URL)

	url := res.Stats.Stage(model.StageResolveURL)
	assert.Equal(t, int64(2), url.Succeeded())
	assert.Equal(t, int64(2), url.Failed())

	img := res.Stats.Stage(model.StageExtractImages)
	assert.Equal(t, int64(2), img.Skipped())
	assert.Equal(t, int64(2), img.Succeeded())

	assert.Equal(t, int64(4), res.Stats.Stage(model.StageGenerateContent).Succeeded())
	assert.Len(t, res.Stats.Errors(), 2)
}

func TestRun_SecondRunIsServedFromCache(t *testing.T) {
	store := newFileCache(t)
	rows := catalogRows(t, 5)

	first := newFakeCollab()
	first.noURL["Product 03"] = true
	p1, err := New(Config{BatchSize: 2}, nil, fastInvoker(store), nil, first.collaborators())
	require.NoError(t, err)
	res1, err := p1.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, int32(5), first.resolveCalls.Load())

	second := newFakeCollab()
	p2, err := New(Config{BatchSize: 2}, nil, fastInvoker(store), nil, second.collaborators())
	require.NoError(t, err)
	res2, err := p2.Run(context.Background(), rows)
	require.NoError(t, err)

	// Only the missing URL is asked for again; it was never cached.
	assert.Equal(t, int32(1), second.resolveCalls.Load())
	assert.Equal(t, int32(1), second.extractCalls.Load())
	assert.Zero(t, second.enrichCalls.Load())
	assert.Equal(t, int64(4), res2.Stats.Stage(model.StageResolveURL).CacheHits())

	assert.Equal(t, res1.Groups[0].Enrichment, res2.Groups[0].Enrichment)
	assert.NotEmpty(t, res2.Groups[3].Enrichment.URL)
}

func TestRun_ResumeMatchesUninterruptedRun(t *testing.T) {
	rows := catalogRows(t, 10)
	cfg := Config{BatchSize: 3, Workers: 3}

	// Uninterrupted reference run.
	full, err := New(cfg, nil, fastInvoker(nil), nil, newFakeCollab().collaborators())
	require.NoError(t, err)
	want, err := full.Run(context.Background(), rows)
	require.NoError(t, err)

	// Interrupted after batch 1 (groups 0-5).
	cps := newCheckpoints(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted, err := New(cfg, nil, fastInvoker(nil), &cancelAfter{Store: cps, k: 1, cancel: cancel}, newFakeCollab().collaborators())
	require.NoError(t, err)
	_, err = interrupted.Run(ctx, rows)
	require.ErrorIs(t, err, context.Canceled)

	saved, err := cps.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, saved)

	// Resume with a cold cache: only groups of batches 2 and 3 are called.
	collab := newFakeCollab()
	resumed, err := New(cfg, nil, fastInvoker(nil), cps, collab.collaborators())
	require.NoError(t, err)
	got, err := resumed.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 2, got.Resumed)
	assert.Equal(t, int64(2), got.Stats.BatchesResumed())
	assert.Equal(t, int32(4), collab.resolveCalls.Load())
	assert.Equal(t, int32(4), collab.enrichCalls.Load())
	assert.Equal(t, groupsJSON(t, want.Groups), groupsJSON(t, got.Groups))

	saved, err = cps.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, saved)
}

func TestRun_ResumeStopsAtFirstGap(t *testing.T) {
	rows := catalogRows(t, 6)
	cfg := Config{BatchSize: 2}
	cps := newCheckpoints(t)

	p, err := New(cfg, nil, fastInvoker(nil), cps, newFakeCollab().collaborators())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), rows)
	require.NoError(t, err)

	require.NoError(t, os.Remove(cps.Path(1)))

	collab := newFakeCollab()
	p, err = New(cfg, nil, fastInvoker(nil), cps, collab.collaborators())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Resumed)
	assert.Equal(t, int32(4), collab.resolveCalls.Load())
}

func TestRun_MismatchedCheckpointIsReprocessed(t *testing.T) {
	cps := newCheckpoints(t)
	stale := checkpoint.New(0, []*model.ProductGroup{{Brand: "Other", BaseName: "Thing"}})
	require.NoError(t, cps.Save(context.Background(), stale))

	collab := newFakeCollab()
	p, err := New(Config{BatchSize: 2}, nil, fastInvoker(nil), cps, collab.collaborators())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), catalogRows(t, 2))
	require.NoError(t, err)

	assert.Zero(t, res.Resumed)
	assert.Equal(t, int32(2), collab.resolveCalls.Load())
}

func TestRun_ChangedRowsAreReprocessed(t *testing.T) {
	mustRow := func(upc, name string, price float64) model.VariantRow {
		row, err := model.NewVariantRow("Acme", upc, name, 1, price)
		require.NoError(t, err)
		return row
	}
	cps := newCheckpoints(t)

	p, err := New(Config{BatchSize: 2}, nil, fastInvoker(nil), cps, newFakeCollab().collaborators())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), []model.VariantRow{
		mustRow("UPC1", "Shampoo Black 50ml", 10),
		mustRow("UPC2", "Shampoo Red 50ml", 10),
	})
	require.NoError(t, err)

	// Same brand, base name and group size, different member rows.
	collab := newFakeCollab()
	p, err = New(Config{BatchSize: 2}, nil, fastInvoker(nil), cps, collab.collaborators())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), []model.VariantRow{
		mustRow("UPC1", "Shampoo Black 50ml", 99),
		mustRow("UPC9", "Shampoo Blue 50ml", 10),
	})
	require.NoError(t, err)

	assert.Zero(t, res.Resumed)
	assert.Equal(t, int32(1), collab.resolveCalls.Load())
	require.Len(t, res.Groups, 1)
	rows := res.Groups[0].Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "UPC1", rows[0].UPC)
	assert.InDelta(t, 99, rows[0].Price, 1e-9)
	assert.Equal(t, "UPC9", rows[1].UPC)
}

func TestRun_FreshIgnoresCheckpoints(t *testing.T) {
	rows := catalogRows(t, 4)
	cps := newCheckpoints(t)

	p, err := New(Config{BatchSize: 2}, nil, fastInvoker(nil), cps, newFakeCollab().collaborators())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), rows)
	require.NoError(t, err)

	collab := newFakeCollab()
	p, err = New(Config{BatchSize: 2, Fresh: true}, nil, fastInvoker(nil), cps, collab.collaborators())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Zero(t, res.Resumed)
	assert.Equal(t, int32(4), collab.resolveCalls.Load())
}

func TestRun_CheckpointWriteFailureAborts(t *testing.T) {
	cps := newCheckpoints(t)
	collab := newFakeCollab()
	p, err := New(Config{BatchSize: 2}, nil, fastInvoker(nil), &failAt{Store: cps, k: 1}, collab.collaborators())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), catalogRows(t, 6))
	require.Error(t, err)

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, 1, cpErr.Batch)
	assert.Contains(t, err.Error(), "disk full")

	// Batches 0 and 1 were enriched, batch 2 never started.
	assert.Equal(t, int32(4), collab.resolveCalls.Load())
	assert.NotNil(t, res)
	assert.Empty(t, res.Groups[4].Enrichment.URL)

	saved, err := cps.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, saved)
}

func TestRun_EmptyInput(t *testing.T) {
	p, err := New(Config{}, nil, fastInvoker(nil), newCheckpoints(t), newFakeCollab().collaborators())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoGroups)
	require.NotNil(t, res)
	assert.Empty(t, res.Groups)
	assert.Zero(t, res.Stats.Batches())
	assert.False(t, res.Stats.FinishedAt().IsZero())
}

func TestBreakerStates(t *testing.T) {
	collab := newFakeCollab()
	collab.resolveErrs["Product 00"] = resilience.NewTransientError(errors.New("upstream 503"), 503)

	inv := resilience.NewInvoker(nil,
		resilience.WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		resilience.WithBreakers(resilience.NewBreakers(resilience.FromBreakerConfig(1, time.Hour))),
	)
	p, err := New(Config{BatchSize: 1, Workers: 1}, nil, inv, nil, collab.collaborators())
	require.NoError(t, err)
	assert.Empty(t, p.BreakerStates())

	res, err := p.Run(context.Background(), catalogRows(t, 3))
	require.NoError(t, err)

	states := p.BreakerStates()
	assert.Equal(t, "open", states["url"])
	assert.Equal(t, "closed", states["content"])
	assert.Equal(t, int64(3), res.Stats.Stage(model.StageResolveURL).Failed())
}

func TestBreakerStates_Disabled(t *testing.T) {
	p, err := New(Config{}, nil, fastInvoker(nil), nil, newFakeCollab().collaborators())
	require.NoError(t, err)
	assert.Nil(t, p.BreakerStates())
}

func TestProgress_BeforeRun(t *testing.T) {
	p, err := New(Config{}, nil, fastInvoker(nil), nil, newFakeCollab().collaborators())
	require.NoError(t, err)
	assert.Equal(t, -1, p.Progress().CurrentBatch)
}
