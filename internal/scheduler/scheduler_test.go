package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
)

func makeGroups(n int) []*model.ProductGroup {
	groups := make([]*model.ProductGroup, n)
	for i := range groups {
		groups[i] = &model.ProductGroup{Brand: "Acme", BaseName: fmt.Sprintf("Product %d", i)}
	}
	return groups
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewPool(size)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestPartition(t *testing.T) {
	groups := makeGroups(7)

	batches := Partition(groups, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Groups, 3)
	assert.Len(t, batches[1].Groups, 3)
	assert.Len(t, batches[2].Groups, 1)

	var flat []*model.ProductGroup
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		flat = append(flat, b.Groups...)
	}
	assert.Equal(t, groups, flat)
}

func TestPartition_Deterministic(t *testing.T) {
	groups := makeGroups(10)
	assert.Equal(t, Partition(groups, 4), Partition(groups, 4))
}

func TestPartition_EdgeSizes(t *testing.T) {
	assert.Empty(t, Partition(nil, 5))
	assert.Len(t, Partition(makeGroups(3), 0), 3)
	assert.Len(t, Partition(makeGroups(3), 10), 1)
}

// recorder logs (stage, group) events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) stage(name model.Stage, result func(g *model.ProductGroup) Result) Stage {
	return Stage{Name: name, Run: func(_ context.Context, g *model.ProductGroup) Result {
		r.mu.Lock()
		r.events = append(r.events, string(name)+":"+g.BaseName)
		r.mu.Unlock()
		if result == nil {
			return OK(false)
		}
		return result(g)
	}}
}

func TestRunBatch_StagesRunInOrder(t *testing.T) {
	rec := &recorder{}
	stats := model.NewRunStatistics()
	s := New(newTestPool(t, 4), stats,
		rec.stage(model.StageResolveURL, nil),
		rec.stage(model.StageExtractImages, nil),
		rec.stage(model.StageGenerateContent, nil),
	)

	b := Batch{Index: 0, Groups: makeGroups(6)}
	require.NoError(t, s.RunBatch(context.Background(), b))

	require.Len(t, rec.events, 18)
	// Every event of a stage precedes every event of the next stage.
	for i, ev := range rec.events {
		want := model.Stages[i/6]
		assert.Contains(t, ev, string(want)+":", "event %d", i)
	}

	// Each group dispatched once per stage.
	counts := make(map[string]int)
	for _, ev := range rec.events {
		counts[ev]++
	}
	for ev, n := range counts {
		assert.Equal(t, 1, n, ev)
	}

	for _, st := range model.Stages {
		assert.Equal(t, int64(6), stats.Stage(st).Attempted())
		assert.Equal(t, int64(6), stats.Stage(st).Succeeded())
	}
}

func TestRunBatch_FailuresDoNotStopBatch(t *testing.T) {
	rec := &recorder{}
	stats := model.NewRunStatistics()
	s := New(newTestPool(t, 2), stats,
		rec.stage(model.StageResolveURL, func(g *model.ProductGroup) Result {
			if g.BaseName == "Product 1" {
				return Fail(errors.New("not found"))
			}
			g.Enrichment.URL = "https://acme.com/" + g.ID()
			return OK(false)
		}),
		rec.stage(model.StageExtractImages, func(g *model.ProductGroup) Result {
			if g.Enrichment.URL == "" {
				return Skip()
			}
			return OK(true)
		}),
	)

	groups := makeGroups(3)
	require.NoError(t, s.RunBatch(context.Background(), Batch{Groups: groups}))

	url := stats.Stage(model.StageResolveURL)
	assert.Equal(t, int64(2), url.Succeeded())
	assert.Equal(t, int64(1), url.Failed())

	img := stats.Stage(model.StageExtractImages)
	assert.Equal(t, int64(3), img.Attempted())
	assert.Equal(t, int64(2), img.Succeeded())
	assert.Equal(t, int64(2), img.CacheHits())
	assert.Equal(t, int64(1), img.Skipped())

	assert.Empty(t, groups[1].Enrichment.URL)
	assert.NotEmpty(t, groups[0].Enrichment.URL)
	require.Len(t, stats.Errors(), 1)
}

func TestRunBatch_PanicRecordedAsFailure(t *testing.T) {
	rec := &recorder{}
	stats := model.NewRunStatistics()
	s := New(newTestPool(t, 2), stats,
		rec.stage(model.StageGenerateContent, func(g *model.ProductGroup) Result {
			if g.BaseName == "Product 0" {
				panic("bad response")
			}
			return OK(false)
		}),
	)

	require.NoError(t, s.RunBatch(context.Background(), Batch{Groups: makeGroups(3)}))

	st := stats.Stage(model.StageGenerateContent)
	assert.Equal(t, int64(3), st.Attempted())
	assert.Equal(t, int64(2), st.Succeeded())
	assert.Equal(t, int64(1), st.Failed())
}

func TestRun_CallsDoneInBatchOrder(t *testing.T) {
	stats := model.NewRunStatistics()
	s := New(newTestPool(t, 3), stats, (&recorder{}).stage(model.StageResolveURL, nil))

	batches := Partition(makeGroups(10), 3)
	s.SetTotal(len(batches), 0)

	var done []int
	err := s.Run(context.Background(), batches, func(_ context.Context, b Batch) error {
		done = append(done, b.Index)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, done)
	assert.Equal(t, int64(4), stats.Batches())

	p := s.Progress()
	assert.Equal(t, 4, p.TotalBatches)
	assert.Equal(t, 4, p.CompletedBatches)
	assert.Equal(t, 3, p.CurrentBatch)
}

func TestRun_DoneErrorStops(t *testing.T) {
	s := New(newTestPool(t, 2), nil, (&recorder{}).stage(model.StageResolveURL, nil))
	writeErr := errors.New("disk full")

	var done []int
	err := s.Run(context.Background(), Partition(makeGroups(6), 2), func(_ context.Context, b Batch) error {
		done = append(done, b.Index)
		if b.Index == 1 {
			return writeErr
		}
		return nil
	})

	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, []int{0, 1}, done)
}

func TestRun_CancelSkipsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(newTestPool(t, 1), nil, Stage{
		Name: model.StageResolveURL,
		Run: func(_ context.Context, g *model.ProductGroup) Result {
			if g.BaseName == "Product 2" {
				cancel()
			}
			return OK(false)
		},
	})

	var done []int
	err := s.Run(ctx, Partition(makeGroups(6), 2), func(_ context.Context, b Batch) error {
		done = append(done, b.Index)
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0}, done)
}
