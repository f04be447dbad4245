package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/cache"
	"github.com/sells-group/catalog-cli/internal/config"
	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []store.Run{
		{
			ID:     "abc12345-6789-0000-0000-000000000000",
			Input:  "catalog.csv",
			Status: store.RunStatusComplete,
			Stats: &model.StatsSnapshot{
				Groups: 42,
				Stages: map[model.Stage]model.StageSnapshot{
					model.StageResolveURL:    {Failed: 2},
					model.StageExtractImages: {Failed: 1},
				},
			},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Input:     "/very/long/path/to/some/nested/catalog-export.xlsx",
			Status:    store.RunStatusInterrupted,
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "catalog.csv")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "interrupted")
	assert.Contains(t, output, "...")
	assert.Contains(t, output, "2026-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatFailures(t *testing.T) {
	var buf bytes.Buffer
	formatFailures(&buf, []store.FailureRecord{{
		ID:    "f1",
		RunID: "run-1",
		Failure: resilience.Failure{
			Namespace: "images",
			Key:       "0123456789abcdef",
			Class:     "transient",
			Error:     "firecrawl: HTTP 503: upstream unavailable, please retry the request later on",
			Attempts:  3,
			FailedAt:  time.Date(2026, 6, 15, 10, 30, 5, 0, time.UTC),
		},
	}})

	output := buf.String()
	assert.Contains(t, output, "images")
	assert.Contains(t, output, "01234567")
	assert.NotContains(t, output, "0123456789abcdef")
	assert.Contains(t, output, "transient")
	assert.Contains(t, output, "2026-06-15 10:30:05")
	assert.Contains(t, output, "...")
}

func TestFormatCheckpoints(t *testing.T) {
	var buf bytes.Buffer
	formatCheckpoints(&buf, nil)
	assert.Equal(t, "No checkpoints found.\n", buf.String())

	buf.Reset()
	formatCheckpoints(&buf, []int{0, 1, 3})
	assert.Equal(t, "3 checkpoints: 0 1 3\n", buf.String())
}

func TestCacheCounts(t *testing.T) {
	cs, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cs.Put(ctx, cache.NamespaceURL, "k1", []byte(`"https://acme.com"`)))
	require.NoError(t, cs.Put(ctx, cache.NamespaceURL, "k2", []byte(`"https://beta.com"`)))
	require.NoError(t, cs.Put(ctx, cache.NamespaceContent, "k1", []byte(`{"category":"Other"}`)))

	counts, err := cacheCounts(ctx, cs)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[cache.NamespaceURL])
	assert.Equal(t, 0, counts[cache.NamespaceImages])
	assert.Equal(t, 1, counts[cache.NamespaceContent])

	var buf bytes.Buffer
	formatCacheStats(&buf, "file", counts)
	assert.Contains(t, buf.String(), "Driver:")
	assert.Contains(t, buf.String(), "total")
	assert.Contains(t, buf.String(), "3")
}

func TestGroupCatalog(t *testing.T) {
	dir := setupConfig(t)
	input := writeCatalog(t, dir)

	var buf bytes.Buffer
	require.NoError(t, groupCatalog(input, config.GroupingConfig{}, &buf))

	var groups []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &groups))
	assert.Len(t, groups, 3)
}

func TestGroupCatalog_BadLexicon(t *testing.T) {
	dir := setupConfig(t)
	input := writeCatalog(t, dir)

	err := groupCatalog(input, config.GroupingConfig{LexiconPath: "missing.yaml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFormatRunSummary(t *testing.T) {
	snap := model.StatsSnapshot{
		RunID:          "run-1",
		Rows:           10,
		SkippedRows:    2,
		Groups:         4,
		Batches:        1,
		BatchesResumed: 1,
		DurationSecs:   1.5,
		Stages: map[model.Stage]model.StageSnapshot{
			model.StageResolveURL: {Succeeded: 3, Failed: 1},
		},
	}

	var buf bytes.Buffer
	formatRunSummary(&buf, snap, []string{"out_part001.csv"})

	output := buf.String()
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "10 (2 skipped)")
	assert.Contains(t, output, "2 (1 resumed)")
	assert.Contains(t, output, "resolve_url")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "out_part001.csv")
}
