package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, NamespaceURL, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, NamespaceURL, "k1", []byte(`"https://acme.com/shampoo"`)))

	v, ok, err := s.Get(ctx, NamespaceURL, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `"https://acme.com/shampoo"`, string(v))

	// Same key in another namespace is independent.
	_, ok, err = s.Get(ctx, NamespaceImages, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Len(ctx, NamespaceURL)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFileStore_PersistsHumanReadable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, NamespaceImages, "k", []byte(`["a.jpg","b.jpg"]`)))

	data, err := os.ReadFile(filepath.Join(dir, "images_cache.json"))
	require.NoError(t, err)
	var raw map[string]Entry
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "k")
	assert.False(t, raw["k"].WrittenAt.IsZero())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, NamespaceImages, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `["a.jpg","b.jpg"]`, string(v))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content_cache.json"), []byte("{not json"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, NamespaceContent, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, NamespaceContent, "k", []byte(`{"a":1}`)))
	data, err := os.ReadFile(filepath.Join(dir, "content_cache.json"))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestFileStore_RejectsInvalidInput(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, Namespace("../etc"), "k", []byte(`1`)), ErrInvalidNamespace)
	assert.Error(t, s.Put(ctx, NamespaceURL, "k", []byte(`not json`)))

	_, _, err = s.Get(ctx, Namespace("A B"), "k")
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestFileStore_ConcurrentPuts(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, NamespaceURL, fmt.Sprintf("k%d", i%5), []byte(fmt.Sprintf("%d", i))))
		}(i)
	}
	wg.Wait()

	n, err := s.Len(ctx, NamespaceURL)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestFileStore_WriteFailureKeepsPreviousValue(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NamespaceURL, "k", []byte(`"v1"`)))

	// A directory in place of the target file makes the rename fail.
	require.NoError(t, os.Remove(s.Path(NamespaceURL)))
	require.NoError(t, os.Mkdir(s.Path(NamespaceURL), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(NamespaceURL), "x"), []byte("x"), 0o644))

	assert.Error(t, s.Put(ctx, NamespaceURL, "k", []byte(`"v2"`)))
	v, ok, err := s.Get(ctx, NamespaceURL, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"v1"`, string(v))
}
