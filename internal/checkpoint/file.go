package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var fileRe = regexp.MustCompile(`^checkpoint_batch_(\d+)\.json$`)

// FileStore writes one JSON file per batch under dir.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "checkpoints"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file for batch index.
func (s *FileStore) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint_batch_%d.json", index))
}

// Save writes cp through a synced temp file and an atomic rename, so a
// partially written checkpoint is never visible.
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal")
	}
	path := s.Path(cp.BatchIndex)

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "checkpoint: replace %s", path)
	}
	return nil
}

// Load reads the checkpoint for index. A missing file returns nil. A corrupt
// file is logged and also returns nil so the batch is processed again.
func (s *FileStore) Load(_ context.Context, index int) (*Checkpoint, error) {
	path := s.Path(index)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: read %s", path)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil || cp.BatchIndex != index {
		zap.L().Warn("checkpoint: ignoring corrupt checkpoint",
			zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	return &cp, nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: read dir %s", s.dir)
	}
	var out []int
	for _, e := range entries {
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	indices, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, i := range indices {
		if err := os.Remove(s.Path(i)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "checkpoint: remove batch %d", i)
		}
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
