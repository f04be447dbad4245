package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileStore keeps one human-readable JSON file per namespace under dir.
// Files are loaded lazily and rewritten through a temp file plus rename on
// every Put.
type FileStore struct {
	dir string

	mu     sync.Mutex
	spaces map[Namespace]*fileSpace
}

type fileSpace struct {
	mu      sync.Mutex
	path    string
	loaded  bool
	entries map[string]Entry
}

// NewFileStore creates dir if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &FileStore{dir: dir, spaces: make(map[Namespace]*fileSpace)}, nil
}

// Path returns the file backing ns.
func (s *FileStore) Path(ns Namespace) string {
	return filepath.Join(s.dir, string(ns)+"_cache.json")
}

func (s *FileStore) space(ns Namespace) (*fileSpace, error) {
	if !ns.Valid() {
		return nil, eris.Wrapf(ErrInvalidNamespace, "namespace %q", ns)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[ns]
	if !ok {
		sp = &fileSpace{path: s.Path(ns)}
		s.spaces[ns] = sp
	}
	return sp, nil
}

// load reads the namespace file once. Missing files start empty; unreadable
// or corrupt files are logged and also start empty. Caller holds sp.mu.
func (sp *fileSpace) load() {
	if sp.loaded {
		return
	}
	sp.loaded = true
	sp.entries = make(map[string]Entry)

	data, err := os.ReadFile(sp.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			zap.L().Warn("cache: unreadable cache file, starting empty",
				zap.String("path", sp.path), zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, &sp.entries); err != nil {
		zap.L().Warn("cache: corrupt cache file, starting empty",
			zap.String("path", sp.path), zap.Error(err))
		sp.entries = make(map[string]Entry)
	}
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	sp, err := s.space(ns)
	if err != nil {
		return nil, false, err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.load()

	e, ok := sp.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.Value...), true, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, ns Namespace, key string, value []byte) error {
	if err := checkPut(ns, value); err != nil {
		return err
	}
	sp, err := s.space(ns)
	if err != nil {
		return err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.load()

	prev, had := sp.entries[key]
	sp.entries[key] = Entry{Value: append(json.RawMessage(nil), value...), WrittenAt: time.Now().UTC()}
	if err := writeAtomic(sp.path, sp.entries); err != nil {
		if had {
			sp.entries[key] = prev
		} else {
			delete(sp.entries, key)
		}
		return err
	}
	return nil
}

// Len implements Store.
func (s *FileStore) Len(_ context.Context, ns Namespace) (int, error) {
	sp, err := s.space(ns)
	if err != nil {
		return 0, err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.load()
	return len(sp.entries), nil
}

// Close implements Store. Every Put is already durable.
func (s *FileStore) Close() error { return nil }

// writeAtomic marshals v and replaces path through a synced temp file in the
// same directory.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: marshal entries")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "cache: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "cache: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cache: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "cache: replace %s", path)
	}
	return nil
}
