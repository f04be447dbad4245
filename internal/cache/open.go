package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Supported Config.Driver values.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config selects and configures a cache backend.
type Config struct {
	Driver string
	// Dir is the directory for the file and badger backends and the default
	// location of the SQLite database.
	Dir string
	// DSN is the Postgres connection string or SQLite path.
	DSN  string
	Pool *PoolConfig
}

// Open returns the backend selected by cfg.Driver. An empty driver selects
// the file backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", DriverFile:
		s, err = NewFileStore(cfg.Dir)
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "cache: create dir %s", cfg.Dir)
			}
			dsn = filepath.Join(cfg.Dir, "cache.db")
		}
		s, err = NewSQLite(ctx, dsn)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, eris.New("cache: postgres driver requires a dsn")
		}
		s, err = NewPostgres(ctx, cfg.DSN, cfg.Pool)
	case DriverBadger:
		s, err = NewBadger(filepath.Join(cfg.Dir, "badger"))
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
