package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoints as rows of a single table.
type SQLiteStore struct {
	db *sql.DB
}

func sqliteDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return filepath.Join(cfg.dirOrDefault(), "checkpoints.db")
}

// NewSQLite opens the database at dsn and creates the checkpoints table.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batch_checkpoints (
	batch_index  INTEGER PRIMARY KEY,
	group_count  INTEGER NOT NULL,
	groups       TEXT NOT NULL,
	completed_at TEXT NOT NULL
);
`

// Migrate creates the checkpoints table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate checkpoints")
}

func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	groups, err := json.Marshal(cp.Groups)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint groups")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_checkpoints (batch_index, group_count, groups, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (batch_index) DO UPDATE SET group_count = excluded.group_count,
		   groups = excluded.groups, completed_at = excluded.completed_at`,
		cp.BatchIndex, cp.GroupCount, string(groups), cp.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) Load(ctx context.Context, index int) (*Checkpoint, error) {
	var (
		groups      string
		completedAt string
	)
	cp := &Checkpoint{BatchIndex: index}
	err := s.db.QueryRowContext(ctx,
		`SELECT group_count, groups, completed_at FROM batch_checkpoints WHERE batch_index = ?`,
		index,
	).Scan(&cp.GroupCount, &groups, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: load checkpoint")
	}
	if err := json.Unmarshal([]byte(groups), &cp.Groups); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint groups")
	}
	if cp.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse checkpoint time")
	}
	return cp, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_index FROM batch_checkpoints ORDER BY batch_index`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close() //nolint:errcheck

	var out []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint index")
		}
		out = append(out, i)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate checkpoints")
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM batch_checkpoints`)
	return eris.Wrap(err, "sqlite: clear checkpoints")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
