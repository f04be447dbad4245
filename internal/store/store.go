// Package store keeps the history of enrichment runs and the collaborator
// failures recorded during each of them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// Run is one invocation of the enrichment pipeline.
type Run struct {
	ID        string               `json:"id"`
	Input     string               `json:"input"`
	Status    RunStatus            `json:"status"`
	Stats     *model.StatsSnapshot `json:"stats,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// FailureRecord is a resilience.Failure attributed to a run.
type FailureRecord struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	resilience.Failure
}

// FailureFilter narrows ListFailures.
type FailureFilter struct {
	RunID     string `json:"run_id,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Store persists runs and their failures.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, id, input string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, stats *model.StatsSnapshot, runErr error) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Failures
	RecordFailure(ctx context.Context, runID string, f resilience.Failure) error
	ListFailures(ctx context.Context, filter FailureFilter) ([]FailureRecord, error)
	CountFailures(ctx context.Context, runID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Supported Config.Driver values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the run history backend.
type Config struct {
	Driver string
	DSN    string
	Pool   *PoolConfig
}

// Open connects to the backend named by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.DSN == "" {
			cfg.DSN = "catalog.db"
		}
		s, err = NewSQLite(cfg.DSN)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, eris.New("store: postgres driver requires a database url")
		}
		s, err = NewPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// StatusFor maps the outcome of a pipeline run to a RunStatus.
func StatusFor(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusComplete
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return RunStatusInterrupted
	default:
		return RunStatusFailed
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
