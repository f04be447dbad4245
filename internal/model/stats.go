package model

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stage names one of the three per-batch enrichment stages.
type Stage string

const (
	StageResolveURL      Stage = "resolve_url"
	StageExtractImages   Stage = "extract_images"
	StageGenerateContent Stage = "generate_content"
)

// Stages lists the enrichment stages in execution order.
var Stages = []Stage{StageResolveURL, StageExtractImages, StageGenerateContent}

// maxRecordedErrors bounds the error list kept in memory.
const maxRecordedErrors = 500

// StageStats holds the counters of a single stage. Counter fields use atomic
// operations for safe concurrent access from worker goroutines.
type StageStats struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
	skipped   atomic.Int64
}

func (s *StageStats) Attempted() int64 { return s.attempted.Load() }
func (s *StageStats) Succeeded() int64 { return s.succeeded.Load() }
func (s *StageStats) Failed() int64    { return s.failed.Load() }
func (s *StageStats) CacheHits() int64 { return s.cacheHits.Load() }
func (s *StageStats) Skipped() int64   { return s.skipped.Load() }

// RecordedError is one per-group failure kept for the run summary.
type RecordedError struct {
	Stage Stage     `json:"stage"`
	Group string    `json:"group"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// RunStatistics aggregates counters for one pipeline run. Increments are
// safe from any goroutine, including Finish while a snapshot is being read.
type RunStatistics struct {
	RunID     string
	StartedAt time.Time

	finishedAt     atomic.Pointer[time.Time]
	rows           atomic.Int64
	skippedRows    atomic.Int64
	groups         atomic.Int64
	batches        atomic.Int64
	batchesResumed atomic.Int64

	stages map[Stage]*StageStats

	mu            sync.Mutex
	errors        []RecordedError
	droppedErrors int
}

// NewRunStatistics creates statistics for a new run starting now.
func NewRunStatistics() *RunStatistics {
	s := &RunStatistics{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		stages:    make(map[Stage]*StageStats, len(Stages)),
	}
	for _, st := range Stages {
		s.stages[st] = &StageStats{}
	}
	return s
}

// Stage returns the counters for st. Unknown stages get a detached counter
// so callers never need a nil check.
func (s *RunStatistics) Stage(st Stage) *StageStats {
	if ss, ok := s.stages[st]; ok {
		return ss
	}
	return &StageStats{}
}

func (s *RunStatistics) AddRows(n int)        { s.rows.Add(int64(n)) }
func (s *RunStatistics) AddSkippedRows(n int) { s.skippedRows.Add(int64(n)) }
func (s *RunStatistics) AddGroups(n int)      { s.groups.Add(int64(n)) }
func (s *RunStatistics) IncBatches()          { s.batches.Add(1) }
func (s *RunStatistics) IncBatchesResumed()   { s.batchesResumed.Add(1) }

func (s *RunStatistics) Rows() int64           { return s.rows.Load() }
func (s *RunStatistics) SkippedRows() int64    { return s.skippedRows.Load() }
func (s *RunStatistics) Groups() int64         { return s.groups.Load() }
func (s *RunStatistics) Batches() int64        { return s.batches.Load() }
func (s *RunStatistics) BatchesResumed() int64 { return s.batchesResumed.Load() }

// RecordAttempt counts one dispatch of a group into stage st.
func (s *RunStatistics) RecordAttempt(st Stage) { s.Stage(st).attempted.Add(1) }

// RecordSuccess counts a successful stage result; cached marks a cache hit.
func (s *RunStatistics) RecordSuccess(st Stage, cached bool) {
	ss := s.Stage(st)
	ss.succeeded.Add(1)
	if cached {
		ss.cacheHits.Add(1)
	}
}

// RecordSkip counts a group the stage had no input for.
func (s *RunStatistics) RecordSkip(st Stage) { s.Stage(st).skipped.Add(1) }

// RecordFailure counts a failed stage result and keeps the error message.
func (s *RunStatistics) RecordFailure(st Stage, group string, err error) {
	s.Stage(st).failed.Add(1)
	msg := "no result"
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) >= maxRecordedErrors {
		s.droppedErrors++
		return
	}
	s.errors = append(s.errors, RecordedError{Stage: st, Group: group, Error: msg, At: time.Now().UTC()})
}

// Errors returns a copy of the recorded errors.
func (s *RunStatistics) Errors() []RecordedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedError(nil), s.errors...)
}

// Finish stamps the end time.
func (s *RunStatistics) Finish() {
	now := time.Now().UTC()
	s.finishedAt.Store(&now)
}

// FinishedAt returns the end time, or the zero time while the run is live.
func (s *RunStatistics) FinishedAt() time.Time {
	if fin := s.finishedAt.Load(); fin != nil {
		return *fin
	}
	return time.Time{}
}

// Duration is the wall time of the run, or the time elapsed so far.
func (s *RunStatistics) Duration() time.Duration {
	fin := s.FinishedAt()
	if fin.IsZero() {
		return time.Since(s.StartedAt)
	}
	return fin.Sub(s.StartedAt)
}

// StageSnapshot is the JSON form of StageStats.
type StageSnapshot struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	CacheHits int64 `json:"cache_hits"`
	Skipped   int64 `json:"skipped"`
}

// StatsSnapshot is a point-in-time copy of RunStatistics.
type StatsSnapshot struct {
	RunID          string                  `json:"run_id"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     *time.Time              `json:"finished_at,omitempty"`
	DurationSecs   float64                 `json:"duration_secs"`
	Rows           int64                   `json:"rows"`
	SkippedRows    int64                   `json:"skipped_rows"`
	Groups         int64                   `json:"groups"`
	Batches        int64                   `json:"batches"`
	BatchesResumed int64                   `json:"batches_resumed"`
	Stages         map[Stage]StageSnapshot `json:"stages"`
	Errors         []RecordedError         `json:"errors,omitempty"`
	DroppedErrors  int                     `json:"dropped_errors,omitempty"`
}

// Snapshot copies the current counter values.
func (s *RunStatistics) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		RunID:          s.RunID,
		StartedAt:      s.StartedAt,
		DurationSecs:   s.Duration().Seconds(),
		Rows:           s.Rows(),
		SkippedRows:    s.SkippedRows(),
		Groups:         s.Groups(),
		Batches:        s.Batches(),
		BatchesResumed: s.BatchesResumed(),
		Stages:         make(map[Stage]StageSnapshot, len(s.stages)),
	}
	if fin := s.FinishedAt(); !fin.IsZero() {
		snap.FinishedAt = &fin
	}
	for st, ss := range s.stages {
		snap.Stages[st] = StageSnapshot{
			Attempted: ss.Attempted(),
			Succeeded: ss.Succeeded(),
			Failed:    ss.Failed(),
			CacheHits: ss.CacheHits(),
			Skipped:   ss.Skipped(),
		}
	}
	s.mu.Lock()
	snap.Errors = append([]RecordedError(nil), s.errors...)
	snap.DroppedErrors = s.droppedErrors
	s.mu.Unlock()
	return snap
}

// MarshalJSON implements json.Marshaler.
func (s *RunStatistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
