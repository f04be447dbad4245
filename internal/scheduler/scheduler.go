// Package scheduler partitions product groups into batches and drives the
// ordered enrichment stages of each batch over a bounded worker pool.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Batch is an order-preserving slice of groups processed together.
type Batch struct {
	Index  int
	Groups []*model.ProductGroup
}

// Partition splits groups into consecutive batches of at most size groups.
// The result depends only on the group order and size.
func Partition(groups []*model.ProductGroup, size int) []Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]Batch, 0, (len(groups)+size-1)/size)
	for start := 0; start < len(groups); start += size {
		end := min(start+size, len(groups))
		batches = append(batches, Batch{Index: len(batches), Groups: groups[start:end]})
	}
	return batches
}

// Status is the outcome of one stage for one group.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusSkipped
)

// Result is returned by a StageFunc.
type Result struct {
	Status Status
	Cached bool
	Err    error
}

// OK is a successful result; cached marks a cache hit.
func OK(cached bool) Result { return Result{Status: StatusSucceeded, Cached: cached} }

// Fail is a failed result. err may be nil when the collaborator simply had
// no answer.
func Fail(err error) Result { return Result{Status: StatusFailed, Err: err} }

// Skip is returned when the stage had no input for the group.
func Skip() Result { return Result{Status: StatusSkipped} }

// StageFunc enriches one group in place. It must only touch g.
type StageFunc func(ctx context.Context, g *model.ProductGroup) Result

// Stage is a named step applied to every group of a batch.
type Stage struct {
	Name model.Stage
	Run  StageFunc
}

// Progress is a point-in-time view of a scheduler run.
type Progress struct {
	TotalBatches     int         `json:"total_batches"`
	CompletedBatches int         `json:"completed_batches"`
	CurrentBatch     int         `json:"current_batch"`
	CurrentStage     model.Stage `json:"current_stage,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Scheduler runs batches strictly one after another and the stages of a
// batch strictly in order. Concurrency exists only inside a stage.
type Scheduler struct {
	pool   *Pool
	stages []Stage
	stats  *model.RunStatistics

	mu       sync.Mutex
	progress Progress
}

// New creates a Scheduler. stats may be nil.
func New(pool *Pool, stats *model.RunStatistics, stages ...Stage) *Scheduler {
	if stats == nil {
		stats = model.NewRunStatistics()
	}
	return &Scheduler{pool: pool, stages: stages, stats: stats, progress: Progress{CurrentBatch: -1}}
}

// Progress returns the current progress.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Scheduler) update(fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.progress.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// SetTotal records the total number of batches of the run, including ones
// restored from checkpoints, and how many of them are already complete.
func (s *Scheduler) SetTotal(total, completed int) {
	s.update(func(p *Progress) {
		p.TotalBatches = total
		p.CompletedBatches = completed
	})
}

// BatchDone is called after a batch completed all stages. A non-nil error
// stops the run.
type BatchDone func(ctx context.Context, b Batch) error

// Run processes batches in order. After each batch finishes every stage,
// done is called before the next batch starts. Run stops at the first
// error from done or when ctx is cancelled; a batch interrupted by
// cancellation is not passed to done.
func (s *Scheduler) Run(ctx context.Context, batches []Batch, done BatchDone) error {
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RunBatch(ctx, b); err != nil {
			return err
		}
		if done != nil {
			if err := done(ctx, b); err != nil {
				return err
			}
		}
		s.stats.IncBatches()
		s.update(func(p *Progress) { p.CompletedBatches++ })
	}
	return nil
}

// RunBatch applies every stage to every group of b. Per-group failures are
// recorded in the statistics and never stop the batch. It returns ctx.Err()
// if the batch was cancelled before all stages finished.
func (s *Scheduler) RunBatch(ctx context.Context, b Batch) error {
	start := time.Now()
	s.update(func(p *Progress) { p.CurrentBatch = b.Index })

	for _, st := range s.stages {
		s.update(func(p *Progress) { p.CurrentStage = st.Name })
		if err := s.runStage(ctx, st, b); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			zap.L().Warn("scheduler: batch interrupted",
				zap.Int("batch", b.Index), zap.String("stage", string(st.Name)))
			return err
		}
	}

	s.update(func(p *Progress) { p.CurrentStage = "" })
	zap.L().Info("scheduler: batch complete",
		zap.Int("batch", b.Index),
		zap.Int("groups", len(b.Groups)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (s *Scheduler) runStage(ctx context.Context, st Stage, b Batch) error {
	err := s.pool.Run(ctx, len(b.Groups), func(ctx context.Context, i int) {
		g := b.Groups[i]
		s.stats.RecordAttempt(st.Name)
		s.record(st.Name, g, st.Run(ctx, g))
	}, func(pe *PanicError) {
		s.stats.RecordFailure(st.Name, b.Groups[pe.Index].ID(), pe)
	})
	if err != nil && ctx.Err() == nil {
		return eris.Wrapf(err, "scheduler: stage %s of batch %d", st.Name, b.Index)
	}
	return nil
}

func (s *Scheduler) record(stage model.Stage, g *model.ProductGroup, r Result) {
	switch r.Status {
	case StatusSucceeded:
		s.stats.RecordSuccess(stage, r.Cached)
	case StatusSkipped:
		s.stats.RecordSkip(stage)
	default:
		s.stats.RecordFailure(stage, g.ID(), r.Err)
	}
}
