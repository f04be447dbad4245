// Package pipeline composes grouping, batch scheduling, resilient
// collaborator calls and checkpointing into one catalog enrichment run.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/checkpoint"
	"github.com/sells-group/catalog-cli/internal/grouper"
	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/internal/scheduler"
)

// CheckpointError reports a completed batch that could not be persisted.
// Apart from cancellation it is the only error that stops a run once
// batches have started.
type CheckpointError struct {
	Batch int
	Err   error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("pipeline: checkpoint batch %d: %v", e.Batch, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// ErrNoGroups is returned when the input produces no product group to
// enrich. Such a run has nothing to export and counts as failed.
var ErrNoGroups = eris.New("pipeline: no groups")

// Config holds the run parameters.
type Config struct {
	// BatchSize is the number of groups per batch. Default: 100.
	BatchSize int
	// Workers bounds concurrent calls within a stage. Default: 5.
	Workers int
	// Fresh discards existing checkpoints before the run.
	Fresh bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	return c
}

// Pipeline runs the full enrichment of a catalog.
type Pipeline struct {
	cfg         Config
	grouper     *grouper.Grouper
	invoker     *resilience.Invoker
	checkpoints checkpoint.Store
	collab      Collaborators
	stats       *model.RunStatistics

	sched atomic.Pointer[scheduler.Scheduler]
}

// New creates a Pipeline. A nil grouper uses the default lexicon and a nil
// checkpoint store disables checkpointing.
func New(cfg Config, g *grouper.Grouper, inv *resilience.Invoker, cps checkpoint.Store, collab Collaborators) (*Pipeline, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, eris.New("pipeline: missing invoker")
	}
	if g == nil {
		g = grouper.New(nil)
	}
	if cps == nil {
		cps = checkpoint.NopStore{}
	}
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		grouper:     g,
		invoker:     inv,
		checkpoints: cps,
		collab:      collab,
		stats:       model.NewRunStatistics(),
	}, nil
}

// Stats returns the live statistics of the run.
func (p *Pipeline) Stats() *model.RunStatistics { return p.stats }

// Progress returns the scheduler progress, or the zero value before the
// batch loop starts.
func (p *Pipeline) Progress() scheduler.Progress {
	if s := p.sched.Load(); s != nil {
		return s.Progress()
	}
	return scheduler.Progress{CurrentBatch: -1}
}

// BreakerStates returns the circuit state of every collaborator namespace
// that has made a call, or nil when circuit breaking is off.
func (p *Pipeline) BreakerStates() map[string]string {
	bs := p.invoker.Breakers()
	if bs == nil {
		return nil
	}
	states := bs.States()
	out := make(map[string]string, len(states))
	for ns, st := range states {
		out[ns] = st.String()
	}
	return out
}

// Result is the final aggregate of a run.
type Result struct {
	Groups []*model.ProductGroup
	Stats  *model.RunStatistics
	// Resumed is the number of leading batches restored from checkpoints.
	Resumed int
}

// Run groups rows and enriches every group, batch by batch. Per-group
// failures are recorded in the statistics and never fail the run. Run
// returns an error when the rows form no group, when a checkpoint cannot be
// written or when ctx is cancelled; the partial Result is still returned.
func (p *Pipeline) Run(ctx context.Context, rows []model.VariantRow) (*Result, error) {
	log := zap.L().With(zap.String("run_id", p.stats.RunID))
	p.stats.AddRows(len(rows))

	groups := p.grouper.Group(rows)
	p.stats.AddGroups(len(groups))
	batches := scheduler.Partition(groups, p.cfg.BatchSize)
	log.Info("pipeline: grouped rows",
		zap.Int("rows", len(rows)),
		zap.Int("groups", len(groups)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	res := &Result{Groups: groups, Stats: p.stats}
	defer p.stats.Finish()
	if len(groups) == 0 {
		log.Warn("pipeline: input produced no groups")
		return res, ErrNoGroups
	}

	if p.cfg.Fresh {
		if err := p.checkpoints.Clear(ctx); err != nil {
			return res, eris.Wrap(err, "pipeline: clear checkpoints")
		}
		log.Info("pipeline: cleared checkpoints")
	}

	resumed, err := p.resume(ctx, batches)
	if err != nil {
		return res, err
	}
	res.Resumed = resumed

	pool, err := scheduler.NewPool(p.cfg.Workers)
	if err != nil {
		return res, err
	}
	defer pool.Release()

	sched := scheduler.New(pool, p.stats, p.stages()...)
	sched.SetTotal(len(batches), resumed)
	p.sched.Store(sched)

	err = sched.Run(ctx, batches[resumed:], func(ctx context.Context, b scheduler.Batch) error {
		// A completed batch is persisted even if the run is being cancelled.
		if err := p.checkpoints.Save(context.WithoutCancel(ctx), checkpoint.New(b.Index, b.Groups)); err != nil {
			log.Error("pipeline: checkpoint write failed, aborting run",
				zap.Int("batch", b.Index), zap.Error(err))
			return &CheckpointError{Batch: b.Index, Err: err}
		}
		return nil
	})
	p.logSummary(log)
	if err != nil {
		return res, err
	}
	return res, nil
}

// resume restores the leading run of batches that have a matching
// checkpoint and returns how many were restored. Restored groups replace
// the freshly grouped ones in place.
func (p *Pipeline) resume(ctx context.Context, batches []scheduler.Batch) (int, error) {
	if _, ok := p.checkpoints.(checkpoint.NopStore); ok || len(batches) == 0 {
		return 0, nil
	}
	cps, err := checkpoint.LoadAll(ctx, p.checkpoints, len(batches))
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: load checkpoints")
	}

	n := 0
	for i, b := range batches {
		cp := cps[i]
		if cp == nil {
			break
		}
		if !cp.Matches(b.Groups) {
			zap.L().Warn("pipeline: checkpoint does not match current grouping, reprocessing",
				zap.Int("batch", i))
			break
		}
		copy(b.Groups, cp.Groups)
		p.stats.IncBatchesResumed()
		n++
	}
	if later := countNonNil(cps[n:]); later > 0 {
		zap.L().Info("pipeline: ignoring checkpoints after first gap",
			zap.Int("resume_from", n), zap.Int("ignored", later))
	}
	if n > 0 {
		zap.L().Info("pipeline: resuming from checkpoint",
			zap.Int("restored_batches", n), zap.Int("total_batches", len(batches)))
	}
	return n, nil
}

func countNonNil(cps []*checkpoint.Checkpoint) int {
	n := 0
	for _, cp := range cps {
		if cp != nil {
			n++
		}
	}
	return n
}

func (p *Pipeline) logSummary(log *zap.Logger) {
	fields := []zap.Field{
		zap.Int64("rows", p.stats.Rows()),
		zap.Int64("groups", p.stats.Groups()),
		zap.Int64("batches", p.stats.Batches()),
		zap.Int64("batches_resumed", p.stats.BatchesResumed()),
		zap.Duration("elapsed", p.stats.Duration()),
	}
	for _, st := range model.Stages {
		ss := p.stats.Stage(st)
		fields = append(fields, zap.Dict(string(st),
			zap.Int64("attempted", ss.Attempted()),
			zap.Int64("succeeded", ss.Succeeded()),
			zap.Int64("failed", ss.Failed()),
			zap.Int64("cache_hits", ss.CacheHits()),
			zap.Int64("skipped", ss.Skipped()),
		))
	}
	if bs := p.invoker.Breakers(); bs != nil {
		for _, ns := range bs.Namespaces() {
			fields = append(fields, zap.Stringer("breaker_"+ns, bs.Get(ns).State()))
		}
	}
	log.Info("pipeline: run summary", fields...)
}
