package main

import (
	"context"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/cache"
	"github.com/sells-group/catalog-cli/internal/checkpoint"
	"github.com/sells-group/catalog-cli/internal/config"
	"github.com/sells-group/catalog-cli/internal/enrich"
	"github.com/sells-group/catalog-cli/internal/grouper"
	"github.com/sells-group/catalog-cli/internal/pipeline"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/internal/store"
	anthropicpkg "github.com/sells-group/catalog-cli/pkg/anthropic"
	"github.com/sells-group/catalog-cli/pkg/firecrawl"
	"github.com/sells-group/catalog-cli/pkg/tavily"
)

// pipelineEnv holds the stores and the pipeline needed by the run command.
type pipelineEnv struct {
	Cache       cache.Store
	Checkpoints checkpoint.Store
	Store       store.Store // may be nil
	Failures    *failureLog
	Pipeline    *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Checkpoints != nil {
		_ = pe.Checkpoints.Close()
	}
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// failureLog forwards invoker failures to the run history.
type failureLog struct {
	st    store.Store
	runID string
}

func (l *failureLog) record(f resilience.Failure) {
	if l.st == nil || l.runID == "" {
		return
	}
	if err := l.st.RecordFailure(context.Background(), l.runID, f); err != nil {
		zap.L().Warn("record failure", zap.String("namespace", f.Namespace), zap.Error(err))
	}
}

// initPipeline opens the configured stores, builds the collaborators and
// returns a ready Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, offline, fresh bool) (*pipelineEnv, error) {
	if err := cfg.Validate(offline); err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	cacheCfg, cpCfg := cfg.Cache, cfg.Checkpoint
	if offline {
		cacheCfg, cpCfg = offlineStores(cacheCfg, cpCfg)
	}

	var err error
	if env.Cache, err = openCache(ctx, cacheCfg); err != nil {
		return nil, err
	}
	if env.Checkpoints, err = openCheckpoints(ctx, cpCfg); err != nil {
		return nil, err
	}
	if cfg.Store.Driver != "" {
		if env.Store, err = initStore(ctx); err != nil {
			return nil, err
		}
	}
	env.Failures = &failureLog{st: env.Store}

	g, err := newGrouper(cfg.Grouping)
	if err != nil {
		return nil, err
	}

	inv := newInvoker(env.Cache, env.Failures.record)
	env.Pipeline, err = pipeline.New(pipeline.Config{
		BatchSize: cfg.Batch.Size,
		Workers:   cfg.Batch.Workers,
		Fresh:     fresh,
	}, g, inv, env.Checkpoints, newCollaborators(offline))
	if err != nil {
		return nil, err
	}
	env.Failures.runID = env.Pipeline.Stats().RunID

	ok = true
	return env, nil
}

// offlineDir is the subdirectory holding stub results of offline runs.
const offlineDir = "offline"

// offlineStores redirects the cache and checkpoints of an offline run to
// file stores of their own, so stub results never answer an online run.
func offlineStores(c config.CacheConfig, cp config.CheckpointConfig) (config.CacheConfig, config.CheckpointConfig) {
	dir := c.Dir
	if dir == "" {
		dir = "cache"
	}
	c = config.CacheConfig{Driver: string(cache.DriverFile), Dir: filepath.Join(dir, offlineDir)}

	cpDir := cp.Dir
	if cpDir == "" {
		cpDir = "checkpoints"
	}
	cp = config.CheckpointConfig{Enabled: cp.Enabled, Driver: string(checkpoint.DriverFile), Dir: filepath.Join(cpDir, offlineDir)}
	return c, cp
}

func openCache(ctx context.Context, c config.CacheConfig) (cache.Store, error) {
	s, err := cache.Open(ctx, cache.Config{
		Driver: c.Driver,
		Dir:    c.Dir,
		DSN:    c.DSN,
		Pool:   &cache.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns},
	})
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return s, nil
}

func openCheckpoints(ctx context.Context, c config.CheckpointConfig) (checkpoint.Store, error) {
	s, err := checkpoint.Open(ctx, checkpoint.Config{
		Enabled: c.Enabled,
		Driver:  checkpoint.Driver(c.Driver),
		Dir:     c.Dir,
		DSN:     c.DSN,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open checkpoints")
	}
	return s, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DatabaseURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open run store")
	}
	return st, nil
}

func newGrouper(c config.GroupingConfig) (*grouper.Grouper, error) {
	if c.LexiconPath == "" {
		return grouper.New(nil), nil
	}
	lex, err := grouper.LoadLexicon(c.LexiconPath)
	if err != nil {
		return nil, eris.Wrap(err, "load lexicon")
	}
	return grouper.New(lex), nil
}

func newInvoker(cs cache.Store, onFailure func(resilience.Failure)) *resilience.Invoker {
	opts := []resilience.Option{
		resilience.WithRetry(resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoff,
			cfg.Retry.MaxBackoff,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		)),
		resilience.WithTimeout(cfg.Retry.Timeout),
		resilience.WithFailureHook(onFailure),
	}
	if cfg.Breaker.FailureThreshold > 0 {
		opts = append(opts, resilience.WithBreakers(resilience.NewBreakers(
			resilience.FromBreakerConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout),
		)))
	}
	return resilience.NewInvoker(cs, opts...)
}

func taxonomy() []string {
	if len(cfg.Anthropic.Categories) > 0 {
		return cfg.Anthropic.Categories
	}
	return enrich.DefaultTaxonomy
}

func newCollaborators(offline bool) pipeline.Collaborators {
	if offline {
		zap.L().Info("offline mode: using stub collaborators")
		return pipeline.Collaborators{
			Resolver:  enrich.OfflineResolver{},
			Extractor: enrich.OfflineExtractor{},
			Enricher:  enrich.OfflineEnricher{Taxonomy: taxonomy()},
		}
	}

	tavilyClient := tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL))
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	var anthropicOpts []option.RequestOption
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, option.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicOpts...)

	return pipeline.Collaborators{
		Resolver: enrich.NewTavilyResolver(tavilyClient, enrich.NewLimiter(cfg.Tavily.RatePerSec),
			enrich.WithSearchDepth(cfg.Tavily.SearchDepth),
			enrich.WithMaxResults(cfg.Tavily.MaxResults),
		),
		Extractor: enrich.NewFirecrawlExtractor(firecrawlClient, enrich.NewLimiter(cfg.Firecrawl.RatePerSec)),
		Enricher: enrich.NewClaudeEnricher(anthropicClient, enrich.NewLimiter(cfg.Anthropic.RatePerSec),
			cfg.Anthropic.Model, taxonomy()),
	}
}
