package resilience

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/catalog-cli/internal/cache"
)

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 30 * time.Second

// Invoker runs collaborator calls through the cache, a per-call timeout,
// classified retries and an optional per-namespace circuit breaker. It never
// returns an error to its caller: a call either yields a value or nothing.
type Invoker struct {
	store       cache.Store
	retry       RetryConfig
	timeout     time.Duration
	classifiers map[cache.Namespace]Classifier
	breakers    *Breakers
	onFailure   func(Failure)

	flights singleflight.Group
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRetry sets the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(inv *Invoker) { inv.retry = cfg }
}

// WithTimeout sets the per-call timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) { inv.timeout = d }
}

// WithClassifier overrides error classification for one namespace.
func WithClassifier(ns cache.Namespace, c Classifier) Option {
	return func(inv *Invoker) { inv.classifiers[ns] = c }
}

// WithBreakers enables per-namespace circuit breaking.
func WithBreakers(b *Breakers) Option {
	return func(inv *Invoker) { inv.breakers = b }
}

// WithFailureHook registers fn to observe every failed invocation.
func WithFailureHook(fn func(Failure)) Option {
	return func(inv *Invoker) { inv.onFailure = fn }
}

// NewInvoker creates an Invoker backed by store. A nil store disables
// caching.
func NewInvoker(store cache.Store, opts ...Option) *Invoker {
	inv := &Invoker{
		store:       store,
		retry:       DefaultRetryConfig(),
		timeout:     DefaultTimeout,
		classifiers: make(map[cache.Namespace]Classifier),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Breakers returns the circuit breaker registry, or nil.
func (inv *Invoker) Breakers() *Breakers { return inv.breakers }

// Outcome describes how an invocation was resolved.
type Outcome struct {
	// Hit is set when the value came from the cache.
	Hit bool
	// Attempts is the number of collaborator calls made.
	Attempts int
	// Err is the last error of a failed invocation.
	Err error
}

// OK reports whether the invocation produced a value.
func (o Outcome) OK() bool { return o.Err == nil }

type flight[T any] struct {
	val T
	out Outcome
}

// Invoke returns the value for key, calling fn only on a cache miss. The
// boolean is false when no value could be produced.
func Invoke[T any](ctx context.Context, inv *Invoker, ns cache.Namespace, key string, fn func(ctx context.Context) (T, error)) (T, bool) {
	val, out := InvokeOutcome(ctx, inv, ns, key, fn)
	return val, out.OK()
}

// InvokeOutcome is Invoke with the full Outcome. Concurrent invocations of
// the same namespace and key share one underlying call.
func InvokeOutcome[T any](ctx context.Context, inv *Invoker, ns cache.Namespace, key string, fn func(ctx context.Context) (T, error)) (T, Outcome) {
	if val, ok := lookup[T](ctx, inv, ns, key); ok {
		return val, Outcome{Hit: true}
	}

	v, _, _ := inv.flights.Do(string(ns)+"/"+key, func() (any, error) {
		if val, ok := lookup[T](ctx, inv, ns, key); ok {
			return flight[T]{val: val, out: Outcome{Hit: true}}, nil
		}
		return call(ctx, inv, ns, key, fn), nil
	})
	f := v.(flight[T])
	return f.val, f.out
}

// lookup returns a cached value. Store errors and undecodable entries are
// logged and reported as misses.
func lookup[T any](ctx context.Context, inv *Invoker, ns cache.Namespace, key string) (T, bool) {
	var zero T
	if inv.store == nil {
		return zero, false
	}
	data, ok, err := inv.store.Get(ctx, ns, key)
	if err != nil {
		zap.L().Warn("resilience: cache read failed, treating as miss",
			zap.String("namespace", string(ns)), zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		zap.L().Warn("resilience: undecodable cache entry, treating as miss",
			zap.String("namespace", string(ns)), zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return val, true
}

func call[T any](ctx context.Context, inv *Invoker, ns cache.Namespace, key string, fn func(ctx context.Context) (T, error)) flight[T] {
	classify := inv.classifiers[ns]
	if classify == nil {
		classify = Classify
	}

	var breaker *Breaker
	if inv.breakers != nil {
		breaker = inv.breakers.Get(string(ns))
		if err := breaker.Allow(); err != nil {
			inv.fail(ns, key, ClassPermanent, err, 0)
			return flight[T]{out: Outcome{Err: err}}
		}
	}

	cfg := inv.retry
	cfg.Classify = classify
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(string(ns))
	}

	val, attempts, err := retry(ctx, cfg, func(ctx context.Context) (T, error) {
		return attempt(ctx, inv.timeout, fn)
	})

	class := classify(err)
	if breaker != nil {
		breaker.Record(err != nil && class.Retryable())
	}
	if err != nil {
		inv.fail(ns, key, class, err, attempts)
		return flight[T]{out: Outcome{Attempts: attempts, Err: err}}
	}

	if inv.store != nil {
		data, mErr := json.Marshal(val)
		if mErr == nil {
			mErr = inv.store.Put(ctx, ns, key, data)
		}
		if mErr != nil {
			zap.L().Warn("resilience: cache write failed",
				zap.String("namespace", string(ns)), zap.String("key", key), zap.Error(mErr))
		}
	}
	return flight[T]{val: val, out: Outcome{Attempts: attempts}}
}

// attempt makes one call under the per-call timeout, turning a panic into a
// permanent error.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (val T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			val = zero
			err = NewPermanentError(eris.Errorf("resilience: collaborator panic: %v", r))
		}
	}()
	return fn(ctx)
}

func (inv *Invoker) fail(ns cache.Namespace, key string, class Class, err error, attempts int) {
	zap.L().Debug("resilience: invocation produced no result",
		zap.String("namespace", string(ns)),
		zap.String("key", key),
		zap.String("class", class.String()),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	if inv.onFailure != nil {
		inv.onFailure(newFailure(string(ns), key, class, err, attempts))
	}
}
