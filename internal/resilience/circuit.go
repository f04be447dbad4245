// Package resilience wraps collaborator calls with caching, timeouts,
// classified retries and per-namespace circuit breakers.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until ResetTimeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed invocations
	// before the circuit opens. Zero disables breaking.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of successful probes required to
	// close the circuit again. Default: 1.
	HalfOpenMaxProbes int

	// OnStateChange is called when a namespace's circuit changes state.
	OnStateChange func(namespace string, from, to CircuitState)
}

// Breaker is a consecutive-failure circuit breaker for one namespace.
type Breaker struct {
	namespace string
	cfg       BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

func newBreaker(namespace string, cfg BreakerConfig) *Breaker {
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &Breaker{namespace: namespace, cfg: cfg, nowFunc: time.Now}
}

// Allow reports whether a call may proceed, moving an expired open circuit
// to half-open.
func (b *Breaker) Allow() error {
	if b.cfg.FailureThreshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen {
		if b.nowFunc().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
	}
	return nil
}

// Record registers the outcome of an invocation. Only failures the caller
// deems breaker-worthy should be passed as failed.
func (b *Breaker) Record(failed bool) {
	if b.cfg.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		switch b.state {
		case CircuitHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxProbes {
				b.transition(CircuitClosed)
			}
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.openedAt = b.nowFunc()
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if to != CircuitHalfOpen {
		b.halfOpenSuccesses = 0
	}
	if to == CircuitClosed {
		b.consecutiveFailures = 0
	}
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.namespace, from, to)
	}
}

// Breakers lazily creates one Breaker per namespace.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers creates a registry sharing cfg across namespaces.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for namespace, creating one if needed.
func (bs *Breakers) Get(namespace string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.breakers[namespace]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.breakers[namespace]; ok {
		return b
	}
	b = newBreaker(namespace, bs.cfg)
	bs.breakers[namespace] = b
	return b
}

// States returns a snapshot of every breaker's state keyed by namespace.
func (bs *Breakers) States() map[string]CircuitState {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	states := make(map[string]CircuitState, len(bs.breakers))
	for ns, b := range bs.breakers {
		states[ns] = b.State()
	}
	return states
}

// Namespaces returns the namespaces with a breaker, sorted.
func (bs *Breakers) Namespaces() []string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make([]string, 0, len(bs.breakers))
	for ns := range bs.breakers {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
