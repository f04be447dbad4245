package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is a bounded worker pool shared by every stage of a run.
type Pool struct {
	pool *ants.Pool
	size int
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: create pool")
	}
	return &Pool{pool: p, size: size}, nil
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return p.size }

// PanicError reports a task that panicked.
type PanicError struct {
	Index int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Index, e.Value)
}

// Run calls fn(ctx, i) for every i in [0, n) on the pool and waits for all
// dispatched calls to return. Once ctx is done no further calls are
// dispatched and ctx.Err() is returned. A panicking call is recovered and
// passed to onPanic, which may be nil.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int), onPanic func(*PanicError)) error {
	var wg sync.WaitGroup
	var runErr error

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					pe := &PanicError{Index: i, Value: r, Stack: debug.Stack()}
					zap.L().Error("scheduler: recovered worker panic",
						zap.Int("task", i), zap.Any("panic", r))
					if onPanic != nil {
						onPanic(pe)
					}
				}
			}()
			fn(ctx, i)
		})
		if err != nil {
			wg.Done()
			runErr = eris.Wrap(err, "scheduler: submit task")
			break
		}
	}

	wg.Wait()
	return runErr
}

// Release stops the pool's workers.
func (p *Pool) Release() {
	p.pool.Release()
}
