package compaction

import (
	"context"
	"sync"

	"github.com/browserdb/browserdb/internal/errs"
)

// Job is one unit of compaction work submitted to a Pool.
type Job func(ctx context.Context) (Result, error)

// Pool runs compaction jobs on a bounded number of goroutines, per
// spec.md §5's "bounded worker pool" and §9's max_concurrent_compactions
// default of 4. Jobs are cancellable at file boundaries: a cancelled
// context causes Merge's per-file writeOutputs loop to observe ctx.Err()
// between output files and stop, per the engine's file-boundary
// cancellation contract.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active int
}

// NewPool creates a pool allowing up to maxConcurrent compactions to run
// at once. A non-positive maxConcurrent is rejected with TooManyCompactions
// rather than silently falling back, since it would otherwise deadlock
// Submit forever.
func NewPool(maxConcurrent int) (*Pool, error) {
	if maxConcurrent < 1 {
		return nil, errs.New(errs.KindTooManyCompactions, "max_concurrent_compactions must be >= 1")
	}
	return &Pool{sem: make(chan struct{}, maxConcurrent)}, nil
}

// Submit runs job on a pool worker, blocking the caller until a slot is
// free, and reports the result on the returned channel exactly once. If
// ctx is cancelled before a slot frees, Submit returns without starting
// the job and the channel receives ctx.Err().
func (p *Pool) Submit(ctx context.Context, job Job) <-chan error {
	done := make(chan error, 1)
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		done <- ctx.Err()
		return done
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			<-p.sem
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		}()
		_, err := job(ctx)
		done <- err
	}()
	return done
}

// Active returns the number of compactions currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() { p.wg.Wait() }
