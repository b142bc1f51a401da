package activity

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs functions with bounded parallelism.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	wg   sync.WaitGroup
}

func NewPool(size int) *Pool {
	size = max(size, 1)

	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Go queues fn without blocking the caller. fn runs once a slot is free; it is
// dropped if ctx ends before that.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		err := p.sem.Acquire(ctx, 1)
		if err != nil {
			return
		}
		defer p.sem.Release(1)

		fn(ctx)
	}()
}

// Wait blocks until every queued function has returned or been dropped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Size() int {
	return p.size
}
