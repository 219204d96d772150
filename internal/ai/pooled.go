package ai

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// PooledEmbedder bounds concurrent provider calls and runs each call on its
// own goroutine, so a caller whose context ends is released immediately
// even if the provider has not returned yet.
type PooledEmbedder struct {
	inner Embedder
	sem   *semaphore.Weighted
}

func NewPooledEmbedder(inner Embedder, maxConcurrency int) *PooledEmbedder {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &PooledEmbedder{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

func (p *PooledEmbedder) Model() string {
	return p.inner.Model()
}

type batchResult struct {
	vectors [][]float32
	err     error
}

func (p *PooledEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan batchResult, 1)
	go func() {
		defer p.sem.Release(1)
		vectors, err := p.inner.EmbedBatch(ctx, texts)
		done <- batchResult{vectors: vectors, err: err}
	}()

	select {
	case r := <-done:
		return r.vectors, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PooledEmbedder) Close() error {
	return closeInner(p.inner)
}
