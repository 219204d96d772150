package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// VectorCache stores vectors per (model, text).
type VectorCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, vector []float32) error
}

// CachedEmbedder serves repeated texts from a VectorCache and sends only the
// misses to the provider. Cache failures are logged and bypassed.
type CachedEmbedder struct {
	inner  Embedder
	cache  VectorCache
	logger *zap.Logger
}

func NewCachedEmbedder(inner Embedder, cache VectorCache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}
}

func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.inner.Model()
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		vec, ok, err := c.cache.Get(ctx, model, text)
		if err != nil {
			c.logger.Warn("embedding cache get failed", zap.String("model", model), zap.Error(err))
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(missTexts) == 1 {
		vectors = unstack(vectors)
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: %d vectors for %d inputs", ErrShape, len(vectors), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := c.cache.Set(ctx, model, missTexts[j], vectors[j]); err != nil {
			c.logger.Warn("embedding cache set failed", zap.String("model", model), zap.Error(err))
		}
	}
	return out, nil
}

func (c *CachedEmbedder) Close() error {
	return closeInner(c.inner)
}

// unstack folds a single-input result returned as D rows of one value into
// one D-length vector. Any other shape is returned unchanged.
func unstack(vectors [][]float32) [][]float32 {
	if len(vectors) < 2 {
		return vectors
	}
	flat := make([]float32, len(vectors))
	for i, row := range vectors {
		if len(row) != 1 {
			return vectors
		}
		flat[i] = row[0]
	}
	return [][]float32{flat}
}
