package coherence

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextkeeper/internal/ai"
	"contextkeeper/internal/errs"
)

type stubEmbedder struct {
	out [][]float32
	err error
}

func (s stubEmbedder) Model() string { return "stub" }

func (s stubEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return s.out, s.err
}

type providerError struct{ msg string }

func (p *providerError) Error() string { return p.msg }

func TestSimilaritySelf(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		v := make([]float32, 1+r.Intn(64))
		v[0] = 1
		for j := range v[1:] {
			v[j+1] = float32(r.NormFloat64())
		}
		s, err := Similarity(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, s, 1e-6)
	}
}

func TestSimilarityEdges(t *testing.T) {
	_, err := Similarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

	_, err = Similarity(nil, nil)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

	s, err := Similarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Zero(t, s)

	s, err = Similarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, s, 1e-9)
}

func TestCoherenceSparseHistory(t *testing.T) {
	e := NewEngine(ai.NewHashEmbedder(8))
	v := []float32{1, 2, 3}

	c, err := e.Coherence(v, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c)

	c, err = e.Coherence(v, [][]float32{{9, 9, 9}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, c)
}

func TestCoherenceVariance(t *testing.T) {
	e := NewEngine(ai.NewHashEmbedder(8))
	cur := []float32{1, 0}

	// Similarities 1 and -1: population variance 1, so coherence 0.
	c, err := e.Coherence(cur, [][]float32{{1, 0}, {-1, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, c, 1e-12)

	// Stable similarity: variance 0.
	c, err = e.Coherence(cur, [][]float32{{1, 1}, {2, 2}, {3, 3}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-9)
}

func TestCoherenceUsesMostRecentWindow(t *testing.T) {
	e := NewEngine(ai.NewHashEmbedder(8), WithWindow(2))
	cur := []float32{1, 0}

	// Only the last two (both identical to cur) count.
	c, err := e.Coherence(cur, [][]float32{{-1, 0}, {0, 1}, {1, 0}, {1, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-12)
	assert.Equal(t, 2, e.Window())
}

func TestCoherenceNeverNegative(t *testing.T) {
	e := NewEngine(ai.NewHashEmbedder(8))
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		cur := []float32{float32(r.NormFloat64()), float32(r.NormFloat64()), float32(r.NormFloat64())}
		hist := make([][]float32, 2+r.Intn(8))
		for j := range hist {
			hist[j] = []float32{float32(r.NormFloat64()), float32(r.NormFloat64()), float32(r.NormFloat64())}
		}
		c, err := e.Coherence(cur, hist)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestCoherenceMismatchedHistory(t *testing.T) {
	e := NewEngine(ai.NewHashEmbedder(8))
	_, err := e.Coherence([]float32{1, 0}, [][]float32{{1, 0}, {1, 0, 0}})
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestDegradationComplement(t *testing.T) {
	for _, c := range []float64{0, 0.1, 0.25, 0.5, 0.999, 1, -0.3} {
		assert.Equal(t, 1.0-c, Degradation(c))
	}
}

func TestEmbedBlankUsesPlaceholder(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(ai.NewHashEmbedder(32))

	want, err := e.Embed(ctx, DefaultPlaceholder)
	require.NoError(t, err)
	for _, text := range []string{"", "   ", "\n\t"} {
		got, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, want, got, "text %q", text)
	}

	custom := NewEngine(ai.NewHashEmbedder(32), WithPlaceholder("<none>"))
	a, err := custom.Embed(ctx, "")
	require.NoError(t, err)
	b, err := custom.Embed(ctx, "<none>")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestEmbedSqueezesShapes(t *testing.T) {
	ctx := context.Background()

	got, err := NewEngine(stubEmbedder{out: [][]float32{{1, 2, 3}}}).Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)

	got, err = NewEngine(stubEmbedder{out: [][]float32{{1}, {2}, {3}}}).Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)

	_, err = NewEngine(stubEmbedder{out: [][]float32{{1, 2}, {3, 4}}}).Embed(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

	_, err = NewEngine(stubEmbedder{out: [][]float32{}}).Embed(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestEmbedConvertsProviderErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewEngine(stubEmbedder{err: &providerError{msg: "model offline"}}).Embed(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Contains(t, err.Error(), "model offline")
	var pe *providerError
	assert.False(t, errors.As(err, &pe))

	_, err = NewEngine(stubEmbedder{err: ai.ErrShape}).Embed(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewEngine(stubEmbedder{err: context.Canceled}).Embed(cctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
