// Package coherence scores how consistently a text stays on topic, relative
// to a fixed context or to the recent turns of a conversation.
package coherence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"contextkeeper/internal/ai"
	"contextkeeper/internal/errs"
)

const (
	DefaultPlaceholder = "[Empty text]"
	DefaultWindow      = 5
)

// Engine is stateless apart from its embedder and is safe for concurrent use.
type Engine struct {
	embedder    ai.Embedder
	window      int
	placeholder string
}

type Option func(*Engine)

// WithWindow sets how many of the most recent history vectors Coherence uses.
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithPlaceholder sets the text embedded in place of empty input.
func WithPlaceholder(p string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(p) != "" {
			e.placeholder = p
		}
	}
}

func NewEngine(embedder ai.Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder:    embedder,
		window:      DefaultWindow,
		placeholder: DefaultPlaceholder,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Window() int {
	return e.window
}

// Embed returns the 1-D embedding of text. Blank text is replaced by the
// placeholder. Provider failures surface as ErrDimensionMismatch for shape
// problems and ErrInvalidInput otherwise; context errors pass through.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		text = e.placeholder
	}

	raw, err := e.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		if errors.Is(err, ai.ErrShape) {
			return nil, fmt.Errorf("%w: %v", errs.ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("%w: embedding provider: %v", errs.ErrInvalidInput, err)
	}
	return squeeze(raw)
}

// squeeze reduces a batched [1][D] or stacked [D][1] result to [D].
func squeeze(raw [][]float32) ([]float32, error) {
	switch {
	case len(raw) == 1 && len(raw[0]) > 0:
		return raw[0], nil
	case len(raw) > 1:
		out := make([]float32, len(raw))
		for i, row := range raw {
			if len(row) != 1 {
				return nil, fmt.Errorf("%w: cannot squeeze %dx? embedding", errs.ErrDimensionMismatch, len(raw))
			}
			out[i] = row[0]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: empty embedding", errs.ErrDimensionMismatch)
	}
}

// Similarity is the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Similarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("%w: empty vector", errs.ErrDimensionMismatch)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", errs.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Coherence compares current against the most recent window entries of
// history (oldest first) and returns max(0, 1 - variance) of the
// similarities. Fewer than two history vectors yields exactly 1.
func (e *Engine) Coherence(current []float32, history [][]float32) (float64, error) {
	if len(history) < 2 {
		return 1.0, nil
	}
	if len(history) > e.window {
		history = history[len(history)-e.window:]
	}

	sims := make([]float64, len(history))
	var mean float64
	for i, h := range history {
		s, err := Similarity(current, h)
		if err != nil {
			return 0, err
		}
		sims[i] = s
		mean += s
	}
	mean /= float64(len(sims))

	var variance float64
	for _, s := range sims {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(sims))

	return math.Max(0, 1-variance), nil
}

// ContextCoherence scores current against a single global context vector.
func (e *Engine) ContextCoherence(current, contextVec []float32) (float64, error) {
	return Similarity(current, contextVec)
}

func Degradation(coherence float64) float64 {
	return 1.0 - coherence
}
