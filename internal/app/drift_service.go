package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contextkeeper/internal/coherence"
)

// DriftReport combines the score against the session's stored context with
// the windowed score against its recent turns.
type DriftReport struct {
	SessionID        string    `json:"session_id"`
	CurrentPrompt    string    `json:"current_prompt"`
	HasContext       bool      `json:"has_context"`
	ContextCoherence float64   `json:"context_coherence"`
	Degradation      float64   `json:"degradation"`
	TurnsConsidered  int       `json:"turns_considered"`
	TurnCoherence    float64   `json:"turn_coherence"`
	TurnDegradation  float64   `json:"turn_degradation"`
	ComputedAt       time.Time `json:"computed_at"`
}

type DriftService struct {
	sessions *SessionService
	engine   *coherence.Engine
	logger   *zap.Logger
}

func NewDriftService(sessions *SessionService, engine *coherence.Engine, logger *zap.Logger) *DriftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriftService{sessions: sessions, engine: engine, logger: logger}
}

// ComputeDegradation scores the session's most recent prompt against its
// stored context and returns 1 - coherence. A session with no chats is
// scored with the empty-text placeholder.
func (d *DriftService) ComputeDegradation(ctx context.Context, sessionID string) (float64, error) {
	contextText, _, err := d.contextText(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	latest, err := d.sessions.LatestChat(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	current := ""
	if latest != nil {
		current = latest.Prompt
	}

	vectors, err := d.embedAll(ctx, []string{current, contextText})
	if err != nil {
		return 0, err
	}
	c, err := d.engine.ContextCoherence(vectors[0], vectors[1])
	if err != nil {
		return 0, err
	}
	return coherence.Degradation(c), nil
}

// Report adds the windowed turn coherence: the latest prompt against the
// prompts that preceded it.
func (d *DriftService) Report(ctx context.Context, sessionID string) (*DriftReport, error) {
	contextText, hasContext, err := d.contextText(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recent, err := d.sessions.RecentChats(ctx, sessionID, d.engine.Window()+1)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{SessionID: sessionID, HasContext: hasContext}
	// texts: context, previous prompts oldest first, current prompt.
	texts := []string{contextText}
	if len(recent) > 0 {
		for _, e := range recent[:len(recent)-1] {
			texts = append(texts, e.Prompt)
		}
		report.CurrentPrompt = recent[len(recent)-1].Prompt
	}
	texts = append(texts, report.CurrentPrompt)

	vectors, err := d.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	contextVec := vectors[0]
	current := vectors[len(vectors)-1]
	history := vectors[1 : len(vectors)-1]

	if report.ContextCoherence, err = d.engine.ContextCoherence(current, contextVec); err != nil {
		return nil, err
	}
	if report.TurnCoherence, err = d.engine.Coherence(current, history); err != nil {
		return nil, err
	}
	report.Degradation = coherence.Degradation(report.ContextCoherence)
	report.TurnDegradation = coherence.Degradation(report.TurnCoherence)
	report.TurnsConsidered = len(history)
	report.ComputedAt = time.Now().UTC()

	d.logger.Debug("drift report computed",
		zap.String("session_id", sessionID),
		zap.Float64("degradation", report.Degradation),
		zap.Float64("turn_degradation", report.TurnDegradation),
	)
	return report, nil
}

func (d *DriftService) contextText(ctx context.Context, sessionID string) (string, bool, error) {
	bucket, err := d.sessions.ContextForSession(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	text, err := ContextText(bucket)
	if err != nil {
		return "", false, err
	}
	return text, bucket != nil, nil
}

// embedAll embeds texts concurrently, preserving order. The first failure
// cancels the rest.
func (d *DriftService) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			v, err := d.engine.Embed(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
