package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultGenAIModel    = "gemini-embedding-001"
	defaultGenAITaskType = "SEMANTIC_SIMILARITY"
)

// GenAIEmbedder calls the Gemini embedding API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int32
}

func NewGenAIEmbedder(ctx context.Context, apiKey, model, taskType string, dimensions int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = defaultGenAIModel
	}
	if taskType == "" {
		taskType = defaultGenAITaskType
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client failed: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      model,
		taskType:   taskType,
		dimensions: int32(dimensions),
	}, nil
}

func (e *GenAIEmbedder) Model() string {
	return e.model
}

func (e *GenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg.OutputDimensionality = &dims
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("genai embed content failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("%w: %d vectors for %d inputs", ErrShape, got, len(texts))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: missing vector %d", ErrShape, i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
