package ai

import (
	"context"
	"fmt"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderHash   = "hash"
)

type ProviderOptions struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	TaskType   string
	Timeout    time.Duration
}

// NewProvider builds the raw provider named by opts.Provider.
func NewProvider(ctx context.Context, opts ProviderOptions) (Embedder, error) {
	switch opts.Provider {
	case ProviderOpenAI:
		if opts.BaseURL == "" || opts.Model == "" {
			return nil, fmt.Errorf("openai embedding requires base_url and model")
		}
		return NewOpenAICompatibleClient(EmbeddingConfig{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		}, opts.Timeout), nil
	case ProviderGenAI:
		return NewGenAIEmbedder(ctx, opts.APIKey, opts.Model, opts.TaskType, opts.Dimensions)
	case ProviderHash, "":
		return NewHashEmbedder(opts.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}
