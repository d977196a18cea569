// Package embeddings provides an OpenAI-compatible embedding client used
// by the embedding queue worker.
package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// MaxBatchInputs is the provider's per-request input limit.
const MaxBatchInputs = 2048

// Provider generates embedding vectors for batches of text.
type Provider interface {
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// Config holds configuration for creating an embedding client.
type Config struct {
	Endpoint string // Base URL, e.g. "https://api.openai.com/v1"
	Model    string // e.g. "text-embedding-3-small"
	APIKey   string // Optional for local endpoints
	Timeout  time.Duration
}

// Client wraps an OpenAI-compatible /embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a new embedding client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("embeddings"),
	}, nil
}

// EmbedBatch generates embeddings for inputs in a single provider request.
// The response is realigned by the provider-reported index, so result[i]
// always corresponds to inputs[i].
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if len(inputs) > MaxBatchInputs {
		return nil, fmt.Errorf("batch of %d exceeds provider limit of %d", len(inputs), MaxBatchInputs)
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: inputs,
	})
	if err != nil {
		c.logger.Error("embedding request failed",
			zap.Int("inputs", len(inputs)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, fmt.Errorf("provider returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("provider response missing index %d", i)
		}
	}

	c.logger.Debug("embedded batch",
		zap.Int("inputs", len(inputs)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}
