// Package openai implements EmbeddingProvider using OpenAI's API
// or any OpenAI-compatible embedding endpoint.
package openai

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
)

// Default values
const (
	DefaultModel      = string(openai.SmallEmbedding3)
	DefaultBatchSize  = 100 // API accepts up to 2048 inputs per request
	DefaultDimensions = 1536
)

var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// Config contains OpenAI provider configuration.
type Config struct {
	Model             string
	APIKey            string // falls back to OPENAI_API_KEY
	BaseURL           string // custom endpoint for compatible servers
	BatchSize         int
	Dimensions        int     // 0 uses the model default
	RequestsPerSecond float64 // 0 disables throttling
}

// Provider implements the EmbeddingProvider interface for OpenAI.
type Provider struct {
	config     Config
	client     *openai.Client
	limiter    *rate.Limiter
	requested  int // dimensions sent with each request, 0 for none
	dimensions int
	mu         sync.RWMutex
}

// New creates a new OpenAI embedding provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		if d, ok := modelDimensions[cfg.Model]; ok {
			dimensions = d
		} else if cfg.BaseURL == "" {
			dimensions = DefaultDimensions
		}
	}

	return &Provider{
		config:     cfg,
		client:     openai.NewClientWithConfig(clientConfig),
		limiter:    rate.NewLimiter(limit, 1),
		requested:  cfg.Dimensions,
		dimensions: dimensions,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Embed generates embeddings for the given texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += p.config.BatchSize {
		end := min(i+p.config.BatchSize, len(texts))
		batch := texts[i:end]

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      batch,
			Model:      openai.EmbeddingModel(p.config.Model),
			Dimensions: p.requested,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedding failed: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(batch))
		}

		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(batch) {
				return nil, fmt.Errorf("openai returned out of range index %d", data.Index)
			}
			if err := p.checkDimensions(len(data.Embedding)); err != nil {
				return nil, err
			}
			results[i+data.Index] = data.Embedding
		}
	}

	return results, nil
}

func (p *Provider) checkDimensions(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dimensions == 0 {
		p.dimensions = n
		return nil
	}
	if n != p.dimensions {
		return fmt.Errorf("openai returned %d dimensions, expected %d", n, p.dimensions)
	}
	return nil
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup tests the API connection.
func (p *Provider) Warmup(ctx context.Context) error {
	_, err := p.Embed(ctx, []string{"warmup"})
	return err
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// Available checks that an API key is configured for the default endpoint.
func (p *Provider) Available(ctx context.Context) error {
	if p.config.APIKey == "" && p.config.BaseURL == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	return p.Warmup(ctx)
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
