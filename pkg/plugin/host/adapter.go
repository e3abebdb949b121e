package host

import (
	"context"
	"fmt"

	"github.com/spetr/mcp-chunkgraph/pkg/plugin/shared"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
)

// EmbeddingAdapter exposes a plugin as a provider.EmbeddingProvider.
type EmbeddingAdapter struct {
	plugin  shared.EmbeddingProvider
	release func() error
}

// NewEmbeddingAdapter creates a new embedding adapter. release, if set,
// runs after the plugin is closed and typically stops its process.
func NewEmbeddingAdapter(p shared.EmbeddingProvider, release func() error) *EmbeddingAdapter {
	return &EmbeddingAdapter{plugin: p, release: release}
}

// Name returns the provider name.
func (a *EmbeddingAdapter) Name() string {
	return a.plugin.Name()
}

// Embed generates embeddings for the given texts. net/rpc cannot be
// interrupted, so ctx is only checked before the call.
func (a *EmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := a.plugin.Embed(texts)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("plugin %s returned %d embeddings for %d texts", a.plugin.Name(), len(out), len(texts))
	}
	return out, nil
}

// Dimensions returns the embedding dimensions.
func (a *EmbeddingAdapter) Dimensions() int {
	return a.plugin.Dimensions()
}

// MaxBatchSize returns the maximum batch size.
func (a *EmbeddingAdapter) MaxBatchSize() int {
	return a.plugin.MaxBatchSize()
}

// Warmup warms up the provider.
func (a *EmbeddingAdapter) Warmup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.plugin.Warmup()
}

// Close closes the plugin and releases its process.
func (a *EmbeddingAdapter) Close() error {
	err := a.plugin.Close()
	if a.release != nil {
		if rerr := a.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// Ensure EmbeddingAdapter implements provider.EmbeddingProvider
var _ provider.EmbeddingProvider = (*EmbeddingAdapter)(nil)
