// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	"fmt"

	hashEmbed "github.com/spetr/mcp-chunkgraph/builtin/embedding/hash"
	ollamaEmbed "github.com/spetr/mcp-chunkgraph/builtin/embedding/ollama"
	openaiEmbed "github.com/spetr/mcp-chunkgraph/builtin/embedding/openai"
	"github.com/spetr/mcp-chunkgraph/builtin/syntax/treesitter"
	"github.com/spetr/mcp-chunkgraph/builtin/vectorstore/memory"
	"github.com/spetr/mcp-chunkgraph/builtin/vectorstore/sqlitevec"
	"github.com/spetr/mcp-chunkgraph/pkg/plugin/host"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.Endpoint,
			Model:             cfg.Model,
			BatchSize:         cfg.BatchSize,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	})

	provider.RegisterEmbedding("hash", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return hashEmbed.New(hashEmbed.Config{
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("plugin", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		if cfg.PluginName == "" {
			return nil, fmt.Errorf("embedding.plugin must name a plugin binary in %s", cfg.PluginDir)
		}
		adapter, err := host.NewManager(cfg.PluginDir).Embedding(cfg.PluginName)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	})

	// Register syntax analyzers
	provider.RegisterSyntax("treesitter", func() (provider.SyntaxAnalyzer, error) {
		return treesitter.New(), nil
	})

	// Register vector stores
	provider.RegisterVectorStore("sqlitevec", func() (provider.VectorStore, error) {
		return sqlitevec.New(), nil
	})

	provider.RegisterVectorStore("memory", func() (provider.VectorStore, error) {
		return memory.New(), nil
	})
}
