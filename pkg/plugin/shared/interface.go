// Package shared defines the contract between mcp-chunkgraph and
// out-of-process embedding plugins.
package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is shared by plugin and host.
// Plugins built against a different protocol version refuse to start.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MCP_CHUNKGRAPH_PLUGIN",
	MagicCookieValue: "mcp-chunkgraph-v1",
}

// PluginType identifies the type of plugin.
type PluginType string

// PluginTypeEmbedding is the only plugin kind the indexer dispenses.
const PluginTypeEmbedding PluginType = "embedding"

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]plugin.Plugin{
	string(PluginTypeEmbedding): &EmbeddingPlugin{},
}

// EmbeddingProvider is implemented by embedding plugins.
// It mirrors provider.EmbeddingProvider without contexts, which net/rpc cannot carry.
type EmbeddingProvider interface {
	Name() string
	Embed(texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	Warmup() error
	Close() error
}

// EmbeddingPlugin is the plugin.Plugin implementation for embedding providers.
type EmbeddingPlugin struct {
	Impl EmbeddingProvider
}

func (p *EmbeddingPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &EmbeddingRPCServer{Impl: p.Impl}, nil
}

func (p *EmbeddingPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return NewEmbeddingRPCClient(c), nil
}

// Serve runs impl as an embedding plugin. It blocks until the host disconnects.
func Serve(impl EmbeddingProvider) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			string(PluginTypeEmbedding): &EmbeddingPlugin{Impl: impl},
		},
	})
}
