package shared

import (
	"net/rpc"
)

// EmbedArgs are the arguments for the Embed RPC call.
type EmbedArgs struct {
	Texts []string
}

// EmbedReply is the reply for the Embed RPC call.
// Plugin-side failures travel in Error so the connection stays usable.
type EmbedReply struct {
	Embeddings [][]float32
	Error      string
}

// EmbeddingRPCClient is the host side of an embedding plugin.
type EmbeddingRPCClient struct {
	client *rpc.Client
}

// NewEmbeddingRPCClient wraps an established RPC connection.
func NewEmbeddingRPCClient(c *rpc.Client) *EmbeddingRPCClient {
	return &EmbeddingRPCClient{client: c}
}

// Name returns the provider name, or "" if the plugin is unreachable.
func (c *EmbeddingRPCClient) Name() string {
	var resp string
	if err := c.client.Call("Plugin.Name", new(interface{}), &resp); err != nil {
		return ""
	}
	return resp
}

// Embed generates embeddings for the given texts.
func (c *EmbeddingRPCClient) Embed(texts []string) ([][]float32, error) {
	var resp EmbedReply
	if err := c.client.Call("Plugin.Embed", &EmbedArgs{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &PluginError{Message: resp.Error}
	}
	return resp.Embeddings, nil
}

// Dimensions returns the embedding dimensions, or 0 if unknown.
func (c *EmbeddingRPCClient) Dimensions() int {
	var resp int
	if err := c.client.Call("Plugin.Dimensions", new(interface{}), &resp); err != nil {
		return 0
	}
	return resp
}

// MaxBatchSize returns the maximum batch size, at least 1.
func (c *EmbeddingRPCClient) MaxBatchSize() int {
	var resp int
	if err := c.client.Call("Plugin.MaxBatchSize", new(interface{}), &resp); err != nil || resp < 1 {
		return 1
	}
	return resp
}

// Warmup warms up the provider.
func (c *EmbeddingRPCClient) Warmup() error {
	return c.callStatus("Plugin.Warmup")
}

// Close closes the provider.
func (c *EmbeddingRPCClient) Close() error {
	return c.callStatus("Plugin.Close")
}

func (c *EmbeddingRPCClient) callStatus(method string) error {
	var resp string
	if err := c.client.Call(method, new(interface{}), &resp); err != nil {
		return err
	}
	if resp != "" {
		return &PluginError{Message: resp}
	}
	return nil
}

// EmbeddingRPCServer is the plugin side of the RPC connection.
type EmbeddingRPCServer struct {
	Impl EmbeddingProvider
}

// Name returns the provider name.
func (s *EmbeddingRPCServer) Name(args interface{}, resp *string) error {
	*resp = s.Impl.Name()
	return nil
}

// Embed generates embeddings for the given texts.
func (s *EmbeddingRPCServer) Embed(args *EmbedArgs, resp *EmbedReply) error {
	embeddings, err := s.Impl.Embed(args.Texts)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Embeddings = embeddings
	return nil
}

// Dimensions returns the embedding dimensions.
func (s *EmbeddingRPCServer) Dimensions(args interface{}, resp *int) error {
	*resp = s.Impl.Dimensions()
	return nil
}

// MaxBatchSize returns the maximum batch size.
func (s *EmbeddingRPCServer) MaxBatchSize(args interface{}, resp *int) error {
	*resp = s.Impl.MaxBatchSize()
	return nil
}

// Warmup warms up the provider.
func (s *EmbeddingRPCServer) Warmup(args interface{}, resp *string) error {
	if err := s.Impl.Warmup(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// Close closes the provider.
func (s *EmbeddingRPCServer) Close(args interface{}, resp *string) error {
	if err := s.Impl.Close(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// PluginError is an error reported by the plugin implementation.
type PluginError struct {
	Message string
}

func (e *PluginError) Error() string {
	return e.Message
}
