package shared

import (
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeEmbedding struct {
	failEmbed bool
}

func (f *fakeEmbedding) Name() string { return "fake" }

func (f *fakeEmbedding) Embed(texts []string) ([][]float32, error) {
	if f.failEmbed {
		return nil, errors.New("model unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedding) Dimensions() int   { return 2 }
func (f *fakeEmbedding) MaxBatchSize() int { return 0 }
func (f *fakeEmbedding) Warmup() error     { return errors.New("cold") }
func (f *fakeEmbedding) Close() error      { return nil }

func connect(t *testing.T, impl EmbeddingProvider) *EmbeddingRPCClient {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", &EmbeddingRPCServer{Impl: impl}); err != nil {
		t.Fatal(err)
	}
	hostConn, pluginConn := net.Pipe()
	go server.ServeConn(pluginConn)
	client := rpc.NewClient(hostConn)
	t.Cleanup(func() { client.Close() })
	return NewEmbeddingRPCClient(client)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c := connect(t, &fakeEmbedding{})

	if c.Name() != "fake" || c.Dimensions() != 2 {
		t.Errorf("Name() = %q, Dimensions() = %d", c.Name(), c.Dimensions())
	}
	if c.MaxBatchSize() != 1 {
		t.Errorf("MaxBatchSize() = %d, want clamped to 1", c.MaxBatchSize())
	}

	got, err := c.Embed([]string{"ab", "abcd"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]float32{{2, 1}, {4, 1}}, got); diff != "" {
		t.Errorf("Embed() mismatch (-want +got):\n%s", diff)
	}

	var perr *PluginError
	if err := c.Warmup(); !errors.As(err, &perr) || perr.Message != "cold" {
		t.Errorf("Warmup() = %v, want PluginError(cold)", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestEmbeddingPluginError(t *testing.T) {
	c := connect(t, &fakeEmbedding{failEmbed: true})

	_, err := c.Embed([]string{"x"})
	var perr *PluginError
	if !errors.As(err, &perr) {
		t.Fatalf("Embed() = %v, want PluginError", err)
	}
	// the connection survives an implementation error
	if c.Dimensions() != 2 {
		t.Error("connection unusable after plugin error")
	}
}
