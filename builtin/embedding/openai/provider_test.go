package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// newServer serves /embeddings, returning results in reverse order to
// exercise index placement.
func newServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			emb := make([]float32, dims)
			emb[0] = float32(len(req.Input[i]))
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": emb})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatchesAndOrder(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, 3, &calls)
	p := New(Config{APIKey: "test", BaseURL: srv.URL, Model: "custom", BatchSize: 2})

	out, err := p.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2 batches", calls.Load())
	}
	for i, want := range []float32{1, 2, 3} {
		if out[i][0] != want {
			t.Errorf("out[%d][0] = %v, want %v", i, out[i][0], want)
		}
	}
	if p.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want detected 3", p.Dimensions())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, 3, &calls)
	p := New(Config{APIKey: "test", BaseURL: srv.URL, Model: "text-embedding-3-small"})

	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("Embed() = nil error, want dimension mismatch against 1536")
	}
}

func TestEmbedRateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, 3, &calls)
	p := New(Config{APIKey: "test", BaseURL: srv.URL, Model: "custom", BatchSize: 1, RequestsPerSecond: 0.001})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, []string{"a", "b"}); err == nil {
		t.Error("Embed(cancelled) = nil error")
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0", calls.Load())
	}
}

func TestKnownModelDimensions(t *testing.T) {
	p := New(Config{APIKey: "k", Model: "text-embedding-3-large"})
	if p.Dimensions() != 3072 {
		t.Errorf("Dimensions() = %d, want 3072", p.Dimensions())
	}
}
