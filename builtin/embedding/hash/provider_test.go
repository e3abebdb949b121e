package hash

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestVectorDeterministicAndNormalized(t *testing.T) {
	a := Vector("func ParseConfig(path string) error", 64)
	b := Vector("func ParseConfig(path string) error", 64)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Vector not deterministic (-first +second):\n%s", diff)
	}
	if n := math.Sqrt(dot(a, a)); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", n)
	}
}

func TestVectorEmpty(t *testing.T) {
	v := Vector("  ;; {} ", 8)
	if len(v) != 8 {
		t.Fatalf("len = %d, want 8", len(v))
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("Vector(no tokens) = %v, want zeros", v)
		}
	}
}

func TestVectorSimilarity(t *testing.T) {
	query := Vector("parse config file", DefaultDimensions)
	near := Vector("func parseConfig(file string) { return config }", DefaultDimensions)
	far := Vector("render triangle mesh shader", DefaultDimensions)
	if dot(query, near) <= dot(query, far) {
		t.Errorf("similarity(near) = %f, similarity(far) = %f", dot(query, near), dot(query, far))
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseURL", []string{"parseurl", "parse", "url"}},
		{"HTTPServer.Start()", []string{"httpserver", "http", "server", "start"}},
		{"max_file_size = 10", []string{"max_file_size", "max", "file", "size", "10"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Tokens(tt.in)); diff != "" {
				t.Errorf("Tokens(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestProviderEmbed(t *testing.T) {
	p := New(Config{Dimensions: 16})
	if p.Dimensions() != 16 || p.MaxBatchSize() != DefaultBatchSize {
		t.Errorf("Dimensions() = %d, MaxBatchSize() = %d", p.Dimensions(), p.MaxBatchSize())
	}

	out, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || len(out[0]) != 16 {
		t.Errorf("Embed() shape = %d x %d", len(out), len(out[0]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, []string{"a"}); err == nil {
		t.Error("Embed(cancelled) = nil error")
	}
}
