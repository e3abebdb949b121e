// Package hash implements an offline EmbeddingProvider based on feature hashing.
//
// Every identifier-like token of the input is hashed with SHA-256 into one
// of Dimensions buckets with a sign taken from the digest, and the resulting
// vector is L2-normalized. Texts that share vocabulary land close together in
// cosine space, which is enough for tests, air-gapped setups and smoke runs
// without an embedding server.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
)

// Default values
const (
	DefaultDimensions = 384
	DefaultBatchSize  = 256
)

// Config contains hash provider configuration.
type Config struct {
	Dimensions int
	BatchSize  int
}

// Provider implements the EmbeddingProvider interface without a model.
type Provider struct {
	config Config
}

// New creates a new hash embedding provider.
func New(cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Provider{config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "hash"
}

// Embed generates embeddings for the given texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = Vector(text, p.config.Dimensions)
	}
	return out, nil
}

// Vector returns the normalized feature-hashed vector of text.
// Text without tokens maps to a zero vector.
func Vector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, tok := range Tokens(text) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint64(sum[:8]) % uint64(dims)
		if sum[8]&1 == 0 {
			v[bucket]++
		} else {
			v[bucket]--
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Tokens splits text into lowercase identifier tokens. camelCase and
// snake_case identifiers also contribute their parts.
func Tokens(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var out []string
	for _, w := range words {
		lower := strings.ToLower(w)
		out = append(out, lower)
		parts := splitIdentifier(w)
		if len(parts) > 1 {
			out = append(out, parts...)
		}
	}
	return out
}

func splitIdentifier(w string) []string {
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	runes := []rune(w)
	for i, r := range runes {
		switch {
		case r == '_':
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return parts
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup is a no-op.
func (p *Provider) Warmup(ctx context.Context) error {
	return nil
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
