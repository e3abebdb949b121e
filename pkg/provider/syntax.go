package provider

import (
	"context"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// SyntaxAnalyzer tags definition and reference spans in source text.
type SyntaxAnalyzer interface {
	// Name returns the analyzer name (e.g., "treesitter").
	Name() string

	// Analyze returns the capture groups for content written in language.
	// It fails with types.ErrUnsupportedLanguage when no grammar exists and
	// with types.ErrParseError when parsing yields no captures.
	Analyze(ctx context.Context, content []byte, language string) (types.Captures, error)

	// SupportsLanguage checks if a language is supported.
	SupportsLanguage(lang string) bool

	// Close releases any resources.
	Close() error
}
