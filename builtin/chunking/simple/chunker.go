// Package simple implements plain line-based partitioning.
// It is used as a fallback when TreeSitter is not available,
// doesn't support the language, or finds no definitions.
package simple

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// DefaultMaxLines is the chunk size used when none is configured.
const DefaultMaxLines = 100

// Partition splits [0, lineCount) into ceil(lineCount/maxLines) near-equal
// ranges. An empty file yields no ranges.
func Partition(lineCount, maxLines int) []types.LineRange {
	if lineCount <= 0 {
		return nil
	}
	return Split(0, lineCount-1, maxLines)
}

// Split divides the inclusive range [start, end] into ceil(size/maxLines)
// consecutive pieces whose sizes differ by at most one line. Longer pieces
// come first.
func Split(start, end, maxLines int) []types.LineRange {
	size := end - start + 1
	if size <= 0 {
		return nil
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	k := (size + maxLines - 1) / maxLines
	base, extra := size/k, size%k

	ranges := make([]types.LineRange, 0, k)
	cur := start
	for i := 0; i < k; i++ {
		n := base
		if i < extra {
			n++
		}
		ranges = append(ranges, types.LineRange{Start: cur, End: cur + n - 1})
		cur += n
	}
	return ranges
}

// LineCount counts lines the way an editor shows them: a trailing newline
// does not open a new line.
func LineCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// DetectLanguage detects language from file extension.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.ToLower(filepath.Base(path))

	if base == "dockerfile" {
		return "dockerfile"
	}

	switch ext {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".mts":
		return "typescript"
	case ".jsx":
		return "jsx"
	case ".tsx":
		return "tsx"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c":
		return "c"
	case ".cpp", ".cc", ".cxx":
		return "cpp"
	case ".h", ".hpp":
		return "h"
	case ".rb":
		return "ruby"
	case ".php":
		return "php"
	case ".swift":
		return "swift"
	case ".kt", ".kts":
		return "kotlin"
	case ".scala", ".sc":
		return "scala"
	case ".cs":
		return "csharp"
	case ".lua":
		return "lua"
	case ".sql":
		return "sql"
	case ".ex", ".exs":
		return "elixir"
	case ".ml", ".mli":
		return "ocaml"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".proto":
		return "proto"
	case ".sh", ".bash":
		return "bash"
	case ".tf", ".hcl":
		return "hcl"
	default:
		return "text"
	}
}
