package retrieval

import (
	"fmt"
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Format renders an expansion result as indented plain text for LLM
// consumers. Chunk bodies are tab-indented one level below their header.
func Format(result *types.ContextResult) string {
	if result == nil || len(result.Entries) == 0 {
		return "No chunks found.\n"
	}

	var sb strings.Builder
	for _, e := range result.Entries {
		fmt.Fprintf(&sb, "-> Chunk %d in file %s:\n", e.ID, e.Path)
		writeIndented(&sb, e.Text, 1)

		if e.Documentation != "" {
			sb.WriteString("\nDocumentation:\n")
			writeIndented(&sb, e.Documentation, 1)
		}
		if len(e.Referenced) > 0 {
			sb.WriteString("\nReferenced chunks:\n")
			writeRelated(&sb, e.Referenced)
		}
		if len(e.Referencing) > 0 {
			sb.WriteString("\nReferenced by chunks:\n")
			writeRelated(&sb, e.Referencing)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func writeRelated(sb *strings.Builder, chunks []types.RelatedChunk) {
	for _, r := range chunks {
		fmt.Fprintf(sb, "\n\t+ Chunk %d in file %s:\n", r.ID, r.Path)
		writeIndented(sb, r.Text, 2)
	}
}

func writeIndented(sb *strings.Builder, text string, depth int) {
	tabs := strings.Repeat("\t", depth)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		sb.WriteString(tabs)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

// FormatChunks renders chunk headers without text, one per line.
func FormatChunks(chunks []*types.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "%d\t%s:%d-%d", c.ID, c.FilePath, c.StartLine+1, c.EndLine+1)
		if c.Fallback {
			sb.WriteString("\t(fallback)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
