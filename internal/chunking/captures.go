package chunking

import (
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Definitions converts class and function captures into definitions.
func Definitions(c types.Captures) []types.Definition {
	var defs []types.Definition
	for _, s := range c[types.TagDefinitionClass] {
		defs = append(defs, types.Definition{StartLine: s.StartLine, EndLine: s.EndLine, Name: s.Name, IsClass: true})
	}
	for _, s := range c[types.TagDefinitionFunction] {
		defs = append(defs, types.Definition{StartLine: s.StartLine, EndLine: s.EndLine, Name: s.Name})
	}
	return defs
}

// References converts call captures into references. The referenced name
// is the captured text.
func References(c types.Captures) []types.Reference {
	spans := c[types.TagReferenceCall]
	refs := make([]types.Reference, 0, len(spans))
	for _, s := range spans {
		name := strings.TrimSpace(s.Text)
		if name == "" {
			continue
		}
		refs = append(refs, types.Reference{StartLine: s.StartLine, EndLine: s.EndLine, Name: name})
	}
	return refs
}
