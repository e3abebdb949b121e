// Package treesitter implements the syntax analyzer using Tree-sitter tag queries.
//
// Each supported language has one query that tags class-like declarations
// as definition.class, functions and methods as definition.function, and
// call sites as name.reference.call. Definition patterns also capture the
// declared identifier as @name.
package treesitter

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

type languageSpec struct {
	language func() *sitter.Language
	query    string
}

var specs = map[string]languageSpec{
	"go": {golang.GetLanguage, `
		(function_declaration name: (identifier) @name) @definition.function
		(method_declaration name: (field_identifier) @name) @definition.function
		(type_declaration (type_spec name: (type_identifier) @name type: (struct_type))) @definition.class
		(type_declaration (type_spec name: (type_identifier) @name type: (interface_type))) @definition.class
		(call_expression function: (identifier) @name.reference.call)
		(call_expression function: (selector_expression field: (field_identifier) @name.reference.call))
	`},
	"python": {python.GetLanguage, `
		(class_definition name: (identifier) @name) @definition.class
		(function_definition name: (identifier) @name) @definition.function
		(call function: (identifier) @name.reference.call)
		(call function: (attribute attribute: (identifier) @name.reference.call))
	`},
	"javascript": {javascript.GetLanguage, jsQuery},
	"jsx":        {javascript.GetLanguage, jsQuery},
	"typescript": {tstype.GetLanguage, tsQuery},
	"tsx":        {tsx.GetLanguage, tsQuery},
	"rust": {rust.GetLanguage, `
		(struct_item name: (type_identifier) @name) @definition.class
		(trait_item name: (type_identifier) @name) @definition.class
		(impl_item type: (type_identifier) @name) @definition.class
		(function_item name: (identifier) @name) @definition.function
		(call_expression function: (identifier) @name.reference.call)
		(call_expression function: (field_expression field: (field_identifier) @name.reference.call))
		(call_expression function: (scoped_identifier name: (identifier) @name.reference.call))
	`},
	"java": {java.GetLanguage, `
		(class_declaration name: (identifier) @name) @definition.class
		(interface_declaration name: (identifier) @name) @definition.class
		(method_declaration name: (identifier) @name) @definition.function
		(constructor_declaration name: (identifier) @name) @definition.function
		(method_invocation name: (identifier) @name.reference.call)
	`},
	"c": {tsc.GetLanguage, `
		(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.class
		(function_definition declarator: (function_declarator declarator: (identifier) @name)) @definition.function
		(call_expression function: (identifier) @name.reference.call)
	`},
	"cpp": {cpp.GetLanguage, `
		(class_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.class
		(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.class
		(function_definition declarator: (function_declarator declarator: (identifier) @name)) @definition.function
		(function_definition declarator: (function_declarator declarator: (field_identifier) @name)) @definition.function
		(function_definition declarator: (function_declarator declarator: (qualified_identifier name: (identifier) @name))) @definition.function
		(call_expression function: (identifier) @name.reference.call)
		(call_expression function: (field_expression field: (field_identifier) @name.reference.call))
		(call_expression function: (qualified_identifier name: (identifier) @name.reference.call))
	`},
	"csharp": {csharp.GetLanguage, `
		(class_declaration name: (identifier) @name) @definition.class
		(interface_declaration name: (identifier) @name) @definition.class
		(struct_declaration name: (identifier) @name) @definition.class
		(method_declaration name: (identifier) @name) @definition.function
		(constructor_declaration name: (identifier) @name) @definition.function
		(invocation_expression function: (identifier) @name.reference.call)
		(invocation_expression function: (member_access_expression name: (identifier) @name.reference.call))
	`},
	"php": {php.GetLanguage, `
		(class_declaration name: (name) @name) @definition.class
		(interface_declaration name: (name) @name) @definition.class
		(trait_declaration name: (name) @name) @definition.class
		(function_definition name: (name) @name) @definition.function
		(method_declaration name: (name) @name) @definition.function
		(function_call_expression (name) @name.reference.call)
		(function_call_expression function: (qualified_name (name) @name.reference.call))
		(member_call_expression name: (name) @name.reference.call)
	`},
	"ruby": {ruby.GetLanguage, `
		(class name: (constant) @name) @definition.class
		(module name: (constant) @name) @definition.class
		(method name: (identifier) @name) @definition.function
		(call method: (identifier) @name.reference.call)
	`},
}

const jsQuery = `
	(class_declaration name: (identifier) @name) @definition.class
	(function_declaration name: (identifier) @name) @definition.function
	(method_definition name: (property_identifier) @name) @definition.function
	(call_expression function: (identifier) @name.reference.call)
	(call_expression function: (member_expression property: (property_identifier) @name.reference.call))
`

const tsQuery = `
	(class_declaration name: (type_identifier) @name) @definition.class
	(interface_declaration name: (type_identifier) @name) @definition.class
	(function_declaration name: (identifier) @name) @definition.function
	(method_definition name: (property_identifier) @name) @definition.function
	(call_expression function: (identifier) @name.reference.call)
	(call_expression function: (member_expression property: (property_identifier) @name.reference.call))
`

// Analyzer tags definitions and references with Tree-sitter.
type Analyzer struct {
	mu      sync.Mutex
	queries map[string]*sitter.Query
}

// New creates a new Tree-sitter analyzer.
func New() *Analyzer {
	return &Analyzer{queries: make(map[string]*sitter.Query)}
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return "treesitter"
}

// SupportsLanguage checks if a grammar and query exist for lang.
func (a *Analyzer) SupportsLanguage(lang string) bool {
	_, ok := specs[lang]
	return ok
}

// SupportedLanguages returns all languages with a tag query.
func (a *Analyzer) SupportedLanguages() []string {
	langs := make([]string, 0, len(specs))
	for lang := range specs {
		langs = append(langs, lang)
	}
	return langs
}

// query compiles the tag query for lang once.
func (a *Analyzer) query(lang string, spec languageSpec) (*sitter.Query, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if q, ok := a.queries[lang]; ok {
		return q, nil
	}
	q, err := sitter.NewQuery([]byte(spec.query), spec.language())
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %v: %w", lang, err, types.ErrParseError)
	}
	a.queries[lang] = q
	return q, nil
}

// Analyze parses content and returns its tagged spans.
func (a *Analyzer) Analyze(ctx context.Context, content []byte, language string) (types.Captures, error) {
	spec, ok := specs[language]
	if !ok {
		return nil, fmt.Errorf("%s: %w", language, types.ErrUnsupportedLanguage)
	}

	q, err := a.query(language, spec)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", language, err, types.ErrParseError)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	captures := make(types.Captures)
	total := 0
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, content)

		var name string
		var defNode *sitter.Node
		var defTag types.CaptureTag
		for _, c := range m.Captures {
			switch tag := q.CaptureNameForId(c.Index); tag {
			case "name":
				name = c.Node.Content(content)
			case string(types.TagDefinitionClass), string(types.TagDefinitionFunction):
				defNode = c.Node
				defTag = types.CaptureTag(tag)
			case string(types.TagReferenceCall):
				captures[types.TagReferenceCall] = append(captures[types.TagReferenceCall], span(c.Node, content, types.TagReferenceCall))
				total++
			}
		}
		if defNode != nil {
			s := span(defNode, content, defTag)
			s.Name = name
			captures[defTag] = append(captures[defTag], s)
			total++
		}
	}

	if total == 0 {
		return nil, fmt.Errorf("%s: no captures: %w", language, types.ErrParseError)
	}
	return captures, nil
}

func span(n *sitter.Node, content []byte, tag types.CaptureTag) types.Span {
	start, end := n.StartPoint(), n.EndPoint()
	return types.Span{
		StartLine: int(start.Row),
		StartCol:  int(start.Column),
		EndLine:   int(end.Row),
		EndCol:    int(end.Column),
		Text:      n.Content(content),
		Tag:       tag,
	}
}

// Close releases compiled queries.
func (a *Analyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for lang, q := range a.queries {
		q.Close()
		delete(a.queries, lang)
	}
	return nil
}

// Ensure Analyzer implements SyntaxAnalyzer interface
var _ provider.SyntaxAnalyzer = (*Analyzer)(nil)
