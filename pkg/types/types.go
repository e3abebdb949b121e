// Package types contains shared data types used across the indexer,
// the chunk graph and the retrieval layer.
package types

import "time"

// FsNode is a file or directory registered in the hierarchy index.
type FsNode struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ParentID    int64  `json:"parent_id,omitempty"` // 0 for the root
	IsDirectory bool   `json:"is_directory"`
	Path        string `json:"path"` // repo-relative, "/" separated, empty for the root
}

// IsRoot reports whether the node has no parent.
func (n *FsNode) IsRoot() bool {
	return n.ParentID == 0
}

// AncestorEdge is one row of the closure table.
type AncestorEdge struct {
	DescendantID int64
	AncestorID   int64
	Depth        int
}

// Chunk is a contiguous inclusive line range of one file.
// Chunk text is never stored; it is read from the file on demand.
type Chunk struct {
	ID            int64  `json:"id"`
	FileID        int64  `json:"file_id"`
	FilePath      string `json:"file"`
	StartLine     int    `json:"start_line"` // 0-based, inclusive
	EndLine       int    `json:"end_line"`   // 0-based, inclusive
	Language      string `json:"language,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"` // produced by plain line partitioning
	Documentation string `json:"documentation,omitempty"`
	HasEmbedding  bool   `json:"-"`
}

// LineCount returns the number of lines covered by the chunk.
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// LineRange is an inclusive 0-based line interval.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the number of lines in the range.
func (r LineRange) Size() int {
	return r.End - r.Start + 1
}

// ChunkReference is a directed edge between two chunks.
type ChunkReference struct {
	ReferencingID int64 `json:"referencing"`
	ReferencedID  int64 `json:"referenced"`
}

// CaptureTag identifies a syntax capture group.
type CaptureTag string

const (
	TagDefinitionClass    CaptureTag = "definition.class"
	TagDefinitionFunction CaptureTag = "definition.function"
	TagReferenceCall      CaptureTag = "name.reference.call"
)

// Span is a tagged source range returned by the syntax analyzer.
// Lines and columns are 0-based.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	Text      string
	Tag       CaptureTag
	Name      string // defined name for definition spans
}

// Captures groups spans by capture tag.
type Captures map[CaptureTag][]Span

// Definition is a function or class declaration span.
type Definition struct {
	StartLine int
	EndLine   int
	Name      string
	IsClass   bool
}

// Reference is a name use inside a file.
type Reference struct {
	StartLine int
	EndLine   int
	Name      string
}

// RankedChunk is a search hit.
type RankedChunk struct {
	Chunk    *Chunk  `json:"chunk"`
	Distance float64 `json:"distance"` // cosine distance, lower is closer
}

// RelatedChunk is a neighbor attached to a context entry.
type RelatedChunk struct {
	ID        int64  `json:"id"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// ContextEntry is one expanded hit with its bounded neighborhood.
type ContextEntry struct {
	RelatedChunk
	Documentation string         `json:"documentation,omitempty"`
	Referenced    []RelatedChunk `json:"referenced"`  // chunks this chunk references
	Referencing   []RelatedChunk `json:"referencing"` // chunks that reference this chunk
}

// ContextResult is the output of neighborhood expansion, in rank order.
type ContextResult struct {
	Entries []ContextEntry `json:"entries"`
}

// IDs returns every chunk id included in the result, entries and neighbors.
func (r *ContextResult) IDs() []int64 {
	var ids []int64
	for _, e := range r.Entries {
		ids = append(ids, e.ID)
		for _, n := range e.Referenced {
			ids = append(ids, n.ID)
		}
		for _, n := range e.Referencing {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// StoreStats contains statistics about the index.
type StoreStats struct {
	Directories     int   `json:"directories"`
	Files           int   `json:"files"`
	TotalChunks     int   `json:"chunks"`
	EmbeddedChunks  int   `json:"embedded_chunks"`
	TotalReferences int   `json:"references"`
	DBSizeBytes     int64 `json:"db_size_bytes,omitempty"`
}

// IndexMetadata contains metadata about the last indexing run.
type IndexMetadata struct {
	SchemaVersion       int       `json:"schema_version"`
	SessionID           string    `json:"session_id"`
	RootPath            string    `json:"root_path"`
	IndexedAt           time.Time `json:"indexed_at"`
	ConfigHash          string    `json:"config_hash"`
	ToolVersion         string    `json:"tool_version,omitempty"`
	EmbeddingProvider   string    `json:"embedding_provider,omitempty"`
	EmbeddingDimensions int       `json:"embedding_dimensions,omitempty"`
}

// IndexProgress represents the current state of indexing.
type IndexProgress struct {
	Phase           string // "walking", "resolving", "embedding"
	ProcessedFiles  int
	TotalChunks     int
	ProcessedChunks int
	CurrentFile     string
}

// GraphStats summarizes the reference graph built by one session.
type GraphStats struct {
	Names      int `json:"names"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Edges      int `json:"edges"`
}
