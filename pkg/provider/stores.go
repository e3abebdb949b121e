// Package provider defines interfaces for pluggable components.
package provider

import (
	"context"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// HierarchyStore persists the file tree as a closure table.
type HierarchyStore interface {
	// InsertNode stores node, its self edge at depth 0 and one edge per
	// lineage entry, in one transaction. Lineage edges carry AncestorID and
	// Depth; DescendantID is filled in with the generated node id, which is
	// also written back to node.ID.
	InsertNode(ctx context.Context, node *types.FsNode, lineage []types.AncestorEdge) error

	// GetNode retrieves a node by ID. Returns nil, nil when missing.
	GetNode(ctx context.Context, id int64) (*types.FsNode, error)

	// RootNode returns the node without a parent. Returns nil, nil when empty.
	RootNode(ctx context.Context) (*types.FsNode, error)

	// AncestorEdges returns every closure row whose descendant is id.
	AncestorEdges(ctx context.Context, id int64) ([]types.AncestorEdge, error)

	// Descendants returns id and every node below it, ordered by path.
	Descendants(ctx context.Context, id int64) ([]*types.FsNode, error)

	// FindByPath matches path case-insensitively. Returns nil, nil when missing.
	FindByPath(ctx context.Context, path string) (*types.FsNode, error)
}

// ChunkStore handles chunk storage operations.
type ChunkStore interface {
	// InsertChunks stores chunks in one transaction and writes the generated
	// ids back to each chunk.
	InsertChunks(ctx context.Context, chunks []*types.Chunk) error

	// GetChunk retrieves a chunk by ID. Returns nil, nil when missing.
	GetChunk(ctx context.Context, id int64) (*types.Chunk, error)

	// ChunksByFile returns the chunks of one file ordered by start line.
	ChunksByFile(ctx context.Context, fileID int64) ([]*types.Chunk, error)

	// PendingEmbeddings returns up to limit chunks without an embedding.
	PendingEmbeddings(ctx context.Context, limit int) ([]*types.Chunk, error)

	// SetEmbeddings stores one vector per chunk id.
	SetEmbeddings(ctx context.Context, ids []int64, vectors [][]float32) error

	// SetDocumentation attaches a documentation string to a chunk.
	SetDocumentation(ctx context.Context, id int64, doc string) error
}

// ReferenceStore handles chunk graph edges.
type ReferenceStore interface {
	// AddReferences stores edges, ignoring ones that already exist.
	AddReferences(ctx context.Context, refs []types.ChunkReference) error

	// Referenced returns the ids id points to, in insertion order.
	Referenced(ctx context.Context, id int64) ([]int64, error)

	// Referencing returns the ids pointing to id, in insertion order.
	Referencing(ctx context.Context, id int64) ([]int64, error)
}

// Searcher handles nearest-neighbor search.
type Searcher interface {
	// SearchWithin ranks embedded chunks of files below scopeID by ascending
	// cosine distance to vec.
	SearchWithin(ctx context.Context, vec []float32, scopeID int64, limit int) ([]*types.RankedChunk, error)
}

// MetadataStore handles index metadata.
type MetadataStore interface {
	// GetMetadata returns index metadata. Returns nil, nil before the first run.
	GetMetadata(ctx context.Context) (*types.IndexMetadata, error)

	// SetMetadata stores index metadata.
	SetMetadata(ctx context.Context, meta *types.IndexMetadata) error

	// GetStats returns store statistics.
	GetStats(ctx context.Context) (*types.StoreStats, error)
}

// Store is a minimal interface for basic store operations.
type Store interface {
	// Name returns the store name (e.g., "sqlitevec").
	Name() string

	// Init initializes the store at the given path.
	Init(path string) error

	// Clear removes every node, chunk, edge and embedding.
	Clear(ctx context.Context) error

	// Close releases resources and closes connections.
	Close() error
}
