// Package retrieval implements directory-scoped vector search over chunks
// and bounded one-hop expansion of each hit's reference neighborhood.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Default limits
const (
	DefaultMaxResults     = 10
	DefaultMaxChunks      = 3
	DefaultMaxReferenced  = 1
	DefaultMaxReferencing = 1
)

// Limits bounds neighborhood expansion. MaxChunks <= 0 takes the default;
// neighbor limits are used as given, so 0 disables that direction.
type Limits struct {
	MaxChunks      int
	MaxReferenced  int
	MaxReferencing int
}

// DefaultLimits returns the default expansion bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxChunks:      DefaultMaxChunks,
		MaxReferenced:  DefaultMaxReferenced,
		MaxReferencing: DefaultMaxReferencing,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxChunks <= 0 {
		l.MaxChunks = DefaultMaxChunks
	}
	if l.MaxReferenced < 0 {
		l.MaxReferenced = 0
	}
	if l.MaxReferencing < 0 {
		l.MaxReferencing = 0
	}
	return l
}

// Config contains retrieval engine configuration.
type Config struct {
	Store     provider.VectorStore
	Embedding provider.EmbeddingProvider // nil disables Search
	RootPath  string                     // repository root on disk, for chunk text
	Overlap   int                        // extra lines around each chunk's text
}

// Engine handles read-side operations on an index.
type Engine struct {
	store     provider.VectorStore
	embedding provider.EmbeddingProvider
	hierarchy *hierarchy.Index
	text      *TextReader
}

// New creates a new retrieval engine.
func New(cfg Config) *Engine {
	return &Engine{
		store:     cfg.Store,
		embedding: cfg.Embedding,
		hierarchy: hierarchy.New(cfg.Store),
		text:      NewTextReader(cfg.RootPath, cfg.Overlap),
	}
}

// Search embeds query and ranks the embedded chunks of files below
// scopeDirectory by ascending cosine distance. An empty or unknown scope
// searches the whole repository.
func (e *Engine) Search(ctx context.Context, query, scopeDirectory string, maxResults int) ([]*types.RankedChunk, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if e.embedding == nil {
		return nil, fmt.Errorf("no embedding provider configured: %w", types.ErrEmbeddingFailed)
	}

	scope, err := e.resolveScope(ctx, scopeDirectory)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, types.ErrIndexNotFound
	}

	vectors, err := e.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: provider returned no vector", types.ErrEmbeddingFailed)
	}

	hits, err := e.store.SearchWithin(ctx, vectors[0], scope.ID, maxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}
	return hits, nil
}

// resolveScope maps a directory to its node, falling back to the root.
func (e *Engine) resolveScope(ctx context.Context, dir string) (*types.FsNode, error) {
	root, err := e.hierarchy.Root(ctx)
	if err != nil {
		return nil, err
	}
	if hierarchy.NormalizePath(dir) == "" {
		return root, nil
	}

	node, err := e.hierarchy.ResolveByPath(ctx, dir)
	if err != nil {
		return nil, err
	}
	if node == nil {
		slog.Debug("search scope not found, using repository root", "scope", dir)
		return root, nil
	}
	return node, nil
}

// Expand attaches the bounded reference neighborhood to each chunk, in
// order. It stops once limits.MaxChunks distinct ids are included. For each
// newly included chunk it examines the first MaxReferenced outgoing and
// MaxReferencing incoming edges and includes the neighbors not seen yet.
// An id appears at most once in the result.
func (e *Engine) Expand(ctx context.Context, chunks []*types.Chunk, limits Limits) (*types.ContextResult, error) {
	limits = limits.withDefaults()
	included := make(map[int64]bool)
	result := &types.ContextResult{Entries: []types.ContextEntry{}}
	files := newFileCache()

	for _, c := range chunks {
		if len(included) >= limits.MaxChunks {
			break
		}
		if c == nil || included[c.ID] {
			continue
		}
		included[c.ID] = true

		entry := types.ContextEntry{
			RelatedChunk:  e.related(c, files),
			Documentation: c.Documentation,
		}

		out, err := e.store.Referenced(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load references of chunk %d: %w", c.ID, err)
		}
		entry.Referenced, err = e.neighbors(ctx, out, limits.MaxReferenced, limits.MaxChunks, included, files)
		if err != nil {
			return nil, err
		}

		in, err := e.store.Referencing(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load referrers of chunk %d: %w", c.ID, err)
		}
		entry.Referencing, err = e.neighbors(ctx, in, limits.MaxReferencing, limits.MaxChunks, included, files)
		if err != nil {
			return nil, err
		}

		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

// neighbors examines at most limit edges; the count includes neighbors
// that were already part of the result.
func (e *Engine) neighbors(ctx context.Context, ids []int64, limit, maxChunks int, included map[int64]bool, files *fileCache) ([]types.RelatedChunk, error) {
	out := []types.RelatedChunk{}
	for i, id := range ids {
		if i >= limit || len(included) >= maxChunks {
			break
		}
		if included[id] {
			continue
		}
		c, err := e.store.GetChunk(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d: %w", id, err)
		}
		if c == nil {
			continue
		}
		included[id] = true
		out = append(out, e.related(c, files))
	}
	return out, nil
}

func (e *Engine) related(c *types.Chunk, files *fileCache) types.RelatedChunk {
	text, err := e.text.readCached(c, files)
	if err != nil {
		slog.Warn("failed to read chunk text", "chunk", c.ID, "file", c.FilePath, "error", err)
	}
	return types.RelatedChunk{
		ID:        c.ID,
		Path:      c.FilePath,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Text:      text,
	}
}

// Context runs Search followed by Expand.
func (e *Engine) Context(ctx context.Context, query, scopeDirectory string, maxResults int, limits Limits) (*types.ContextResult, error) {
	hits, err := e.Search(ctx, query, scopeDirectory, maxResults)
	if err != nil {
		return nil, err
	}
	return e.Expand(ctx, Chunks(hits), limits)
}

// FileChunks returns the chunks of one indexed file ordered by start line.
func (e *Engine) FileChunks(ctx context.Context, filePath string) ([]*types.Chunk, error) {
	node, err := e.hierarchy.ResolveByPath(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if node == nil || node.IsDirectory {
		return nil, fmt.Errorf("file %q: %w", filePath, types.ErrNotFound)
	}
	return e.store.ChunksByFile(ctx, node.ID)
}

// FileContext returns the chunks of one file with their reference
// neighborhood, in line order. limits.MaxChunks <= 0 leaves room for every
// chunk of the file and all of its examined neighbors.
func (e *Engine) FileContext(ctx context.Context, filePath string, limits Limits) (*types.ContextResult, error) {
	chunks, err := e.FileChunks(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if limits.MaxChunks <= 0 {
		limits.MaxChunks = len(chunks) * (1 + max(limits.MaxReferenced, 0) + max(limits.MaxReferencing, 0))
	}
	return e.Expand(ctx, chunks, limits)
}

// ChunkText reads the text of c from disk.
func (e *Engine) ChunkText(c *types.Chunk) (string, error) {
	return e.text.Read(c)
}

// Tree returns the directory tree below subPath, limited to maxDepth
// levels (0 for unlimited).
func (e *Engine) Tree(ctx context.Context, subPath string, maxDepth int) (*hierarchy.TreeNode, error) {
	node, err := e.hierarchy.ResolveByPath(ctx, subPath)
	if err != nil {
		return nil, err
	}
	if node == nil {
		if hierarchy.NormalizePath(subPath) == "" {
			return nil, types.ErrIndexNotFound
		}
		return nil, fmt.Errorf("path %q: %w", subPath, types.ErrNotFound)
	}
	return e.hierarchy.Tree(ctx, node.ID, maxDepth)
}

// Files returns the repository-relative path of every indexed file.
func (e *Engine) Files(ctx context.Context) ([]string, error) {
	nodes, err := e.hierarchy.Files(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path
	}
	return paths, nil
}

// Chunks extracts the chunks of hits in rank order.
func Chunks(hits []*types.RankedChunk) []*types.Chunk {
	out := make([]*types.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}
