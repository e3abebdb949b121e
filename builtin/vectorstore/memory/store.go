// Package memory implements VectorStore in process memory.
// It keeps nothing on disk and ranks by brute-force cosine distance, which
// suits tests and one-shot sessions over small repositories.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Store implements the VectorStore interface with maps.
type Store struct {
	mu sync.RWMutex

	nextNodeID  int64
	nextChunkID int64

	nodes     map[int64]*types.FsNode
	ancestors map[int64][]types.AncestorEdge // by descendant
	chunks    map[int64]*types.Chunk
	byFile    map[int64][]int64
	vectors   map[int64][]float32
	out       map[int64][]int64
	in        map[int64][]int64
	edges     map[types.ChunkReference]bool
	meta      *types.IndexMetadata
}

// New creates an empty in-memory store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nextNodeID = 0
	s.nextChunkID = 0
	s.nodes = make(map[int64]*types.FsNode)
	s.ancestors = make(map[int64][]types.AncestorEdge)
	s.chunks = make(map[int64]*types.Chunk)
	s.byFile = make(map[int64][]int64)
	s.vectors = make(map[int64][]float32)
	s.out = make(map[int64][]int64)
	s.in = make(map[int64][]int64)
	s.edges = make(map[types.ChunkReference]bool)
	s.meta = nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "memory"
}

// Init is a no-op; the path is ignored.
func (s *Store) Init(path string) error {
	return nil
}

// Clear drops all data.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Close releases nothing.
func (s *Store) Close() error {
	return nil
}

// InsertNode stores a node together with its closure rows.
func (s *Store) InsertNode(ctx context.Context, node *types.FsNode, lineage []types.AncestorEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ParentID != 0 {
		if _, ok := s.nodes[node.ParentID]; !ok {
			return fmt.Errorf("insert node %q: %w", node.Name, types.ErrParentNotFound)
		}
	}

	s.nextNodeID++
	node.ID = s.nextNodeID
	stored := *node
	s.nodes[node.ID] = &stored

	edges := make([]types.AncestorEdge, 0, len(lineage)+1)
	edges = append(edges, types.AncestorEdge{DescendantID: node.ID, AncestorID: node.ID, Depth: 0})
	for _, e := range lineage {
		edges = append(edges, types.AncestorEdge{DescendantID: node.ID, AncestorID: e.AncestorID, Depth: e.Depth})
	}
	s.ancestors[node.ID] = edges
	return nil
}

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, id int64) (*types.FsNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

// RootNode returns the node without a parent.
func (s *Store) RootNode(ctx context.Context) (*types.FsNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var root *types.FsNode
	for _, n := range s.nodes {
		if n.ParentID == 0 && (root == nil || n.ID < root.ID) {
			root = n
		}
	}
	if root == nil {
		return nil, nil
	}
	cp := *root
	return &cp, nil
}

// AncestorEdges returns the closure rows of id.
func (s *Store) AncestorEdges(ctx context.Context, id int64) ([]types.AncestorEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := s.ancestors[id]
	out := make([]types.AncestorEdge, len(edges))
	copy(out, edges)
	return out, nil
}

// Descendants returns id and every node below it, ordered by path.
func (s *Store) Descendants(ctx context.Context, id int64) ([]*types.FsNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []*types.FsNode
	for nodeID, edges := range s.ancestors {
		for _, e := range edges {
			if e.AncestorID == id {
				cp := *s.nodes[nodeID]
				nodes = append(nodes, &cp)
				break
			}
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

// FindByPath matches path case-insensitively; the lowest id wins on collisions.
func (s *Store) FindByPath(ctx context.Context, path string) (*types.FsNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *types.FsNode
	for _, n := range s.nodes {
		if strings.EqualFold(n.Path, path) && (found == nil || n.ID < found.ID) {
			found = n
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

// InsertChunks stores chunks and assigns ids.
func (s *Store) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		file, ok := s.nodes[c.FileID]
		if !ok {
			return fmt.Errorf("insert chunk for file %d: %w", c.FileID, types.ErrNotFound)
		}
		s.nextChunkID++
		c.ID = s.nextChunkID
		c.FilePath = file.Path
		stored := *c
		s.chunks[c.ID] = &stored
		s.byFile[c.FileID] = append(s.byFile[c.FileID], c.ID)
	}
	return nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id int64) (*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkCopy(id), nil
}

func (s *Store) chunkCopy(id int64) *types.Chunk {
	c, ok := s.chunks[id]
	if !ok {
		return nil
	}
	cp := *c
	_, cp.HasEmbedding = s.vectors[id]
	return &cp
}

// ChunksByFile returns the chunks of one file ordered by start line.
func (s *Store) ChunksByFile(ctx context.Context, fileID int64) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*types.Chunk
	for _, id := range s.byFile[fileID] {
		chunks = append(chunks, s.chunkCopy(id))
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].StartLine < chunks[j].StartLine
	})
	return chunks, nil
}

// PendingEmbeddings returns chunks without a vector, lowest id first.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id := range s.chunks {
		if _, ok := s.vectors[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	chunks := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, s.chunkCopy(id))
	}
	return chunks, nil
}

// SetEmbeddings stores one vector per chunk id.
func (s *Store) SetEmbeddings(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids and %d vectors", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range ids {
		if _, ok := s.chunks[id]; !ok {
			return fmt.Errorf("set embedding for chunk %d: %w", id, types.ErrNotFound)
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		s.vectors[id] = vec
	}
	return nil
}

// SetDocumentation attaches a documentation string to a chunk.
func (s *Store) SetDocumentation(ctx context.Context, id int64, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %d: %w", id, types.ErrNotFound)
	}
	c.Documentation = doc
	return nil
}

// AddReferences stores edges, ignoring duplicates.
func (s *Store) AddReferences(ctx context.Context, refs []types.ChunkReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range refs {
		if s.edges[r] {
			continue
		}
		s.edges[r] = true
		s.out[r.ReferencingID] = append(s.out[r.ReferencingID], r.ReferencedID)
		s.in[r.ReferencedID] = append(s.in[r.ReferencedID], r.ReferencingID)
	}
	return nil
}

// Referenced returns the out-neighbors of id.
func (s *Store) Referenced(ctx context.Context, id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.out[id]...), nil
}

// Referencing returns the in-neighbors of id.
func (s *Store) Referencing(ctx context.Context, id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.in[id]...), nil
}

// SearchWithin ranks embedded chunks below scopeID by cosine distance.
func (s *Store) SearchWithin(ctx context.Context, vec []float32, scopeID int64, limit int) ([]*types.RankedChunk, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector is required for vector search")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	inScope := make(map[int64]bool)
	for nodeID, edges := range s.ancestors {
		for _, e := range edges {
			if e.AncestorID == scopeID {
				inScope[nodeID] = true
				break
			}
		}
	}

	var results []*types.RankedChunk
	for id, v := range s.vectors {
		c := s.chunks[id]
		if !inScope[c.FileID] {
			continue
		}
		results = append(results, &types.RankedChunk{
			Chunk:    s.chunkCopy(id),
			Distance: cosineDistance(vec, v),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetMetadata returns the last stored metadata.
func (s *Store) GetMetadata(ctx context.Context) (*types.IndexMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meta == nil {
		return nil, nil
	}
	cp := *s.meta
	return &cp, nil
}

// SetMetadata stores index metadata.
func (s *Store) SetMetadata(ctx context.Context, meta *types.IndexMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *meta
	s.meta = &cp
	return nil
}

// GetStats returns store statistics.
func (s *Store) GetStats(ctx context.Context) (*types.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.StoreStats{
		TotalChunks:     len(s.chunks),
		EmbeddedChunks:  len(s.vectors),
		TotalReferences: len(s.edges),
	}
	for _, n := range s.nodes {
		if n.IsDirectory {
			stats.Directories++
		} else {
			stats.Files++
		}
	}
	return stats, nil
}

func sortNodes(nodes []*types.FsNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Path != nodes[j].Path {
			return nodes[i].Path < nodes[j].Path
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// cosineDistance matches sqlite-vec's vec_distance_cosine: 1 - cos(a, b).
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Ensure Store implements VectorStore interface
var _ provider.VectorStore = (*Store)(nil)
