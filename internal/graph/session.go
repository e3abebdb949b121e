// Package graph links chunks that reference one another's definitions.
//
// Resolution runs in two passes over one indexing session. Pass 1 runs as
// chunks are emitted: definitions overlapping a chunk are recorded in a
// name multimap and each reference is resolved if its name is already
// known. Pass 2 retries the leftovers once every file has been seen, which
// catches references to definitions in files walked later. Matching is
// purely lexical, so an ambiguous name links to every candidate.
package graph

import (
	"sort"

	"github.com/google/uuid"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

type chunkName struct {
	chunk int64
	name  string
}

// Session holds the resolution state of one indexing run.
// It is not safe for concurrent use.
type Session struct {
	ID string

	defs  map[string][]int64 // name -> chunks defining it, in annotation order
	known map[chunkName]bool // dedup for defs

	resolved   []chunkName
	isResolved map[chunkName]bool
	unresolved []chunkName
	pending    map[chunkName]bool

	edges   []types.ChunkReference
	hasEdge map[types.ChunkReference]bool
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	return &Session{
		ID:         uuid.NewString(),
		defs:       make(map[string][]int64),
		known:      make(map[chunkName]bool),
		isResolved: make(map[chunkName]bool),
		pending:    make(map[chunkName]bool),
		hasEdge:    make(map[types.ChunkReference]bool),
	}
}

// Annotate records the chunk [start, end] of a file. Every definition
// overlapping the range is registered under chunkID first; then every
// reference inside the range is classified as resolved or unresolved.
func (s *Session) Annotate(chunkID int64, start, end int, defs []types.Definition, refs []types.Reference) {
	for _, d := range defs {
		if d.Name == "" || d.StartLine > end || d.EndLine < start {
			continue
		}
		key := chunkName{chunkID, d.Name}
		if s.known[key] {
			continue
		}
		s.known[key] = true
		s.defs[d.Name] = append(s.defs[d.Name], chunkID)
	}

	for _, r := range refs {
		if r.StartLine < start || r.EndLine > end {
			continue
		}
		key := chunkName{chunkID, r.Name}
		if s.isResolved[key] || s.pending[key] {
			continue
		}
		if _, ok := s.defs[r.Name]; ok {
			s.markResolved(key)
		} else {
			s.pending[key] = true
			s.unresolved = append(s.unresolved, key)
		}
	}
}

func (s *Session) markResolved(key chunkName) {
	s.isResolved[key] = true
	s.resolved = append(s.resolved, key)
}

// ResolvePending retries every unresolved reference against the complete
// multimap. References still unknown stay unlinked. Returns the number of
// references resolved by this pass.
func (s *Session) ResolvePending() int {
	var still []chunkName
	n := 0
	for _, key := range s.unresolved {
		if _, ok := s.defs[key.name]; ok {
			delete(s.pending, key)
			s.markResolved(key)
			n++
			continue
		}
		still = append(still, key)
	}
	s.unresolved = still
	return n
}

// Materialize turns resolved references into edges. A chunk X referencing
// name links to every chunk defining name, except itself and any chunk
// that already links back to X. Chunks are visited in id order. The
// returned slice holds every edge of the session in creation order.
func (s *Session) Materialize() []types.ChunkReference {
	order := append([]chunkName(nil), s.resolved...)
	sort.SliceStable(order, func(i, j int) bool { return order[i].chunk < order[j].chunk })

	for _, key := range order {
		for _, d := range s.defs[key.name] {
			if d == key.chunk {
				continue
			}
			if s.hasEdge[types.ChunkReference{ReferencingID: d, ReferencedID: key.chunk}] {
				continue
			}
			edge := types.ChunkReference{ReferencingID: key.chunk, ReferencedID: d}
			if s.hasEdge[edge] {
				continue
			}
			s.hasEdge[edge] = true
			s.edges = append(s.edges, edge)
		}
	}
	return s.edges
}

// Defining returns the chunks that define name.
func (s *Session) Defining(name string) []int64 {
	return append([]int64(nil), s.defs[name]...)
}

// IsResolved reports whether chunkID's reference to name has been resolved.
func (s *Session) IsResolved(chunkID int64, name string) bool {
	return s.isResolved[chunkName{chunkID, name}]
}

// Stats summarizes the session.
func (s *Session) Stats() types.GraphStats {
	return types.GraphStats{
		Names:      len(s.defs),
		Resolved:   len(s.resolved),
		Unresolved: len(s.unresolved),
		Edges:      len(s.edges),
	}
}
