// Package hierarchy maintains the repository file tree as a closure table.
//
// Every node stores one ancestor row per ancestor plus a self row at depth
// zero, so a subtree is a single filtered read regardless of depth.
package hierarchy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Index registers and queries file system entries.
type Index struct {
	store provider.HierarchyStore
}

// New creates a hierarchy index over store.
func New(store provider.HierarchyStore) *Index {
	return &Index{store: store}
}

// AddEntry registers a file or directory below parentID. A parentID of 0
// creates the root, which must not already exist.
func (x *Index) AddEntry(ctx context.Context, name string, parentID int64, isDirectory bool) (*types.FsNode, error) {
	node := &types.FsNode{Name: name, ParentID: parentID, IsDirectory: isDirectory}

	var lineage []types.AncestorEdge
	if parentID == 0 {
		root, err := x.store.RootNode(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup root: %w", err)
		}
		if root != nil {
			return nil, fmt.Errorf("add %q: %w", name, types.ErrRootExists)
		}
	} else {
		parent, err := x.store.GetNode(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("lookup parent %d: %w", parentID, err)
		}
		if parent == nil {
			return nil, fmt.Errorf("add %q under %d: %w", name, parentID, types.ErrParentNotFound)
		}
		if parent.Path == "" {
			node.Path = name
		} else {
			node.Path = parent.Path + "/" + name
		}

		edges, err := x.store.AncestorEdges(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("lookup ancestors of %d: %w", parentID, err)
		}
		lineage = make([]types.AncestorEdge, 0, len(edges))
		for _, e := range edges {
			lineage = append(lineage, types.AncestorEdge{AncestorID: e.AncestorID, Depth: e.Depth + 1})
		}
	}

	if err := x.store.InsertNode(ctx, node, lineage); err != nil {
		return nil, fmt.Errorf("insert %q: %w", node.Path, err)
	}
	return node, nil
}

// DescendantsOf returns nodeID and every node below it, ordered by path.
func (x *Index) DescendantsOf(ctx context.Context, nodeID int64) ([]*types.FsNode, error) {
	return x.store.Descendants(ctx, nodeID)
}

// ResolveByPath finds a node by its repository-relative path, ignoring case.
// The empty path and "." resolve to the root. Returns nil, nil when missing.
func (x *Index) ResolveByPath(ctx context.Context, p string) (*types.FsNode, error) {
	p = NormalizePath(p)
	if p == "" {
		return x.store.RootNode(ctx)
	}
	return x.store.FindByPath(ctx, p)
}

// Root returns the root node, or nil before the first walk.
func (x *Index) Root(ctx context.Context) (*types.FsNode, error) {
	return x.store.RootNode(ctx)
}

// Get returns a node by id, or nil when missing.
func (x *Index) Get(ctx context.Context, id int64) (*types.FsNode, error) {
	return x.store.GetNode(ctx, id)
}

// Files returns every file node ordered by path.
func (x *Index) Files(ctx context.Context) ([]*types.FsNode, error) {
	root, err := x.store.RootNode(ctx)
	if err != nil || root == nil {
		return nil, err
	}
	nodes, err := x.store.Descendants(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	files := nodes[:0]
	for _, n := range nodes {
		if !n.IsDirectory {
			files = append(files, n)
		}
	}
	return files, nil
}

// NormalizePath converts p to the stored form: "/" separated, no leading
// "./" or "/", no trailing "/". The root is the empty string.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}
