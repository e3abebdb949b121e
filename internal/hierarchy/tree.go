package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// TreeNode represents a node in the repository tree.
type TreeNode struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"` // "file" or "directory"
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children,omitempty"`

	// Aggregated for directories
	FileCount int `json:"file_count,omitempty"`
}

// Tree rebuilds the subtree rooted at scopeID from one descendants read.
// maxDepth limits nesting below the scope; 0 means unlimited.
func (x *Index) Tree(ctx context.Context, scopeID int64, maxDepth int) (*TreeNode, error) {
	nodes, err := x.store.Descendants(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node %d: %w", scopeID, types.ErrNotFound)
	}

	byID := make(map[int64]*TreeNode, len(nodes))
	parentOf := make(map[int64]int64, len(nodes))
	depth := make(map[int64]int, len(nodes))
	for _, n := range nodes {
		t := &TreeNode{ID: n.ID, Name: n.Name, Path: n.Path, Type: "file"}
		if n.IsDirectory {
			t.Type = "directory"
		}
		byID[n.ID] = t
		parentOf[n.ID] = n.ParentID
	}
	root := byID[scopeID]
	if root == nil {
		return nil, fmt.Errorf("node %d: %w", scopeID, types.ErrNotFound)
	}

	// nodes are ordered by path, so parents come before their children
	for _, n := range nodes {
		if n.ID == scopeID {
			continue
		}
		parent, ok := byID[n.ParentID]
		if !ok {
			continue
		}
		depth[n.ID] = depth[n.ParentID] + 1
		if !n.IsDirectory {
			for p := n.ParentID; ; p = parentOf[p] {
				byID[p].FileCount++
				if p == scopeID {
					break
				}
			}
		}
		if maxDepth > 0 && depth[n.ID] > maxDepth {
			continue
		}
		parent.Children = append(parent.Children, byID[n.ID])
	}

	sortTree(root)
	return root, nil
}

// sortTree orders children directories first, then by name.
func sortTree(node *TreeNode) {
	sort.Slice(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if (a.Type == "directory") != (b.Type == "directory") {
			return a.Type == "directory"
		}
		return a.Name < b.Name
	})
	for _, c := range node.Children {
		sortTree(c)
	}
}

// FormatText renders the tree as ASCII art.
func FormatText(node *TreeNode) string {
	var sb strings.Builder
	formatText(&sb, node, "", true, true)
	return sb.String()
}

func formatText(sb *strings.Builder, node *TreeNode, prefix string, isLast, isRoot bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if isRoot {
		connector = ""
	}

	name := node.Name
	if name == "" {
		name = "."
	}
	if node.Type == "directory" {
		name += "/"
		if node.FileCount > 0 {
			name += fmt.Sprintf(" (%d files)", node.FileCount)
		}
	}
	sb.WriteString(prefix + connector + name + "\n")

	childPrefix := prefix
	if !isRoot {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, child := range node.Children {
		formatText(sb, child, childPrefix, i == len(node.Children)-1, false)
	}
}
