package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// TreeResult represents the result of get_repository_tree.
type TreeResult struct {
	Root       *hierarchy.TreeNode `json:"root"`
	TotalFiles int                 `json:"total_files"`
	TotalDirs  int                 `json:"total_dirs"`
}

// handleGetRepositoryTree handles the get_repository_tree tool.
func (s *Server) handleGetRepositoryTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	maxDepth := req.GetInt("depth", 0)
	format := req.GetString("format", "text")

	root, err := s.engine.Tree(ctx, path, maxDepth)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("path not found in index: %s", path)), nil
		}
		return toolError("failed to build tree", err), nil
	}

	switch format {
	case "json":
		files, dirs := countTree(root)
		return jsonResult(&TreeResult{Root: root, TotalFiles: files, TotalDirs: dirs})
	default:
		return mcp.NewToolResultText(hierarchy.FormatText(root)), nil
	}
}

// countTree counts the files and directories of a tree, root included.
func countTree(node *hierarchy.TreeNode) (files, dirs int) {
	if node == nil {
		return 0, 0
	}
	if node.Type == "directory" {
		dirs++
	} else {
		files++
	}
	for _, c := range node.Children {
		f, d := countTree(c)
		files += f
		dirs += d
	}
	return files, dirs
}
