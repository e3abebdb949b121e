// Package mcp exposes the chunk index over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/mcp-chunkgraph/internal/config"
	"github.com/spetr/mcp-chunkgraph/internal/index"
	"github.com/spetr/mcp-chunkgraph/internal/retrieval"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	projectDir string
	config     *config.Config
	store      provider.VectorStore
	embedding  provider.EmbeddingProvider
	analyzer   provider.SyntaxAnalyzer
	engine     *retrieval.Engine

	indexMu sync.Mutex // one index_repository run at a time
}

// Config contains server configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Store      provider.VectorStore
	Embedding  provider.EmbeddingProvider // nil disables search_code and get_context
	Analyzer   provider.SyntaxAnalyzer
	Version    string
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("mcp server needs a store: %w", types.ErrInvalidConfig)
	}
	if cfg.Config == nil {
		cfg.Config = config.DefaultConfig()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		projectDir: cfg.ProjectDir,
		config:     cfg.Config,
		store:      cfg.Store,
		embedding:  cfg.Embedding,
		analyzer:   cfg.Analyzer,
		engine: retrieval.New(retrieval.Config{
			Store:     cfg.Store,
			Embedding: cfg.Embedding,
			RootPath:  cfg.ProjectDir,
			Overlap:   cfg.Config.Chunking.Overlap,
		}),
	}

	mcpServer := server.NewMCPServer(
		cfg.Config.MCP.Name,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	s.registerTools(mcpServer)
	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("index_repository",
		mcp.WithDescription("Rebuild the chunk index and reference graph of the repository"),
		mcp.WithArray("ignore", mcp.Description("Extra ignore patterns, e.g. 'alembic' or 'docs/**'")),
	), s.handleIndexRepository)

	mcpServer.AddTool(mcp.NewTool("search_code",
		mcp.WithDescription("Find the chunks closest to a natural language query"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("scope", mcp.Description("Directory to search below (default: repository root)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default from retrieval.max_results)")),
	), s.handleSearchCode)

	mcpServer.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Search and attach each hit's referenced and referencing chunks"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("scope", mcp.Description("Directory to search below (default: repository root)")),
		mcp.WithNumber("limit", mcp.Description("Search hits to consider")),
		mcp.WithNumber("max_chunks", mcp.Description("Maximum distinct chunks in the result")),
		mcp.WithNumber("max_referenced", mcp.Description("Outgoing edges examined per hit")),
		mcp.WithNumber("max_referencing", mcp.Description("Incoming edges examined per hit")),
		mcp.WithString("format", mcp.Description("Output format: text (default), json")),
	), s.handleGetContext)

	mcpServer.AddTool(mcp.NewTool("get_file_chunks",
		mcp.WithDescription("List the chunks of one indexed file in line order"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the repository root")),
		mcp.WithBoolean("include_text", mcp.Description("Include chunk text (default true)")),
		mcp.WithBoolean("with_context", mcp.Description("Attach each chunk's referenced and referencing chunks (default false)")),
		mcp.WithNumber("max_referenced", mcp.Description("Outgoing edges examined per chunk, with_context only")),
		mcp.WithNumber("max_referencing", mcp.Description("Incoming edges examined per chunk, with_context only")),
		mcp.WithString("format", mcp.Description("Output format with_context: text (default), json")),
	), s.handleGetFileChunks)

	mcpServer.AddTool(mcp.NewTool("get_repository_tree",
		mcp.WithDescription("Show the indexed directory tree"),
		mcp.WithString("path", mcp.Description("Subdirectory to show (default: repository root)")),
		mcp.WithNumber("depth", mcp.Description("Maximum depth, 0 for unlimited (default 0)")),
		mcp.WithString("format", mcp.Description("Output format: text (default), json")),
	), s.handleGetRepositoryTree)

	mcpServer.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List every indexed file"),
		mcp.WithString("prefix", mcp.Description("Only files whose path starts with this prefix")),
	), s.handleListFiles)

	mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get index statistics and metadata"),
	), s.handleGetStatus)
}

// Tool handlers

func (s *Server) handleIndexRepository(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ignore := req.GetStringSlice("ignore", nil)
	slog.Info("starting indexing", "root", s.projectDir, "extra_ignore", ignore)

	indexer, err := index.New(index.Config{
		ProjectDir: s.projectDir,
		Config:     s.config,
		Store:      s.store,
		Embedding:  s.embedding,
		Analyzer:   s.analyzer,
		Ignore:     ignore,
		OnProgress: func(p types.IndexProgress) {
			slog.Debug("progress", "phase", p.Phase, "files", p.ProcessedFiles, "chunks", p.ProcessedChunks)
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	s.indexMu.Lock()
	result, err := indexer.Index(ctx)
	s.indexMu.Unlock()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleSearchCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	scope := req.GetString("scope", "")
	limit := req.GetInt("limit", s.config.Retrieval.MaxResults)

	hits, err := s.engine.Search(ctx, query, scope, limit)
	if err != nil {
		return toolError("search failed", err), nil
	}

	formatted := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		text, err := s.engine.ChunkText(h.Chunk)
		if err != nil {
			slog.Warn("failed to read chunk text", "chunk", h.Chunk.ID, "error", err)
		}
		formatted = append(formatted, map[string]any{
			"id":         h.Chunk.ID,
			"file":       h.Chunk.FilePath,
			"start_line": h.Chunk.StartLine + 1,
			"end_line":   h.Chunk.EndLine + 1,
			"language":   h.Chunk.Language,
			"distance":   h.Distance,
			"text":       text,
		})
	}
	return jsonResult(formatted)
}

func (s *Server) handleGetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	scope := req.GetString("scope", "")
	limit := req.GetInt("limit", s.config.Retrieval.MaxResults)
	limits := retrieval.Limits{
		MaxChunks:      req.GetInt("max_chunks", s.config.Retrieval.MaxChunks),
		MaxReferenced:  req.GetInt("max_referenced", s.config.Retrieval.MaxReferenced),
		MaxReferencing: req.GetInt("max_referencing", s.config.Retrieval.MaxReferencing),
	}

	result, err := s.engine.Context(ctx, query, scope, limit, limits)
	if err != nil {
		return toolError("context search failed", err), nil
	}

	if req.GetString("format", "text") == "json" {
		return jsonResult(result)
	}
	return mcp.NewToolResultText(retrieval.Format(result)), nil
}

func (s *Server) handleGetFileChunks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	includeText := req.GetBool("include_text", true)

	if req.GetBool("with_context", false) {
		limits := retrieval.Limits{
			MaxReferenced:  req.GetInt("max_referenced", s.config.Retrieval.MaxReferenced),
			MaxReferencing: req.GetInt("max_referencing", s.config.Retrieval.MaxReferencing),
		}
		result, err := s.engine.FileContext(ctx, path, limits)
		if err != nil {
			return toolError("failed to get chunks", err), nil
		}
		if req.GetString("format", "text") == "json" {
			return jsonResult(result)
		}
		return mcp.NewToolResultText(retrieval.Format(result)), nil
	}

	chunks, err := s.engine.FileChunks(ctx, path)
	if err != nil {
		return toolError("failed to get chunks", err), nil
	}

	formatted := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		entry := map[string]any{
			"id":         c.ID,
			"file":       c.FilePath,
			"start_line": c.StartLine + 1,
			"end_line":   c.EndLine + 1,
			"language":   c.Language,
			"fallback":   c.Fallback,
		}
		if c.Documentation != "" {
			entry["documentation"] = c.Documentation
		}
		if includeText {
			text, err := s.engine.ChunkText(c)
			if err != nil {
				entry["error"] = err.Error()
			} else {
				entry["text"] = text
			}
		}
		formatted = append(formatted, entry)
	}
	return jsonResult(formatted)
}

func (s *Server) handleListFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := strings.ToLower(strings.TrimPrefix(req.GetString("prefix", ""), "./"))

	files, err := s.engine.Files(ctx)
	if err != nil {
		return toolError("failed to list files", err), nil
	}

	matched := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(strings.ToLower(f), prefix) {
			matched = append(matched, f)
		}
	}
	return jsonResult(map[string]any{
		"count": len(matched),
		"files": matched,
	})
}

func (s *Server) handleGetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return toolError("failed to get stats", err), nil
	}

	result := map[string]any{
		"root":            s.projectDir,
		"store":           s.store.Name(),
		"directories":     stats.Directories,
		"files":           stats.Files,
		"chunks":          stats.TotalChunks,
		"embedded_chunks": stats.EmbeddedChunks,
		"pending_chunks":  stats.TotalChunks - stats.EmbeddedChunks,
		"references":      stats.TotalReferences,
	}
	if stats.DBSizeBytes > 0 {
		result["db_size"] = formatBytes(stats.DBSizeBytes)
	}
	if s.embedding != nil {
		result["embedding_provider"] = s.embedding.Name()
	}

	meta, err := s.store.GetMetadata(ctx)
	if err != nil {
		slog.Warn("failed to read index metadata", "error", err)
	}
	if meta != nil {
		result["session_id"] = meta.SessionID
		result["indexed_at"] = meta.IndexedAt.Format("2006-01-02 15:04:05")
		result["tool_version"] = meta.ToolVersion
		result["stale_config"] = meta.ConfigHash != s.config.Hash()
	}
	return jsonResult(result)
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError turns err into a tool result, with a hint for the common cases.
func toolError(prefix string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, types.ErrIndexNotFound):
		return mcp.NewToolResultError(prefix + ": repository is not indexed, run index_repository first")
	case errors.Is(err, types.ErrEmbeddingFailed):
		return mcp.NewToolResultError(fmt.Sprintf("%s: embedding provider unavailable: %v", prefix, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
	}
}

// formatBytes formats bytes to human readable string.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
