// mcp-chunkgraph indexes a repository into definition-aligned chunks linked
// by a reference graph and serves semantic retrieval over MCP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/spetr/mcp-chunkgraph/builtin"
	"github.com/spetr/mcp-chunkgraph/internal/config"
	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/internal/index"
	"github.com/spetr/mcp-chunkgraph/internal/mcp"
	"github.com/spetr/mcp-chunkgraph/internal/retrieval"
	"github.com/spetr/mcp-chunkgraph/pkg/plugin/host"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

var (
	version    = "0.1.0"
	projectDir string
	logLevel   string
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-chunkgraph",
	Short: "Chunk graph indexer and MCP retrieval server",
	Long: `mcp-chunkgraph splits a repository into chunks aligned with its top-level
definitions, links chunks that reference each other, and answers semantic
queries with the best matching chunks plus their reference neighborhood.

It supports:
- Embedding providers: Ollama, OpenAI, hash (offline) and go-plugin binaries
- SQLite (sqlite-vec) and in-memory stores
- TreeSitter analysis for Go, Python, JavaScript, TypeScript, Java, Rust, C, C++, C#, PHP and Ruby`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-chunkgraph %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the repository",
	Long:  `Rebuild the index from scratch: hierarchy, chunks, reference graph and embeddings.`,
	Run: func(cmd *cobra.Command, args []string) {
		ignore, _ := cmd.Flags().GetStringSlice("ignore")
		noEmbed, _ := cmd.Flags().GetBool("no-embed")
		runIndex(ignore, noEmbed)
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed chunks that have no embedding yet",
	Run: func(cmd *cobra.Command, args []string) {
		runEmbed()
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the chunks closest to a query",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		scope, _ := cmd.Flags().GetString("scope")
		showText, _ := cmd.Flags().GetBool("text")
		runSearch(args[0], scope, limit, showText)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Search and expand hits along the reference graph",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		scope, _ := cmd.Flags().GetString("scope")
		asJSON, _ := cmd.Flags().GetBool("json")
		limits := retrieval.Limits{}
		limits.MaxChunks, _ = cmd.Flags().GetInt("max-chunks")
		limits.MaxReferenced, _ = cmd.Flags().GetInt("max-referenced")
		limits.MaxReferencing, _ = cmd.Flags().GetInt("max-referencing")
		runContext(args[0], scope, limit, limits, asJSON)
	},
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <file>",
	Short: "List the chunks of a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showText, _ := cmd.Flags().GetBool("text")
		withContext, _ := cmd.Flags().GetBool("context")
		runChunks(args[0], showText, withContext)
	},
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <chunk-id> <documentation>",
	Short: "Attach documentation to a chunk",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runAnnotate(args[0], args[1])
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Show the indexed directory tree",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		depth, _ := cmd.Flags().GetInt("depth")
		asJSON, _ := cmd.Flags().GetBool("json")
		runTree(path, depth, asJSON)
	},
}

var filesCmd = &cobra.Command{
	Use:   "files [prefix]",
	Short: "List indexed files",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		runFiles(prefix)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		runStatus(verbose)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		runServe(stdio)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for file changes and re-index automatically",
	Run: func(cmd *cobra.Command, args []string) {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		runWatch(debounce)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		runConfigInit(force)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available plugins",
	Run: func(cmd *cobra.Command, args []string) {
		runPluginList()
	},
}

func init() {
	index.ToolVersion = version

	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "repository root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	indexCmd.Flags().StringSlice("ignore", nil, "extra ignore patterns")
	indexCmd.Flags().Bool("no-embed", false, "skip the embedding phase")

	searchCmd.Flags().IntP("limit", "l", 0, "maximum results (default: retrieval.max_results)")
	searchCmd.Flags().StringP("scope", "s", "", "directory to search within")
	searchCmd.Flags().BoolP("text", "t", false, "print chunk text")

	contextCmd.Flags().IntP("limit", "l", 0, "maximum search hits (default: retrieval.max_results)")
	contextCmd.Flags().StringP("scope", "s", "", "directory to search within")
	contextCmd.Flags().Int("max-chunks", 0, "maximum chunks in the result (default: retrieval.max_chunks)")
	contextCmd.Flags().Int("max-referenced", -1, "referenced neighbors per hit (default: retrieval.max_referenced)")
	contextCmd.Flags().Int("max-referencing", -1, "referencing neighbors per hit (default: retrieval.max_referencing)")
	contextCmd.Flags().Bool("json", false, "output as JSON")

	chunksCmd.Flags().BoolP("text", "t", false, "print chunk text")
	chunksCmd.Flags().Bool("context", false, "attach referenced and referencing chunks")

	treeCmd.Flags().IntP("depth", "d", 0, "maximum depth (0 for unlimited)")
	treeCmd.Flags().Bool("json", false, "output as JSON")

	statusCmd.Flags().BoolP("verbose", "v", false, "show metadata and configuration")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")

	watchCmd.Flags().Duration("debounce", 0, "quiet period before re-indexing (default: index.watch_debounce)")

	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing config")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	pluginCmd.AddCommand(pluginListCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pluginCmd)
}

// setupLogging installs the default slog handler. Flags win over the
// logging section of the config file.
func setupLogging(cmd *cobra.Command) {
	level, format := logLevel, logFormat
	if cfg, _, err := config.Load(absProjectDir()); err == nil {
		if !cmd.Flags().Changed("log-level") && cfg.Logging.Level != "" {
			level = cfg.Logging.Level
		}
		if !cmd.Flags().Changed("log-format") && cfg.Logging.Format != "" {
			format = cfg.Logging.Format
		}
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slogLevel}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func absProjectDir() string {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return projectDir
	}
	return abs
}

// project bundles the providers every command works with.
type project struct {
	dir       string
	cfg       *config.Config
	store     provider.VectorStore
	embedding provider.EmbeddingProvider
	analyzer  provider.SyntaxAnalyzer
}

// openProject loads the config and creates the providers it names. The
// embedding provider is optional: commands that only read the index keep
// working when it cannot be created.
func openProject(needEmbedding bool) *project {
	dir := absProjectDir()

	cfg, warnings, err := config.Load(dir)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Debug(w)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid config", "error", e)
		}
		os.Exit(1)
	}

	store, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider)
	if err != nil {
		slog.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	if err := store.Init(config.IndexDBPath(dir)); err != nil {
		slog.Error("failed to init store", "error", err)
		os.Exit(1)
	}
	if store.Name() == "memory" {
		slog.Warn("memory store does not persist between runs")
	}

	p := &project{dir: dir, cfg: cfg, store: store}

	p.embedding, err = provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, cfg.EmbeddingProviderConfig(dir))
	if err != nil {
		p.embedding = nil
		if needEmbedding {
			store.Close()
			slog.Error("failed to create embedding provider", "error", err)
			os.Exit(1)
		}
		slog.Warn("embedding provider unavailable", "provider", cfg.Embedding.Provider, "error", err)
	}

	p.analyzer, err = provider.DefaultRegistry.CreateSyntax("treesitter")
	if err != nil {
		slog.Warn("syntax analyzer unavailable, using line partitioning", "error", err)
	}
	return p
}

func (p *project) engine() *retrieval.Engine {
	return retrieval.New(retrieval.Config{
		Store:     p.store,
		Embedding: p.embedding,
		RootPath:  p.dir,
		Overlap:   p.cfg.Chunking.Overlap,
	})
}

func (p *project) indexer(ignore []string) *index.Indexer {
	indexer, err := index.New(index.Config{
		ProjectDir: p.dir,
		Config:     p.cfg,
		Store:      p.store,
		Embedding:  p.embedding,
		Analyzer:   p.analyzer,
		Ignore:     ignore,
		OnProgress: func(prog types.IndexProgress) {
			switch prog.Phase {
			case "walking":
				fmt.Fprintf(os.Stderr, "\r[%s] Files: %d, Chunks: %d", prog.Phase, prog.ProcessedFiles, prog.TotalChunks)
			case "embedding":
				fmt.Fprintf(os.Stderr, "\r[%s] Chunks: %d/%d", prog.Phase, prog.ProcessedChunks, prog.TotalChunks)
			}
		},
	})
	if err != nil {
		slog.Error("failed to create indexer", "error", err)
		os.Exit(1)
	}
	return indexer
}

func (p *project) warmup(ctx context.Context) {
	if p.embedding == nil {
		return
	}
	if err := p.embedding.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}
}

func (p *project) Close() {
	if err := p.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
	if p.embedding != nil {
		if err := p.embedding.Close(); err != nil {
			slog.Warn("failed to close embedding", "error", err)
		}
	}
	if p.analyzer != nil {
		if err := p.analyzer.Close(); err != nil {
			slog.Warn("failed to close analyzer", "error", err)
		}
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received interrupt signal, stopping...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runIndex(ignore []string, noEmbed bool) {
	p := openProject(false)
	defer p.Close()
	if noEmbed {
		p.cfg.Index.Embed = false
	}

	ctx, cancel := signalContext()
	defer cancel()
	p.warmup(ctx)

	slog.Info("indexing", "path", p.dir,
		"embedding", p.cfg.Embedding.Provider+"/"+p.cfg.Embedding.Model,
		"store", p.store.Name(),
	)

	result, err := p.indexer(ignore).Index(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("indexing stopped by user")
			return
		}
		slog.Error("indexing failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("Indexing complete!")
	fmt.Printf("Directories: %d, Files: %d, Skipped: %d\n", result.Directories, result.Files, result.Skipped)
	fmt.Printf("Chunks: %d (%d files line-partitioned), Embedded: %d\n", result.Chunks, result.Fallback, result.Embedded)
	fmt.Printf("References: %d resolved, %d unresolved, %d edges\n",
		result.Graph.Resolved, result.Graph.Unresolved, result.Graph.Edges)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	if pending := result.Chunks - result.Embedded; pending > 0 && p.cfg.Index.Embed {
		fmt.Printf("%d chunks have no embedding, run 'mcp-chunkgraph embed' to retry\n", pending)
	}
}

func runEmbed() {
	p := openProject(true)
	defer p.Close()

	ctx, cancel := signalContext()
	defer cancel()
	p.warmup(ctx)

	n, err := p.indexer(nil).EmbedPending(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		slog.Error("embedding failed", "embedded", n, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Embedded %d chunks\n", n)
}

func runSearch(query, scope string, limit int, showText bool) {
	p := openProject(true)
	defer p.Close()

	if limit <= 0 {
		limit = p.cfg.Retrieval.MaxResults
	}
	engine := p.engine()
	hits, err := engine.Search(context.Background(), query, scope, limit)
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	for i, h := range hits {
		fmt.Printf("%d. %s:%d-%d (chunk %d, distance %.4f)\n",
			i+1, h.Chunk.FilePath, h.Chunk.StartLine+1, h.Chunk.EndLine+1, h.Chunk.ID, h.Distance)
		if showText {
			text, err := engine.ChunkText(h.Chunk)
			if err != nil {
				slog.Warn("failed to read chunk text", "chunk", h.Chunk.ID, "error", err)
				continue
			}
			fmt.Println(indent(text))
		}
	}
}

func runContext(query, scope string, limit int, limits retrieval.Limits, asJSON bool) {
	p := openProject(true)
	defer p.Close()

	if limit <= 0 {
		limit = p.cfg.Retrieval.MaxResults
	}
	if limits.MaxChunks <= 0 {
		limits.MaxChunks = p.cfg.Retrieval.MaxChunks
	}
	if limits.MaxReferenced < 0 {
		limits.MaxReferenced = p.cfg.Retrieval.MaxReferenced
	}
	if limits.MaxReferencing < 0 {
		limits.MaxReferencing = p.cfg.Retrieval.MaxReferencing
	}

	result, err := p.engine().Context(context.Background(), query, scope, limit, limits)
	if err != nil {
		slog.Error("context search failed", "error", err)
		os.Exit(1)
	}

	if asJSON {
		printJSON(result)
		return
	}
	fmt.Print(retrieval.Format(result))
}

func runChunks(path string, showText, withContext bool) {
	p := openProject(false)
	defer p.Close()

	engine := p.engine()
	if withContext {
		result, err := engine.FileContext(context.Background(), path, retrieval.Limits{
			MaxReferenced:  p.cfg.Retrieval.MaxReferenced,
			MaxReferencing: p.cfg.Retrieval.MaxReferencing,
		})
		if err != nil {
			slog.Error("failed to get chunks", "path", path, "error", err)
			os.Exit(1)
		}
		fmt.Print(retrieval.Format(result))
		return
	}

	chunks, err := engine.FileChunks(context.Background(), path)
	if err != nil {
		slog.Error("failed to get chunks", "path", path, "error", err)
		os.Exit(1)
	}

	if !showText {
		fmt.Print(retrieval.FormatChunks(chunks))
		return
	}
	for _, c := range chunks {
		fmt.Printf("-> Chunk %d, lines %d-%d:\n", c.ID, c.StartLine+1, c.EndLine+1)
		text, err := engine.ChunkText(c)
		if err != nil {
			slog.Warn("failed to read chunk text", "chunk", c.ID, "error", err)
			continue
		}
		fmt.Println(indent(text))
	}
}

func runAnnotate(idArg, doc string) {
	var id int64
	if _, err := fmt.Sscan(idArg, &id); err != nil || id <= 0 {
		slog.Error("invalid chunk id", "id", idArg)
		os.Exit(1)
	}

	p := openProject(false)
	defer p.Close()

	if err := p.store.SetDocumentation(context.Background(), id, doc); err != nil {
		slog.Error("failed to annotate chunk", "id", id, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Annotated chunk %d\n", id)
}

func runTree(path string, depth int, asJSON bool) {
	p := openProject(false)
	defer p.Close()

	root, err := p.engine().Tree(context.Background(), path, depth)
	if err != nil {
		slog.Error("failed to build tree", "path", path, "error", err)
		os.Exit(1)
	}

	if asJSON {
		printJSON(root)
		return
	}
	fmt.Print(hierarchy.FormatText(root))
}

func runFiles(prefix string) {
	p := openProject(false)
	defer p.Close()

	files, err := p.engine().Files(context.Background())
	if err != nil {
		slog.Error("failed to list files", "error", err)
		os.Exit(1)
	}

	prefix = strings.ToLower(strings.TrimPrefix(prefix, "./"))
	for _, f := range files {
		if strings.HasPrefix(strings.ToLower(f), prefix) {
			fmt.Println(f)
		}
	}
}

func runStatus(verbose bool) {
	p := openProject(false)
	defer p.Close()

	ctx := context.Background()
	stats, err := p.store.GetStats(ctx)
	if err != nil {
		slog.Error("failed to get stats", "error", err)
		os.Exit(1)
	}

	meta, err := p.store.GetMetadata(ctx)
	if err != nil {
		slog.Warn("failed to read index metadata", "error", err)
	}
	if meta == nil && stats.Files == 0 {
		fmt.Println("No index found. Run 'mcp-chunkgraph index' to create one.")
		return
	}

	fmt.Println("=== Index Status ===")
	fmt.Printf("Directories:   %d\n", stats.Directories)
	fmt.Printf("Files:         %d\n", stats.Files)
	fmt.Printf("Chunks:        %d\n", stats.TotalChunks)
	fmt.Printf("Embedded:      %d\n", stats.EmbeddedChunks)
	fmt.Printf("References:    %d\n", stats.TotalReferences)
	if stats.DBSizeBytes > 0 {
		fmt.Printf("Database size: %s\n", formatBytes(stats.DBSizeBytes))
	}
	if meta != nil {
		fmt.Printf("Last indexed:  %s\n", meta.IndexedAt.Format("2006-01-02 15:04:05"))
		if meta.ConfigHash != p.cfg.Hash() {
			fmt.Println("Config changed since last index, run 'mcp-chunkgraph index' to rebuild.")
		}
	}

	if verbose && meta != nil {
		fmt.Println("\n=== Index Metadata ===")
		fmt.Printf("Session:    %s\n", meta.SessionID)
		fmt.Printf("Root:       %s\n", meta.RootPath)
		fmt.Printf("Embedding:  %s (%d dimensions)\n", meta.EmbeddingProvider, meta.EmbeddingDimensions)
		fmt.Printf("Schema:     %d\n", meta.SchemaVersion)
		fmt.Printf("Tool:       %s\n", meta.ToolVersion)
	}

	if verbose {
		fmt.Println("\n=== Current Config ===")
		fmt.Printf("Embedding:  %s/%s\n", p.cfg.Embedding.Provider, p.cfg.Embedding.Model)
		fmt.Printf("Chunking:   max_lines=%d min_proportion=%.2f overlap=%d\n",
			p.cfg.Chunking.MaxLines, p.cfg.Chunking.MinProportion, p.cfg.Chunking.Overlap)
		fmt.Printf("Retrieval:  max_chunks=%d max_referenced=%d max_referencing=%d\n",
			p.cfg.Retrieval.MaxChunks, p.cfg.Retrieval.MaxReferenced, p.cfg.Retrieval.MaxReferencing)
		fmt.Printf("Store:      %s\n", p.store.Name())
	}
}

func runServe(stdio bool) {
	if !stdio {
		fmt.Println("HTTP server not implemented yet. Use --stdio for MCP.")
		os.Exit(1)
	}

	p := openProject(false)
	defer p.Close()

	ctx, cancel := signalContext()
	defer cancel()
	p.warmup(ctx)

	server, err := mcp.New(mcp.Config{
		ProjectDir: p.dir,
		Config:     p.cfg,
		Store:      p.store,
		Embedding:  p.embedding,
		Analyzer:   p.analyzer,
		Version:    version,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio()
	}()

	slog.Info("MCP server running", "root", p.dir, "store", p.store.Name())
	select {
	case <-ctx.Done():
		slog.Info("server stopped")
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
			p.Close()
			os.Exit(1)
		}
	}
}

func runWatch(debounce time.Duration) {
	p := openProject(false)
	defer p.Close()

	if debounce <= 0 {
		debounce = p.cfg.Index.WatchDebounce
	}

	ctx, cancel := signalContext()
	defer cancel()
	p.warmup(ctx)

	indexer := p.indexer(nil)
	if _, err := indexer.Index(ctx); err != nil {
		fmt.Fprintln(os.Stderr)
		if ctx.Err() != nil {
			return
		}
		slog.Error("initial index failed", "error", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr)

	watcher, err := index.NewWatcher(index.WatcherConfig{
		Indexer:  indexer,
		Debounce: debounce,
		OnIndex: func(result *index.Result, err error) {
			fmt.Fprintln(os.Stderr)
			if err == nil {
				fmt.Printf("[watch] Re-indexed %d files, %d chunks in %s\n",
					result.Files, result.Chunks, result.Duration.Round(time.Millisecond))
			}
		},
	})
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	fmt.Printf("Watching %s for changes (press Ctrl+C to stop)\n", p.dir)

	if err := watcher.Watch(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("watcher stopped")
			return
		}
		slog.Error("watcher error", "error", err)
		os.Exit(1)
	}
}

func runConfigInit(force bool) {
	dir := absProjectDir()
	if _, err := os.Stat(config.ConfigPath(dir)); err == nil && !force {
		fmt.Printf("Config already exists at %s (use --force to overwrite)\n", config.ConfigPath(dir))
		os.Exit(1)
	}

	if err := config.Save(dir, config.DefaultConfig()); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.ConfigPath(dir))
}

func runConfigValidate() {
	dir := absProjectDir()

	cfg, warnings, err := config.Load(dir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		os.Exit(1)
	}

	// Test the embedding provider
	embedding, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, cfg.EmbeddingProviderConfig(dir))
	if err != nil {
		fmt.Printf("[fail] embedding: %v\n", err)
		os.Exit(1)
	}
	defer embedding.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := embedding.Warmup(ctx); err != nil {
		fmt.Printf("[fail] embedding: %s: %v\n", embedding.Name(), err)
		os.Exit(1)
	}
	fmt.Printf("[ok] embedding: %s (%d dimensions)\n", embedding.Name(), embedding.Dimensions())

	fmt.Println("\nConfiguration is valid")
}

func runPluginList() {
	pluginsDir := config.PluginsDir(absProjectDir())
	manager := host.NewManager(pluginsDir)

	available, err := manager.DiscoverPlugins()
	if err != nil {
		slog.Error("failed to discover plugins", "error", err)
		os.Exit(1)
	}

	fmt.Println("=== Available Plugins ===")
	fmt.Printf("Plugins directory: %s\n\n", pluginsDir)

	if len(available) == 0 {
		fmt.Println("No plugins found.")
		fmt.Println("\nTo install a plugin:")
		fmt.Println("  1. Build or download a plugin binary")
		fmt.Printf("  2. Copy it to %s/\n", filepath.Join(config.DirName, "plugins"))
		fmt.Println("  3. Make it executable (chmod +x)")
		return
	}

	for _, name := range available {
		fmt.Printf("  - %s\n", name)
	}

	fmt.Println("\nTo use a plugin, set in config.yaml:")
	fmt.Println("  embedding:")
	fmt.Println("    provider: plugin")
	fmt.Println("    plugin: <name>")
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func indent(text string) string {
	return "\t" + strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n\t")
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
