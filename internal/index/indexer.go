// Package index walks a repository into the hierarchy index, chunks every
// file along its definitions, links chunks into the reference graph and
// embeds chunk text.
package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spetr/mcp-chunkgraph/builtin/chunking/simple"
	"github.com/spetr/mcp-chunkgraph/internal/chunking"
	"github.com/spetr/mcp-chunkgraph/internal/config"
	"github.com/spetr/mcp-chunkgraph/internal/graph"
	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/internal/retrieval"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// SchemaVersion is recorded in the index metadata.
const SchemaVersion = 1

// ToolVersion is recorded in the index metadata. Set by the CLI.
var ToolVersion = "dev"

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

// Indexer builds the index of one repository.
type Indexer struct {
	config     *config.Config
	store      provider.VectorStore
	embedding  provider.EmbeddingProvider
	analyzer   provider.SyntaxAnalyzer
	hierarchy  *hierarchy.Index
	ignore     *Matcher
	projectDir string
	maxSize    int64

	runMu sync.Mutex // serializes Index and EmbedPending

	// Progress tracking
	progressMu sync.Mutex
	progress   types.IndexProgress
	onProgress func(types.IndexProgress)
}

// Config contains indexer configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Store      provider.VectorStore
	Embedding  provider.EmbeddingProvider // nil skips the embedding phase
	Analyzer   provider.SyntaxAnalyzer    // nil chunks every file by line partition
	Ignore     []string                   // extra ignore patterns on top of index.ignore
	OnProgress func(types.IndexProgress)
}

// Result summarizes one indexing run.
type Result struct {
	SessionID   string           `json:"session_id"`
	Directories int              `json:"directories"`
	Files       int              `json:"files"`
	Skipped     int              `json:"skipped"`
	Chunks      int              `json:"chunks"`
	Fallback    int              `json:"fallback_files"`
	Graph       types.GraphStats `json:"graph"`
	Embedded    int              `json:"embedded"`
	Duration    time.Duration    `json:"duration"`
}

// New creates a new indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("indexer needs a store: %w", types.ErrInvalidConfig)
	}
	if cfg.Config == nil {
		cfg.Config = config.DefaultConfig()
	}
	absDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	maxSize, err := config.ParseSize(cfg.Config.Index.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("index.max_file_size: %w", types.ErrInvalidConfig)
	}

	patterns := append([]string{config.DirName}, cfg.Config.Index.Ignore...)
	patterns = append(patterns, cfg.Ignore...)
	return &Indexer{
		config:     cfg.Config,
		store:      cfg.Store,
		embedding:  cfg.Embedding,
		analyzer:   cfg.Analyzer,
		hierarchy:  hierarchy.New(cfg.Store),
		ignore:     NewMatcher(patterns),
		projectDir: absDir,
		maxSize:    maxSize,
		onProgress: cfg.OnProgress,
	}, nil
}

// ProjectDir returns the absolute repository root.
func (idx *Indexer) ProjectDir() string {
	return idx.projectDir
}

// Index rebuilds the index from scratch: the store is cleared, the tree is
// walked depth-first in name order, pending references are resolved once
// every file is seen and the resulting edges are stored. Chunks are then
// embedded when index.embed is set and a provider is configured; embedding
// failures are logged and leave chunks pending.
func (idx *Indexer) Index(ctx context.Context) (*Result, error) {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()
	startTime := time.Now()

	if err := idx.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear index: %w", err)
	}

	w := &walk{
		session: graph.NewSession(),
		result:  &Result{},
	}
	w.result.SessionID = w.session.ID

	// Phase 1: walk and chunk
	idx.updateProgress("walking", 0, 0, 0, "")

	root, err := idx.hierarchy.AddEntry(ctx, filepath.Base(idx.projectDir), 0, true)
	if err != nil {
		return nil, fmt.Errorf("failed to register root: %w", err)
	}
	w.result.Directories++

	if err := idx.walkDir(ctx, w, idx.projectDir, root); err != nil {
		return nil, err
	}

	slog.Info("walk complete",
		"directories", w.result.Directories,
		"files", w.result.Files,
		"skipped", w.result.Skipped,
		"chunks", w.result.Chunks,
	)

	// Phase 2: resolve and link
	idx.updateProgress("resolving", w.result.Files, w.result.Chunks, 0, "")

	late := w.session.ResolvePending()
	edges := w.session.Materialize()
	if err := idx.store.AddReferences(ctx, edges); err != nil {
		return nil, fmt.Errorf("failed to store references: %w", err)
	}
	w.result.Graph = w.session.Stats()

	slog.Info("reference graph built",
		"names", w.result.Graph.Names,
		"resolved", w.result.Graph.Resolved,
		"resolved_late", late,
		"unresolved", w.result.Graph.Unresolved,
		"edges", w.result.Graph.Edges,
	)

	meta := &types.IndexMetadata{
		SchemaVersion: SchemaVersion,
		SessionID:     w.session.ID,
		RootPath:      idx.projectDir,
		IndexedAt:     time.Now(),
		ConfigHash:    idx.config.Hash(),
		ToolVersion:   ToolVersion,
	}
	if idx.embedding != nil {
		meta.EmbeddingProvider = idx.embedding.Name()
		meta.EmbeddingDimensions = idx.embedding.Dimensions()
	}
	if err := idx.store.SetMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to store metadata: %w", err)
	}

	// Phase 3: embed
	if idx.config.Index.Embed && idx.embedding != nil {
		n, err := idx.embedPending(ctx)
		w.result.Embedded = n
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("embedding incomplete, run embed to retry", "embedded", n, "error", err)
		}
	}

	w.result.Duration = time.Since(startTime)
	slog.Info("indexing complete",
		"files", w.result.Files,
		"chunks", w.result.Chunks,
		"edges", w.result.Graph.Edges,
		"embedded", w.result.Embedded,
		"duration", w.result.Duration.Round(time.Millisecond),
	)

	return w.result, nil
}

// walk carries the state of one run through the recursion.
type walk struct {
	session *graph.Session
	result  *Result
}

// walkDir registers the entries of dir below parent. A directory that
// cannot be read is logged and skipped.
func (idx *Indexer) walkDir(ctx context.Context, w *walk, dir string, parent *types.FsNode) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("failed to read directory, skipping", "path", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}

		rel := entry.Name()
		if parent.Path != "" {
			rel = parent.Path + "/" + entry.Name()
		}
		if idx.ignore.Match(rel) {
			slog.Debug("ignoring entry", "path", rel)
			continue
		}

		full := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			node, err := idx.hierarchy.AddEntry(ctx, entry.Name(), parent.ID, true)
			if err != nil {
				return err
			}
			w.result.Directories++
			if err := idx.walkDir(ctx, w, full, node); err != nil {
				return err
			}

		case entry.Type().IsRegular():
			content, ok := idx.readFile(full, rel)
			if !ok {
				w.result.Skipped++
				continue
			}
			node, err := idx.hierarchy.AddEntry(ctx, entry.Name(), parent.ID, false)
			if err != nil {
				return err
			}
			if err := idx.indexFile(ctx, w, node, content); err != nil {
				return err
			}

		default:
			// symlinks, sockets, devices
			w.result.Skipped++
		}
	}
	return nil
}

// readFile returns the content of a text file within the size limit.
func (idx *Indexer) readFile(full, rel string) ([]byte, bool) {
	info, err := os.Stat(full)
	if err != nil {
		slog.Warn("failed to stat file", "path", rel, "error", err)
		return nil, false
	}
	if info.Size() > idx.maxSize {
		slog.Debug("skipping large file", "path", rel, "size", info.Size(), "limit", idx.maxSize)
		return nil, false
	}

	content, err := os.ReadFile(full)
	if err != nil {
		slog.Warn("failed to read file", "path", rel, "error", err)
		return nil, false
	}
	if isBinary(content) {
		slog.Debug("skipping binary file", "path", rel)
		return nil, false
	}
	return content, true
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content[:min(len(content), binarySniffLen)], 0) >= 0
}

// indexFile chunks one file, stores the chunks and annotates them in the
// session. Fallback chunks carry no annotations.
func (idx *Indexer) indexFile(ctx context.Context, w *walk, node *types.FsNode, content []byte) error {
	w.result.Files++
	idx.updateProgress("walking", w.result.Files, w.result.Chunks, 0, node.Path)

	lineCount := simple.LineCount(content)
	if lineCount == 0 {
		return nil
	}

	language := simple.DetectLanguage(node.Path)
	defs, refs, ok := idx.analyze(ctx, node.Path, content, language)

	cfg := chunking.Config{
		MaxLines:      idx.config.Chunking.MaxLines,
		MinProportion: idx.config.Chunking.MinProportion,
	}
	var res chunking.Result
	if ok {
		res = chunking.Assign(lineCount, defs, cfg)
	} else {
		res = chunking.Fallback(lineCount, cfg)
	}
	if res.Fallback {
		w.result.Fallback++
	}

	chunks := make([]*types.Chunk, len(res.Ranges))
	for i, r := range res.Ranges {
		chunks[i] = &types.Chunk{
			FileID:    node.ID,
			FilePath:  node.Path,
			StartLine: r.Start,
			EndLine:   r.End,
			Language:  language,
			Fallback:  res.Fallback,
		}
	}
	if err := idx.store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks of %s: %w", node.Path, err)
	}
	w.result.Chunks += len(chunks)

	if !res.Fallback {
		for _, c := range chunks {
			w.session.Annotate(c.ID, c.StartLine, c.EndLine, defs, refs)
		}
	}
	return nil
}

// analyze runs the syntax analyzer. ok is false when the file must be
// chunked by line partition.
func (idx *Indexer) analyze(ctx context.Context, path string, content []byte, language string) ([]types.Definition, []types.Reference, bool) {
	if idx.analyzer == nil || language == "" || !idx.analyzer.SupportsLanguage(language) {
		return nil, nil, false
	}

	captures, err := idx.analyzer.Analyze(ctx, content, language)
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedLanguage) {
			slog.Debug("no grammar, using line chunks", "path", path, "language", language)
		} else {
			slog.Warn("parse failed, using line chunks", "path", path, "error", err)
		}
		return nil, nil, false
	}
	return chunking.Definitions(captures), chunking.References(captures), true
}

// EmbedPending embeds every chunk without a vector, in concurrent batches
// of the provider's batch size. It returns the number of chunks embedded.
// A failed batch stops the phase; its chunks stay pending.
func (idx *Indexer) EmbedPending(ctx context.Context) (int, error) {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()
	return idx.embedPending(ctx)
}

func (idx *Indexer) embedPending(ctx context.Context) (int, error) {
	if idx.embedding == nil {
		return 0, fmt.Errorf("no embedding provider configured: %w", types.ErrEmbeddingFailed)
	}

	batchSize := max(idx.embedding.MaxBatchSize(), 1)
	workers := max(idx.config.Index.EmbedWorkers, 1)
	text := retrieval.NewTextReader(idx.projectDir, 0)

	stats, err := idx.store.GetStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stats: %w", err)
	}
	total := stats.TotalChunks - stats.EmbeddedChunks
	idx.updateProgress("embedding", stats.Files, total, 0, "")

	var mu sync.Mutex
	done := 0
	for {
		pending, err := idx.store.PendingEmbeddings(ctx, batchSize*workers)
		if err != nil {
			return done, fmt.Errorf("failed to list pending chunks: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for start := 0; start < len(pending); start += batchSize {
			batch := pending[start:min(start+batchSize, len(pending))]
			g.Go(func() error {
				n, err := idx.embedBatch(gctx, text, batch)
				if err != nil {
					return err
				}
				mu.Lock()
				done += n
				processed := done
				mu.Unlock()
				idx.updateProgress("embedding", stats.Files, total, processed, batch[len(batch)-1].FilePath)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return done, err
		}
	}

	slog.Info("embedding complete", "chunks", done)
	return done, nil
}

func (idx *Indexer) embedBatch(ctx context.Context, text *retrieval.TextReader, batch []*types.Chunk) (int, error) {
	texts := make([]string, len(batch))
	ids := make([]int64, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
		t, err := text.Read(c)
		if err != nil || t == "" {
			if err != nil {
				slog.Warn("failed to read chunk text, embedding its path", "chunk", c.ID, "file", c.FilePath, "error", err)
			}
			t = c.FilePath
		}
		texts[i] = t
	}

	vectors, err := idx.embedding.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", types.ErrEmbeddingFailed, len(vectors), len(batch))
	}
	if err := idx.store.SetEmbeddings(ctx, ids, vectors); err != nil {
		return 0, fmt.Errorf("failed to store embeddings: %w", err)
	}
	return len(batch), nil
}

// Progress returns the current progress.
func (idx *Indexer) Progress() types.IndexProgress {
	idx.progressMu.Lock()
	defer idx.progressMu.Unlock()
	return idx.progress
}

// updateProgress updates and reports progress.
func (idx *Indexer) updateProgress(phase string, files, totalChunks, processedChunks int, currentFile string) {
	idx.progressMu.Lock()
	idx.progress = types.IndexProgress{
		Phase:           phase,
		ProcessedFiles:  files,
		TotalChunks:     totalChunks,
		ProcessedChunks: processedChunks,
		CurrentFile:     currentFile,
	}
	progress := idx.progress
	idx.progressMu.Unlock()

	if idx.onProgress != nil {
		idx.onProgress(progress)
	}
}
