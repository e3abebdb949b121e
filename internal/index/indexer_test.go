package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spetr/mcp-chunkgraph/builtin/embedding/hash"
	"github.com/spetr/mcp-chunkgraph/builtin/vectorstore/memory"
	"github.com/spetr/mcp-chunkgraph/internal/config"
	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

const (
	fooSource = "package demo\n\nfunc Foo() {\n\tBar()\n}\n"
	barSource = "package demo\n\nfunc Bar() {}\n"
)

// stubAnalyzer returns canned captures keyed by file content.
type stubAnalyzer struct {
	captures map[string]types.Captures
}

func newStubAnalyzer() *stubAnalyzer {
	return &stubAnalyzer{captures: map[string]types.Captures{
		fooSource: {
			types.TagDefinitionFunction: {{StartLine: 2, EndLine: 4, Name: "Foo", Tag: types.TagDefinitionFunction}},
			types.TagReferenceCall:      {{StartLine: 3, EndLine: 3, Text: "Bar", Tag: types.TagReferenceCall}},
		},
		barSource: {
			types.TagDefinitionFunction: {{StartLine: 2, EndLine: 2, Name: "Bar", Tag: types.TagDefinitionFunction}},
		},
	}}
}

func (a *stubAnalyzer) Name() string                      { return "stub" }
func (a *stubAnalyzer) SupportsLanguage(lang string) bool { return lang == "go" }
func (a *stubAnalyzer) Close() error                      { return nil }

func (a *stubAnalyzer) Analyze(ctx context.Context, content []byte, language string) (types.Captures, error) {
	c, ok := a.captures[string(content)]
	if !ok {
		return nil, fmt.Errorf("no captures: %w", types.ErrParseError)
	}
	return c, nil
}

// failingEmbedder fails every call.
type failingEmbedder struct{}

func (failingEmbedder) Name() string                     { return "failing" }
func (failingEmbedder) Dimensions() int                  { return 8 }
func (failingEmbedder) MaxBatchSize() int                { return 2 }
func (failingEmbedder) Warmup(ctx context.Context) error { return nil }
func (failingEmbedder) Close() error                     { return nil }

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

// writeRepo creates:
//
//	a.go                 Foo, calls Bar
//	b.go                 Bar
//	bin.dat              binary, skipped
//	docs/notes.txt       250 lines, no grammar
//	empty.go             no lines
//	node_modules/lib.js  ignored
func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var notes strings.Builder
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&notes, "note %d\n", i)
	}

	files := map[string]string{
		"a.go":                fooSource,
		"b.go":                barSource,
		"bin.dat":             "\x00\x01\x02binary",
		"docs/notes.txt":      notes.String(),
		"empty.go":            "",
		"node_modules/lib.js": "function lib() {}\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestIndexer(t *testing.T, dir string, store *memory.Store, embedder provider.EmbeddingProvider) *Indexer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Index.EmbedWorkers = 2

	idx, err := New(Config{
		ProjectDir: dir,
		Config:     cfg,
		Store:      store,
		Embedding:  embedder,
		Analyzer:   newStubAnalyzer(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return idx
}

func chunksOf(t *testing.T, store *memory.Store, path string) []*types.Chunk {
	t.Helper()
	ctx := context.Background()
	node, err := hierarchy.New(store).ResolveByPath(ctx, path)
	if err != nil || node == nil {
		t.Fatalf("ResolveByPath(%q) = %v, %v", path, node, err)
	}
	chunks, err := store.ChunksByFile(ctx, node.ID)
	if err != nil {
		t.Fatal(err)
	}
	return chunks
}

func ranges(chunks []*types.Chunk) []types.LineRange {
	out := make([]types.LineRange, len(chunks))
	for i, c := range chunks {
		out[i] = types.LineRange{Start: c.StartLine, End: c.EndLine}
	}
	return out
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	dir := writeRepo(t)
	store := memory.New()
	idx := newTestIndexer(t, dir, store, hash.New(hash.Config{Dimensions: 64}))

	res, err := idx.Index(ctx)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	want := Result{
		SessionID:   res.SessionID,
		Directories: 2,
		Files:       4,
		Skipped:     1,
		Chunks:      5,
		Fallback:    1,
		Graph:       res.Graph,
		Embedded:    5,
		Duration:    res.Duration,
	}
	if diff := cmp.Diff(want, *res); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
	if res.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if res.Graph.Edges != 1 {
		t.Errorf("Graph.Edges = %d, want 1", res.Graph.Edges)
	}

	paths, err := hierarchy.New(store).Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, n := range paths {
		got = append(got, n.Path)
	}
	if diff := cmp.Diff([]string{"a.go", "b.go", "docs/notes.txt", "empty.go"}, got); diff != "" {
		t.Errorf("indexed files mismatch (-want +got):\n%s", diff)
	}

	notes := chunksOf(t, store, "docs/notes.txt")
	wantNotes := []types.LineRange{{Start: 0, End: 83}, {Start: 84, End: 166}, {Start: 167, End: 249}}
	if diff := cmp.Diff(wantNotes, ranges(notes)); diff != "" {
		t.Errorf("fallback ranges mismatch (-want +got):\n%s", diff)
	}
	for _, c := range notes {
		if !c.Fallback {
			t.Errorf("chunk %d of notes.txt is not marked fallback", c.ID)
		}
	}

	a := chunksOf(t, store, "a.go")
	b := chunksOf(t, store, "b.go")
	if diff := cmp.Diff([]types.LineRange{{Start: 0, End: 4}}, ranges(a)); diff != "" {
		t.Errorf("a.go ranges mismatch (-want +got):\n%s", diff)
	}
	if a[0].Language != "go" || a[0].Fallback {
		t.Errorf("a.go chunk = %+v", a[0])
	}

	// Foo calls Bar, which is defined in a file walked later.
	refd, err := store.Referenced(ctx, a[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{b[0].ID}, refd); diff != "" {
		t.Errorf("Referenced(a.go) mismatch (-want +got):\n%s", diff)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmbeddedChunks != 5 {
		t.Errorf("EmbeddedChunks = %d, want 5", stats.EmbeddedChunks)
	}

	meta, err := store.GetMetadata(ctx)
	if err != nil || meta == nil {
		t.Fatalf("GetMetadata() = %v, %v", meta, err)
	}
	if meta.SessionID != res.SessionID || meta.EmbeddingProvider != "hash" || meta.EmbeddingDimensions != 64 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestIndexIsRestartable(t *testing.T) {
	ctx := context.Background()
	dir := writeRepo(t)
	store := memory.New()
	idx := newTestIndexer(t, dir, store, nil)

	first, err := idx.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := idx.Index(ctx)
	if err != nil {
		t.Fatalf("second Index() error = %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Error("runs share a session id")
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalChunks != second.Chunks || stats.Files != 4 || stats.TotalReferences != 1 {
		t.Errorf("stats after rebuild = %+v", stats)
	}
	if stats.EmbeddedChunks != 0 {
		t.Errorf("EmbeddedChunks = %d without a provider", stats.EmbeddedChunks)
	}
}

func TestIndexEmbeddingFailureLeavesChunksPending(t *testing.T) {
	ctx := context.Background()
	dir := writeRepo(t)
	store := memory.New()

	res, err := newTestIndexer(t, dir, store, failingEmbedder{}).Index(ctx)
	if err != nil {
		t.Fatalf("Index() error = %v, want embedding failure to be logged only", err)
	}
	if res.Embedded != 0 {
		t.Errorf("Embedded = %d, want 0", res.Embedded)
	}

	pending, err := store.PendingEmbeddings(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}

	n, err := newTestIndexer(t, dir, store, failingEmbedder{}).EmbedPending(ctx)
	if !errors.Is(err, types.ErrEmbeddingFailed) {
		t.Errorf("EmbedPending() error = %v, want ErrEmbeddingFailed", err)
	}
	if n != 0 {
		t.Errorf("EmbedPending() = %d, want 0", n)
	}

	n, err = newTestIndexer(t, dir, store, hash.New(hash.Config{Dimensions: 32, BatchSize: 2})).EmbedPending(ctx)
	if err != nil {
		t.Fatalf("EmbedPending() error = %v", err)
	}
	if n != 5 {
		t.Errorf("EmbedPending() = %d, want 5", n)
	}
}

func TestEmbedPendingWithoutProvider(t *testing.T) {
	idx := newTestIndexer(t, t.TempDir(), memory.New(), nil)
	if _, err := idx.EmbedPending(context.Background()); !errors.Is(err, types.ErrEmbeddingFailed) {
		t.Errorf("EmbedPending() error = %v, want ErrEmbeddingFailed", err)
	}
}

func TestIndexCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := newTestIndexer(t, writeRepo(t), memory.New(), nil)
	if _, err := idx.Index(ctx); !errors.Is(err, types.ErrCancelled) {
		t.Errorf("Index() error = %v, want ErrCancelled", err)
	}
}

func TestIndexExtraIgnore(t *testing.T) {
	ctx := context.Background()
	dir := writeRepo(t)
	store := memory.New()

	idx, err := New(Config{
		ProjectDir: dir,
		Config:     config.DefaultConfig(),
		Store:      store,
		Analyzer:   newStubAnalyzer(),
		Ignore:     []string{"docs"},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := idx.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Directories != 1 || res.Files != 3 || res.Fallback != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestNewInvalidMaxFileSize(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Index.MaxFileSize = "huge"
	_, err := New(Config{ProjectDir: t.TempDir(), Config: cfg, Store: memory.New()})
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestIndexProgress(t *testing.T) {
	var phases []string
	cfg := config.DefaultConfig()
	idx, err := New(Config{
		ProjectDir: writeRepo(t),
		Config:     cfg,
		Store:      memory.New(),
		Embedding:  hash.New(hash.Config{Dimensions: 16}),
		Analyzer:   newStubAnalyzer(),
		OnProgress: func(p types.IndexProgress) {
			if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
				phases = append(phases, p.Phase)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	// One worker keeps the callback on a single goroutine at a time.
	cfg.Index.EmbedWorkers = 1
	if _, err := idx.Index(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"walking", "resolving", "embedding"}, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	if p := idx.Progress(); p.Phase != "embedding" || p.ProcessedChunks != 5 {
		t.Errorf("final progress = %+v", p)
	}
}
