package retrieval

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
	"github.com/spetr/mcp-chunkgraph/internal/hierarchy"
	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// fixture is a two-file repository:
//
//	config.go      chunks 0 [0,4] parse config, 1 [5,9] load defaults
//	server/http.go chunk  2 [0,4] serve http, 3 [5,9] parse request
type fixture struct {
	store  *memory.Store
	engine *Engine
	chunks []*types.Chunk
	root   string
}

var fixtureFiles = map[string][]string{
	"config.go": {
		"func ParseConfig(path string) {", "\tdata := read(path)", "\tparse(data)", "\treturn", "}",
		"func LoadDefaults() {", "\tdefaults := Config{}", "\tvalidate(defaults)", "\treturn", "}",
	},
	"server/http.go": {
		"func ServeHTTP(w Writer) {", "\thandler := route()", "\terr := handler.Serve()", "\tlog(err)", "}",
		"func ParseRequest(r Request) {", "\tbody := r.Body", "\theaders := r.Header", "\treturn", "}",
	},
}

func newFixture(t *testing.T, overlap int) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	for rel, lines := range fixtureFiles {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := memory.New()
	idx := hierarchy.New(store)
	root, err := idx.AddEntry(ctx, "repo", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := idx.AddEntry(ctx, "config.go", root.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := idx.AddEntry(ctx, "server", root.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	httpFile, err := idx.AddEntry(ctx, "http.go", srv.ID, false)
	if err != nil {
		t.Fatal(err)
	}

	chunks := []*types.Chunk{
		{FileID: cfg.ID, StartLine: 0, EndLine: 4, Language: "go"},
		{FileID: cfg.ID, StartLine: 5, EndLine: 9, Language: "go"},
		{FileID: httpFile.ID, StartLine: 0, EndLine: 4, Language: "go"},
		{FileID: httpFile.ID, StartLine: 5, EndLine: 9, Language: "go"},
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	embedder := hash.New(hash.Config{Dimensions: 128})
	engine := New(Config{Store: store, Embedding: embedder, RootPath: dir, Overlap: overlap})

	ids := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		if texts[i], err = engine.ChunkText(c); err != nil {
			t.Fatal(err)
		}
	}
	vectors, _ := embedder.Embed(ctx, texts)
	if err := store.SetEmbeddings(ctx, ids, vectors); err != nil {
		t.Fatal(err)
	}

	return &fixture{store: store, engine: engine, chunks: chunks, root: dir}
}

func (f *fixture) link(t *testing.T, pairs ...[2]int) {
	t.Helper()
	var refs []types.ChunkReference
	for _, p := range pairs {
		refs = append(refs, types.ChunkReference{ReferencingID: f.chunks[p[0]].ID, ReferencedID: f.chunks[p[1]].ID})
	}
	if err := f.store.AddReferences(context.Background(), refs); err != nil {
		t.Fatal(err)
	}
}

func TestSearchScope(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	hits, err := f.engine.Search(ctx, "parse config path", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 4 || hits[0].Chunk.ID != f.chunks[0].ID {
		t.Fatalf("Search(root) top = %+v", hits)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("hits not ordered by distance at %d", i)
		}
	}

	scoped, err := f.engine.Search(ctx, "parse config path", "./Server/", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Fatalf("Search(server) = %d hits, want 2", len(scoped))
	}
	for _, h := range scoped {
		if !strings.HasPrefix(h.Chunk.FilePath, "server/") {
			t.Errorf("hit outside scope: %s", h.Chunk.FilePath)
		}
	}

	missing, err := f.engine.Search(ctx, "parse", "no/such/dir", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Errorf("Search(missing scope) = %d hits, want root search limited to 2", len(missing))
	}
}

type failingEmbedder struct{ *hash.Provider }

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func TestSearchEmbeddingFailure(t *testing.T) {
	f := newFixture(t, 0)
	engine := New(Config{Store: f.store, Embedding: failingEmbedder{hash.New(hash.Config{})}, RootPath: f.root})

	if _, err := engine.Search(context.Background(), "q", "", 5); !errors.Is(err, types.ErrEmbeddingFailed) {
		t.Errorf("Search() = %v, want ErrEmbeddingFailed", err)
	}
	if _, err := New(Config{Store: f.store}).Search(context.Background(), "q", "", 5); !errors.Is(err, types.ErrEmbeddingFailed) {
		t.Errorf("Search(no embedder) = %v, want ErrEmbeddingFailed", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	engine := New(Config{Store: memory.New(), Embedding: hash.New(hash.Config{})})
	if _, err := engine.Search(context.Background(), "q", "", 5); !errors.Is(err, types.ErrIndexNotFound) {
		t.Errorf("Search(empty) = %v, want ErrIndexNotFound", err)
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name   string
		edges  [][2]int
		hits   []int
		limits Limits
		want   []int // included chunk indexes, in result order
	}{
		{
			name:   "one edge each way",
			edges:  [][2]int{{0, 1}, {0, 2}, {3, 0}},
			hits:   []int{0},
			limits: Limits{MaxChunks: 10, MaxReferenced: 1, MaxReferencing: 1},
			want:   []int{0, 1, 3},
		},
		{
			name:   "two referenced",
			edges:  [][2]int{{0, 1}, {0, 2}, {3, 0}},
			hits:   []int{0},
			limits: Limits{MaxChunks: 10, MaxReferenced: 2, MaxReferencing: 0},
			want:   []int{0, 1, 2},
		},
		{
			name:   "max chunks caps neighbors and hits",
			edges:  [][2]int{{0, 1}, {0, 2}, {3, 0}},
			hits:   []int{0, 3},
			limits: Limits{MaxChunks: 2, MaxReferenced: 2, MaxReferencing: 2},
			want:   []int{0, 1},
		},
		{
			name:   "hit already included as neighbor",
			edges:  [][2]int{{0, 1}},
			hits:   []int{1, 0, 2},
			limits: Limits{MaxChunks: 10, MaxReferenced: 1, MaxReferencing: 1},
			want:   []int{1, 0, 2},
		},
		{
			name:   "examined edge counts even when already included",
			edges:  [][2]int{{1, 0}, {1, 2}},
			hits:   []int{0, 1},
			limits: Limits{MaxChunks: 10, MaxReferenced: 1, MaxReferencing: 0},
			want:   []int{0, 1},
		},
		{
			name:   "defaults",
			edges:  [][2]int{{0, 1}, {2, 0}, {0, 3}},
			hits:   []int{0, 1, 2, 3},
			limits: DefaultLimits(),
			want:   []int{0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.link(t, tt.edges...)

			var hits []*types.Chunk
			for _, i := range tt.hits {
				hits = append(hits, f.chunks[i])
			}
			result, err := f.engine.Expand(context.Background(), hits, tt.limits)
			if err != nil {
				t.Fatal(err)
			}

			var want []int64
			for _, i := range tt.want {
				want = append(want, f.chunks[i].ID)
			}
			if diff := cmp.Diff(want, result.IDs()); diff != "" {
				t.Errorf("included ids mismatch (-want +got):\n%s", diff)
			}

			seen := make(map[int64]bool)
			for _, id := range result.IDs() {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		})
	}
}

func TestExpandAttachesText(t *testing.T) {
	f := newFixture(t, 0)
	f.link(t, [2]int{0, 3})

	result, err := f.engine.Expand(context.Background(), []*types.Chunk{f.chunks[0]}, Limits{MaxChunks: 5, MaxReferenced: 1})
	if err != nil {
		t.Fatal(err)
	}
	e := result.Entries[0]
	if e.Path != "config.go" || !strings.HasPrefix(e.Text, "func ParseConfig") {
		t.Errorf("entry = %s %q", e.Path, e.Text)
	}
	if len(e.Referenced) != 1 || e.Referenced[0].Path != "server/http.go" || !strings.HasPrefix(e.Referenced[0].Text, "func ParseRequest") {
		t.Errorf("referenced = %+v", e.Referenced)
	}
}

func TestContext(t *testing.T) {
	f := newFixture(t, 0)
	f.link(t, [2]int{3, 0})

	result, err := f.engine.Context(context.Background(), "parse request body headers", "server", 1, Limits{MaxChunks: 3, MaxReferenced: 1, MaxReferencing: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{f.chunks[3].ID, f.chunks[0].ID}
	if diff := cmp.Diff(want, result.IDs()); diff != "" {
		t.Errorf("Context() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkTextOverlap(t *testing.T) {
	tests := []struct {
		overlap    int
		start, end int
		first      string
		lines      int
	}{
		{0, 5, 9, "func LoadDefaults() {", 5},
		{1, 5, 6, "}", 4},
		{3, 0, 0, "func ParseConfig(path string) {", 4},
		{6, 8, 9, "\tparse(data)", 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("overlap=%d,%d-%d", tt.overlap, tt.start, tt.end), func(t *testing.T) {
			f := newFixture(t, tt.overlap)
			c := &types.Chunk{FilePath: "config.go", StartLine: tt.start, EndLine: tt.end}
			text, err := f.engine.ChunkText(c)
			if err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(text, "\n")
			if lines[0] != tt.first || len(lines) != tt.lines {
				t.Errorf("ChunkText() = %q", text)
			}
		})
	}
}

func TestChunkTextStale(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.engine.ChunkText(&types.Chunk{FilePath: "config.go", StartLine: 40, EndLine: 50}); err == nil {
		t.Error("ChunkText(past EOF) = nil error")
	}
	if _, err := f.engine.ChunkText(&types.Chunk{FilePath: "gone.go"}); err == nil {
		t.Error("ChunkText(missing file) = nil error")
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		start, end, overlap, n int
		wantS, wantE           int
	}{
		{10, 20, 0, 100, 10, 20},
		{10, 20, 5, 100, 5, 25},
		{2, 20, 5, 100, 0, 25},
		{90, 99, 5, 100, 85, 99},
		{0, 0, 10, 1, 0, 0},
	}
	for _, tt := range tests {
		s, e := Window(tt.start, tt.end, tt.overlap, tt.n)
		if s != tt.wantS || e != tt.wantE {
			t.Errorf("Window(%d, %d, %d, %d) = %d, %d; want %d, %d", tt.start, tt.end, tt.overlap, tt.n, s, e, tt.wantS, tt.wantE)
		}
	}
}

func TestFileChunks(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	chunks, err := f.engine.FileChunks(ctx, "SERVER/http.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0].StartLine != 0 || chunks[1].StartLine != 5 {
		t.Errorf("FileChunks() = %+v", chunks)
	}

	for _, p := range []string{"server", "missing.go"} {
		if _, err := f.engine.FileChunks(ctx, p); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("FileChunks(%q) = %v, want ErrNotFound", p, err)
		}
	}
}

func TestFileContext(t *testing.T) {
	f := newFixture(t, 0)
	f.link(t, [2]int{0, 2}, [2]int{3, 0})

	result, err := f.engine.FileContext(context.Background(), "config.go", Limits{MaxReferenced: 1, MaxReferencing: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("got %d entries, want one per file chunk", len(result.Entries))
	}

	first := result.Entries[0]
	if first.ID != f.chunks[0].ID || len(first.Referenced) != 1 || len(first.Referencing) != 1 {
		t.Fatalf("first entry = %+v", first)
	}
	if first.Referenced[0].ID != f.chunks[2].ID || first.Referenced[0].Path != "server/http.go" {
		t.Errorf("referenced = %+v, want ServeHTTP chunk", first.Referenced[0])
	}
	if first.Referencing[0].ID != f.chunks[3].ID {
		t.Errorf("referencing = %+v, want ParseRequest chunk", first.Referencing[0])
	}
	if second := result.Entries[1]; second.ID != f.chunks[1].ID || len(second.Referenced)+len(second.Referencing) != 0 {
		t.Errorf("second entry = %+v", second)
	}

	if _, err := f.engine.FileContext(context.Background(), "server", Limits{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("FileContext(dir) = %v, want ErrNotFound", err)
	}
}

func TestTreeAndFiles(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	files, err := f.engine.Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"config.go", "server/http.go"}, files); diff != "" {
		t.Errorf("Files() mismatch (-want +got):\n%s", diff)
	}

	tree, err := f.engine.Tree(ctx, "server", 0)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Name != "server" || len(tree.Children) != 1 || tree.Children[0].Name != "http.go" {
		t.Errorf("Tree(server) = %+v", tree)
	}

	if _, err := f.engine.Tree(ctx, "nope", 0); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Tree(nope) = %v, want ErrNotFound", err)
	}
}

func TestFormat(t *testing.T) {
	result := &types.ContextResult{Entries: []types.ContextEntry{{
		RelatedChunk: types.RelatedChunk{ID: 7, Path: "a.go", Text: "func A() {\n\tB()\n}"},
		Referenced:   []types.RelatedChunk{{ID: 9, Path: "b.go", Text: "func B() {}"}},
		Referencing:  []types.RelatedChunk{{ID: 3, Path: "main.go", Text: "A()\n"}},
	}}}

	want := "-> Chunk 7 in file a.go:\n" +
		"\tfunc A() {\n" +
		"\t\tB()\n" +
		"\t}\n" +
		"\nReferenced chunks:\n" +
		"\n\t+ Chunk 9 in file b.go:\n" +
		"\t\tfunc B() {}\n" +
		"\nReferenced by chunks:\n" +
		"\n\t+ Chunk 3 in file main.go:\n" +
		"\t\tA()\n" +
		"\n\n"
	if diff := cmp.Diff(want, Format(result)); diff != "" {
		t.Errorf("Format() mismatch (-want +got):\n%s", diff)
	}

	if got := Format(&types.ContextResult{}); got != "No chunks found.\n" {
		t.Errorf("Format(empty) = %q", got)
	}
}

func TestFormatChunks(t *testing.T) {
	got := FormatChunks([]*types.Chunk{
		{ID: 1, FilePath: "a.go", StartLine: 0, EndLine: 9},
		{ID: 2, FilePath: "a.go", StartLine: 10, EndLine: 12, Fallback: true},
	})
	want := "1\ta.go:1-10\n2\ta.go:11-13\t(fallback)\n"
	if got != want {
		t.Errorf("FormatChunks() = %q, want %q", got, want)
	}
}
