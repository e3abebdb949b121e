package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spetr/mcp-chunkgraph/builtin/embedding/hash"
	"github.com/spetr/mcp-chunkgraph/builtin/syntax/treesitter"
	"github.com/spetr/mcp-chunkgraph/builtin/vectorstore/memory"
	"github.com/spetr/mcp-chunkgraph/internal/config"
)

var repoFiles = map[string]string{
	"config/load.go": `package config

func Load(path string) map[string]string {
	return parse(read(path))
}
`,
	"config/parse.go": `package config

func parse(data string) map[string]string {
	return map[string]string{"raw": data}
}

func read(path string) string {
	return path
}
`,
	"server/http.go": `package server

func Serve(addr string) error {
	return listen(addr)
}

func listen(addr string) error {
	return nil
}
`,
	"docs/notes.txt": "deployment notes\nrun the server behind a proxy\n",
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range repoFiles {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "hash"
	s, err := New(Config{
		ProjectDir: dir,
		Config:     cfg,
		Store:      memory.New(),
		Embedding:  hash.New(hash.Config{Dimensions: 128}),
		Analyzer:   treesitter.New(),
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func call(t *testing.T, h handler, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error = %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text, res.IsError
}

func indexed(t *testing.T) *Server {
	t.Helper()
	s := newTestServer(t)
	out, isErr := call(t, s.handleIndexRepository, nil)
	if isErr {
		t.Fatalf("index_repository failed: %s", out)
	}
	return s
}

func TestIndexRepository(t *testing.T) {
	s := newTestServer(t)
	out, isErr := call(t, s.handleIndexRepository, map[string]any{"ignore": []any{"docs"}})
	if isErr {
		t.Fatalf("index_repository failed: %s", out)
	}

	var res struct {
		Files    int `json:"files"`
		Chunks   int `json:"chunks"`
		Embedded int `json:"embedded"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if res.Files != 3 {
		t.Errorf("files = %d, want 3 with docs ignored", res.Files)
	}
	if res.Chunks == 0 || res.Embedded != res.Chunks {
		t.Errorf("chunks = %d, embedded = %d", res.Chunks, res.Embedded)
	}
}

func TestSearchCode(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleSearchCode, map[string]any{"query": "listen addr", "scope": "server", "limit": float64(5)})
	if isErr {
		t.Fatalf("search_code failed: %s", out)
	}
	var hits []struct {
		File string `json:"file"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	for _, h := range hits {
		if !strings.HasPrefix(h.File, "server/") {
			t.Errorf("hit %s outside scope", h.File)
		}
		if h.Text == "" {
			t.Errorf("hit %s has no text", h.File)
		}
	}

	if _, isErr := call(t, s.handleSearchCode, map[string]any{}); !isErr {
		t.Error("missing query accepted")
	}
}

func TestSearchBeforeIndex(t *testing.T) {
	s := newTestServer(t)
	out, isErr := call(t, s.handleSearchCode, map[string]any{"query": "anything"})
	if !isErr || !strings.Contains(out, "index_repository") {
		t.Errorf("search_code on empty index = %q, %v", out, isErr)
	}
}

func TestGetContext(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleGetContext, map[string]any{"query": "load config file", "max_chunks": float64(2)})
	if isErr {
		t.Fatalf("get_context failed: %s", out)
	}
	if !strings.HasPrefix(out, "-> Chunk ") {
		t.Errorf("text output = %q", out)
	}

	out, isErr = call(t, s.handleGetContext, map[string]any{"query": "load config file", "max_chunks": float64(2), "format": "json"})
	if isErr {
		t.Fatalf("get_context json failed: %s", out)
	}
	var res struct {
		Entries []struct {
			ID          int64             `json:"id"`
			Referenced  []json.RawMessage `json:"referenced"`
			Referencing []json.RawMessage `json:"referencing"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	total := 0
	for _, e := range res.Entries {
		total += 1 + len(e.Referenced) + len(e.Referencing)
	}
	if total == 0 || total > 2 {
		t.Errorf("result holds %d chunks, want 1..2", total)
	}
}

func TestGetFileChunks(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleGetFileChunks, map[string]any{"path": "CONFIG/parse.go"})
	if isErr {
		t.Fatalf("get_file_chunks failed: %s", out)
	}
	var chunks []struct {
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal([]byte(out), &chunks); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if len(chunks) == 0 || chunks[0].StartLine != 1 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if last := chunks[len(chunks)-1]; last.EndLine != 9 {
		t.Errorf("last chunk ends at %d, want 9", last.EndLine)
	}
	if !strings.Contains(chunks[0].Text, "package config") {
		t.Errorf("first chunk text = %q", chunks[0].Text)
	}

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing path", map[string]any{}},
		{"unknown file", map[string]any{"path": "nope.go"}},
		{"directory", map[string]any{"path": "config"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out, isErr := call(t, s.handleGetFileChunks, tt.args); !isErr {
				t.Errorf("get_file_chunks(%v) = %q, want error", tt.args, out)
			}
		})
	}
}

func TestGetFileChunksWithContext(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleGetFileChunks, map[string]any{"path": "config/load.go", "with_context": true, "format": "json"})
	if isErr {
		t.Fatalf("get_file_chunks failed: %s", out)
	}
	var res struct {
		Entries []struct {
			Path       string `json:"path"`
			Referenced []struct {
				Path string `json:"path"`
				Text string `json:"text"`
			} `json:"referenced"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Path != "config/load.go" {
		t.Fatalf("entries = %+v", res.Entries)
	}
	refs := res.Entries[0].Referenced
	if len(refs) != 1 || refs[0].Path != "config/parse.go" || !strings.Contains(refs[0].Text, "func parse") {
		t.Errorf("referenced = %+v, want the parse.go chunk", refs)
	}

	out, isErr = call(t, s.handleGetFileChunks, map[string]any{"path": "config/parse.go", "with_context": true})
	if isErr {
		t.Fatalf("get_file_chunks text failed: %s", out)
	}
	if !strings.HasPrefix(out, "-> Chunk ") || !strings.Contains(out, "config/load.go") {
		t.Errorf("text output misses the referencing chunk:\n%s", out)
	}
}

func TestGetRepositoryTree(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleGetRepositoryTree, nil)
	if isErr {
		t.Fatalf("get_repository_tree failed: %s", out)
	}
	for _, want := range []string{"config/ (2 files)", "server/ (1 files)", "load.go", "notes.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("tree missing %q:\n%s", want, out)
		}
	}

	out, isErr = call(t, s.handleGetRepositoryTree, map[string]any{"path": "config", "format": "json"})
	if isErr {
		t.Fatalf("get_repository_tree json failed: %s", out)
	}
	var res TreeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if res.TotalFiles != 2 || res.TotalDirs != 1 || res.Root.Path != "config" {
		t.Errorf("tree result = %+v", res)
	}

	if _, isErr := call(t, s.handleGetRepositoryTree, map[string]any{"path": "missing"}); !isErr {
		t.Error("missing path accepted")
	}
}

func TestListFiles(t *testing.T) {
	s := indexed(t)

	tests := []struct {
		prefix string
		want   int
	}{
		{"", 4},
		{"config/", 2},
		{"./server", 1},
		{"vendor", 0},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			out, isErr := call(t, s.handleListFiles, map[string]any{"prefix": tt.prefix})
			if isErr {
				t.Fatalf("list_files failed: %s", out)
			}
			var res struct {
				Count int      `json:"count"`
				Files []string `json:"files"`
			}
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatalf("bad json %q: %v", out, err)
			}
			if res.Count != tt.want || len(res.Files) != tt.want {
				t.Errorf("list_files(%q) = %+v, want %d files", tt.prefix, res, tt.want)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	s := indexed(t)

	out, isErr := call(t, s.handleGetStatus, nil)
	if isErr {
		t.Fatalf("get_status failed: %s", out)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if res["files"] != float64(4) || res["store"] != "memory" || res["pending_chunks"] != float64(0) {
		t.Errorf("status = %v", res)
	}
	if res["stale_config"] != false {
		t.Errorf("stale_config = %v, want false", res["stale_config"])
	}
	if res["session_id"] == "" {
		t.Error("session_id is empty")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
