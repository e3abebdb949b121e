package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spetr/mcp-chunkgraph/pkg/types"
)

// TextReader reads chunk text from the working tree on demand.
type TextReader struct {
	root    string
	overlap int
}

// NewTextReader creates a reader for files below root. overlap widens
// every window by that many lines on each side, clamped to the file.
func NewTextReader(root string, overlap int) *TextReader {
	if overlap < 0 {
		overlap = 0
	}
	return &TextReader{root: root, overlap: overlap}
}

// Read returns the text of c.
func (r *TextReader) Read(c *types.Chunk) (string, error) {
	return r.readCached(c, nil)
}

func (r *TextReader) readCached(c *types.Chunk, cache *fileCache) (string, error) {
	var lines []string
	var err error
	if cache != nil {
		lines, err = cache.lines(r.path(c.FilePath))
	} else {
		lines, err = readLines(r.path(c.FilePath))
	}
	if err != nil {
		return "", err
	}

	start, end := Window(c.StartLine, c.EndLine, r.overlap, len(lines))
	if start > end {
		return "", fmt.Errorf("lines %d-%d of %s are past end of file, index is stale", c.StartLine, c.EndLine, c.FilePath)
	}
	return strings.Join(lines[start:end+1], "\n"), nil
}

func (r *TextReader) path(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Window widens [start, end] by overlap lines and clamps it to
// [0, lineCount-1]. start > end means the range lies outside the file.
func Window(start, end, overlap, lineCount int) (int, int) {
	return max(0, start-overlap), min(lineCount-1, end+overlap)
}

// readLines splits a file into lines without terminators.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}

// fileCache keeps file lines for the duration of one expansion.
type fileCache struct {
	files map[string][]string
}

func newFileCache() *fileCache {
	return &fileCache{files: make(map[string][]string)}
}

func (c *fileCache) lines(path string) ([]string, error) {
	if lines, ok := c.files[path]; ok {
		return lines, nil
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	c.files[path] = lines
	return lines, nil
}
