// Package sqlitevec implements VectorStore using SQLite for the hierarchy,
// chunks and reference graph, and sqlite-vec for vector search.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
	"github.com/spetr/mcp-chunkgraph/pkg/types"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// SchemaVersion is incremented when schema changes require reindexing.
const SchemaVersion = 1

const (
	metaKeyIndex      = "index_metadata"
	metaKeyDimensions = "vector_dimensions"
)

// Store implements the VectorStore interface using sqlite-vec.
type Store struct {
	db   *sql.DB
	path string

	mu         sync.Mutex // guards dimensions
	dimensions int
}

// New creates a new sqlite-vec store.
func New() *Store {
	return &Store{}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlitevec"
}

// Init initializes the store at the given path.
func (s *Store) Init(path string) error {
	s.path = path

	// Register sqlite-vec extension before opening any database connection.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		return fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	if err := s.createSchema(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	dims, err := s.storedDimensions()
	if err != nil {
		return fmt.Errorf("failed to read vector dimensions: %w", err)
	}
	s.dimensions = dims
	return nil
}

// createSchema creates all necessary tables.
func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fs_nodes (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			parent_id INTEGER,
			is_directory INTEGER NOT NULL,
			path TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fs_nodes_path_nocase ON fs_nodes(path COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_fs_nodes_parent ON fs_nodes(parent_id)`,
		`CREATE TABLE IF NOT EXISTS ancestors (
			descendant_id INTEGER NOT NULL,
			ancestor_id INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			PRIMARY KEY (descendant_id, ancestor_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ancestors_ancestor ON ancestors(ancestor_id)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY,
			file_id INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			fallback INTEGER NOT NULL DEFAULT 0,
			documentation TEXT NOT NULL DEFAULT '',
			has_embedding INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id, start_line)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_pending ON chunks(has_embedding, id)`,
		`CREATE TABLE IF NOT EXISTS chunk_refs (
			referencing_id INTEGER NOT NULL,
			referenced_id INTEGER NOT NULL,
			UNIQUE (referencing_id, referenced_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_refs_referenced ON chunk_refs(referenced_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion))
	return err
}

func (s *Store) storedDimensions() (int, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", metaKeyDimensions).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// ensureVectorTable creates the vec0 table on first use. The dimension is
// fixed until the next Clear.
func (s *Store) ensureVectorTable(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimensions == dimensions {
		return nil
	}
	if s.dimensions != 0 {
		return fmt.Errorf("embedding has %d dimensions, index uses %d: %w",
			dimensions, s.dimensions, types.ErrStoreFailed)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
			chunk_id INTEGER PRIMARY KEY,
			embedding float[%d]
		)
	`, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`,
		metaKeyDimensions, strconv.Itoa(dimensions)); err != nil {
		return err
	}
	s.dimensions = dimensions
	return nil
}

// Close releases resources and closes connections.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Clear removes every node, chunk, edge and embedding.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM chunk_refs",
		"DELETE FROM chunks",
		"DELETE FROM ancestors",
		"DELETE FROM fs_nodes",
		"DELETE FROM metadata WHERE key IN ('" + metaKeyIndex + "', '" + metaKeyDimensions + "')",
		"DROP TABLE IF EXISTS chunk_embeddings",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dimensions = 0
	return nil
}

// InsertNode stores node together with its closure rows.
func (s *Store) InsertNode(ctx context.Context, node *types.FsNode, lineage []types.AncestorEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var parent any
	if node.ParentID != 0 {
		parent = node.ParentID
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO fs_nodes (name, parent_id, is_directory, path) VALUES (?, ?, ?, ?)`,
		node.Name, parent, node.IsDirectory, node.Path)
	if err != nil {
		return fmt.Errorf("failed to store node %q: %w", node.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ancestors (descendant_id, ancestor_id, depth) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, id, id, 0); err != nil {
		return fmt.Errorf("failed to store self edge of %q: %w", node.Path, err)
	}
	for _, e := range lineage {
		if _, err := stmt.ExecContext(ctx, id, e.AncestorID, e.Depth); err != nil {
			return fmt.Errorf("failed to store ancestor edge of %q: %w", node.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	node.ID = id
	return nil
}

const nodeColumns = `id, name, COALESCE(parent_id, 0), is_directory, path`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*types.FsNode, error) {
	var n types.FsNode
	if err := row.Scan(&n.ID, &n.Name, &n.ParentID, &n.IsDirectory, &n.Path); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) queryNode(ctx context.Context, query string, args ...any) (*types.FsNode, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, id int64) (*types.FsNode, error) {
	return s.queryNode(ctx, `SELECT `+nodeColumns+` FROM fs_nodes WHERE id = ?`, id)
}

// RootNode returns the node without a parent.
func (s *Store) RootNode(ctx context.Context) (*types.FsNode, error) {
	return s.queryNode(ctx, `SELECT `+nodeColumns+` FROM fs_nodes WHERE parent_id IS NULL ORDER BY id LIMIT 1`)
}

// FindByPath matches path case-insensitively; the lowest id wins on collisions.
func (s *Store) FindByPath(ctx context.Context, path string) (*types.FsNode, error) {
	return s.queryNode(ctx,
		`SELECT `+nodeColumns+` FROM fs_nodes WHERE path = ? COLLATE NOCASE ORDER BY id LIMIT 1`, path)
}

// AncestorEdges returns the closure rows of id.
func (s *Store) AncestorEdges(ctx context.Context, id int64) ([]types.AncestorEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT descendant_id, ancestor_id, depth FROM ancestors WHERE descendant_id = ? ORDER BY depth`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []types.AncestorEdge
	for rows.Next() {
		var e types.AncestorEdge
		if err := rows.Scan(&e.DescendantID, &e.AncestorID, &e.Depth); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Descendants returns id and every node below it, ordered by path.
func (s *Store) Descendants(ctx context.Context, id int64) ([]*types.FsNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.name, COALESCE(n.parent_id, 0), n.is_directory, n.path
		FROM ancestors a
		JOIN fs_nodes n ON n.id = a.descendant_id
		WHERE a.ancestor_id = ?
		ORDER BY n.path, n.id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*types.FsNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// InsertChunks stores chunks in one transaction and assigns ids.
func (s *Store) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_id, start_line, end_line, language, fallback, documentation)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		res, err := stmt.ExecContext(ctx, c.FileID, c.StartLine, c.EndLine, c.Language, c.Fallback, c.Documentation)
		if err != nil {
			return fmt.Errorf("failed to store chunk %d-%d of file %d: %w", c.StartLine, c.EndLine, c.FileID, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	for i, c := range chunks {
		c.ID = ids[i]
	}
	return nil
}

const chunkSelect = `
	SELECT c.id, c.file_id, n.path, c.start_line, c.end_line, c.language,
		c.fallback, c.documentation, c.has_embedding
	FROM chunks c
	JOIN fs_nodes n ON n.id = c.file_id
`

func scanChunk(row scanner, extra ...any) (*types.Chunk, error) {
	var c types.Chunk
	dest := []any{&c.ID, &c.FileID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Language,
		&c.Fallback, &c.Documentation, &c.HasEmbedding}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id int64) (*types.Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, chunkSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ChunksByFile returns the chunks of one file ordered by start line.
func (s *Store) ChunksByFile(ctx context.Context, fileID int64) ([]*types.Chunk, error) {
	return s.queryChunks(ctx, chunkSelect+` WHERE c.file_id = ? ORDER BY c.start_line`, fileID)
}

// PendingEmbeddings returns chunks without a vector, lowest id first.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]*types.Chunk, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	return s.queryChunks(ctx, chunkSelect+` WHERE c.has_embedding = 0 ORDER BY c.id LIMIT ?`, limit)
}

// SetEmbeddings stores one vector per chunk id.
func (s *Store) SetEmbeddings(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids and %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	dims := len(vectors[0])
	if err := s.ensureVectorTable(ctx, dims); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	delStmt, err := tx.PrepareContext(ctx, `DELETE FROM chunk_embeddings WHERE chunk_id = ?`)
	if err != nil {
		return err
	}
	defer delStmt.Close()

	insStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer insStmt.Close()

	markStmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET has_embedding = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer markStmt.Close()

	for i, id := range ids {
		if len(vectors[i]) != dims {
			return fmt.Errorf("embedding for chunk %d has %d dimensions, want %d: %w",
				id, len(vectors[i]), dims, types.ErrStoreFailed)
		}
		res, err := markStmt.ExecContext(ctx, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("set embedding for chunk %d: %w", id, types.ErrNotFound)
		}
		if _, err := delStmt.ExecContext(ctx, id); err != nil {
			return err
		}
		if _, err := insStmt.ExecContext(ctx, id, floatsToBytes(vectors[i])); err != nil {
			return fmt.Errorf("failed to store embedding for chunk %d: %w", id, err)
		}
	}

	return tx.Commit()
}

// SetDocumentation attaches a documentation string to a chunk.
func (s *Store) SetDocumentation(ctx context.Context, id int64, doc string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET documentation = ? WHERE id = ?`, doc, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// AddReferences stores edges, ignoring duplicates.
func (s *Store) AddReferences(ctx context.Context, refs []types.ChunkReference) error {
	if len(refs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chunk_refs (referencing_id, referenced_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.ReferencingID, r.ReferencedID); err != nil {
			return fmt.Errorf("failed to store reference %d -> %d: %w", r.ReferencingID, r.ReferencedID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) queryIDs(ctx context.Context, query string, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

// Referenced returns the out-neighbors of id in insertion order.
func (s *Store) Referenced(ctx context.Context, id int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT referenced_id FROM chunk_refs WHERE referencing_id = ? ORDER BY rowid`, id)
}

// Referencing returns the in-neighbors of id in insertion order.
func (s *Store) Referencing(ctx context.Context, id int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT referencing_id FROM chunk_refs WHERE referenced_id = ? ORDER BY rowid`, id)
}

// SearchWithin ranks embedded chunks of files below scopeID by cosine distance.
func (s *Store) SearchWithin(ctx context.Context, vec []float32, scopeID int64, limit int) ([]*types.RankedChunk, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector is required for vector search")
	}

	s.mu.Lock()
	dims := s.dimensions
	s.mu.Unlock()
	if dims == 0 {
		// nothing embedded yet
		return nil, nil
	}
	if len(vec) != dims {
		return nil, fmt.Errorf("query has %d dimensions, index uses %d: %w", len(vec), dims, types.ErrSearchFailed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_id, n.path, c.start_line, c.end_line, c.language,
			c.fallback, c.documentation, c.has_embedding,
			vec_distance_cosine(ce.embedding, ?) AS distance
		FROM chunk_embeddings ce
		JOIN chunks c ON c.id = ce.chunk_id
		JOIN fs_nodes n ON n.id = c.file_id
		JOIN ancestors a ON a.descendant_id = c.file_id AND a.ancestor_id = ?
		ORDER BY distance ASC, c.id ASC
		LIMIT ?
	`, floatsToBytes(vec), scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []*types.RankedChunk
	for rows.Next() {
		var distance float64
		c, err := scanChunk(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, &types.RankedChunk{Chunk: c, Distance: distance})
	}
	return results, rows.Err()
}

// GetMetadata returns index metadata.
func (s *Store) GetMetadata(ctx context.Context) (*types.IndexMetadata, error) {
	row := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", metaKeyIndex)

	var jsonData string
	err := row.Scan(&jsonData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var meta types.IndexMetadata
	if err := json.Unmarshal([]byte(jsonData), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SetMetadata stores index metadata.
func (s *Store) SetMetadata(ctx context.Context, meta *types.IndexMetadata) error {
	jsonData, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, metaKeyIndex, string(jsonData))
	return err
}

// GetStats returns store statistics.
func (s *Store) GetStats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN is_directory THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_directory THEN 0 ELSE 1 END), 0)
		FROM fs_nodes
	`)
	if err := row.Scan(&stats.Directories, &stats.Files); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(has_embedding), 0) FROM chunks`)
	if err := row.Scan(&stats.TotalChunks, &stats.EmbeddedChunks); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_refs`)
	if err := row.Scan(&stats.TotalReferences); err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DBSizeBytes = info.Size()
	}
	return stats, nil
}

// floatsToBytes converts float32 slice to little-endian bytes for sqlite-vec.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

// Ensure Store implements VectorStore interface
var _ provider.VectorStore = (*Store)(nil)
