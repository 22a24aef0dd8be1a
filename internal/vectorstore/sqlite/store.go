// Package sqlite persists a vector index in a SQLite file so it survives
// between CLI runs. Queries run in memory over the rows loaded at Build
// or Open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"handbookrag/internal/domain"
	"handbookrag/internal/vectorstore"
	"handbookrag/internal/vectorstore/memory"
	"handbookrag/internal/vectorstore/sqlite/migrations"
)

// Store owns the database file.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ vectorstore.Builder = (*Store)(nil)
	_ vectorstore.Opener  = (*Store)(nil)
)

// NewStore opens (or creates) the index database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite index path is empty", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Build replaces the stored index in one transaction and returns it.
func (s *Store) Build(ctx context.Context, m vectorstore.Manifest, chunks []domain.EmbeddedChunk) (vectorstore.Index, error) {
	if err := vectorstore.ValidateBuild(m, chunks); err != nil {
		return nil, err
	}
	m.Count = len(chunks)
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", domain.ErrIndex, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return nil, fmt.Errorf("%w: clearing chunks: %w", domain.ErrIndex, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_meta (id, model, dimension, version, count, built_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			version = excluded.version,
			count = excluded.count,
			built_at = excluded.built_at
	`, m.Space.Model, m.Space.Dimension, m.Version, m.Count, m.BuiltAt.Unix()); err != nil {
		return nil, fmt.Errorf("%w: writing manifest: %w", domain.ErrIndex, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (seq, clause_id, source, position, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing insert: %w", domain.ErrIndex, err)
	}
	defer stmt.Close()
	for i, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, i, ch.Metadata.ClauseID, ch.Metadata.Source,
			ch.Metadata.Position, ch.Text, float64SliceToBytes(ch.Vector)); err != nil {
			return nil, &domain.ChunkError{Index: i, ClauseID: ch.Metadata.ClauseID, Err: fmt.Errorf("%w: %w", domain.ErrIndex, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", domain.ErrIndex, err)
	}
	return memory.NewBuilder().Build(ctx, m, chunks)
}

// Open loads the last built index. It returns vectorstore.ErrNoIndex if
// Build has never completed on this file.
func (s *Store) Open(ctx context.Context) (vectorstore.Index, error) {
	var (
		m       vectorstore.Manifest
		builtAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, dimension, version, count, built_at FROM index_meta WHERE id = 1`,
	).Scan(&m.Space.Model, &m.Space.Dimension, &m.Version, &m.Count, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vectorstore.ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %w", domain.ErrIndex, err)
	}
	m.BuiltAt = time.Unix(builtAt, 0).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT clause_id, source, position, text, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading chunks: %w", domain.ErrIndex, err)
	}
	defer rows.Close()

	chunks := make([]domain.EmbeddedChunk, 0, m.Count)
	for rows.Next() {
		var (
			ch   domain.EmbeddedChunk
			blob []byte
		)
		if err := rows.Scan(&ch.Metadata.ClauseID, &ch.Metadata.Source, &ch.Metadata.Position, &ch.Text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %w", domain.ErrIndex, err)
		}
		ch.Vector = bytesToFloat64Slice(blob)
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading chunks: %w", domain.ErrIndex, err)
	}
	if len(chunks) != m.Count {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, found %d", domain.ErrIndex, m.Count, len(chunks))
	}
	return memory.NewBuilder().Build(ctx, m, chunks)
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// float64SliceToBytes converts a []float64 to a byte slice for storage.
func float64SliceToBytes(floats []float64) []byte {
	buf := make([]byte, len(floats)*8)
	for i, f := range floats {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// bytesToFloat64Slice converts a byte slice back to []float64.
func bytesToFloat64Slice(data []byte) []float64 {
	floats := make([]float64, len(data)/8)
	for i := range floats {
		floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return floats
}
