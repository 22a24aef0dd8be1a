// Package pgvector stores the vector index in PostgreSQL using the
// pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"handbookrag/internal/domain"
	"handbookrag/internal/vectorstore"
)

const closeTimeout = 10 * time.Second

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,48}$`)

// Store writes chunks to <table> and the manifest to <table>_meta. Every
// Build inserts a new generation of rows and repoints the manifest at it,
// so an Index from an earlier Build keeps reading its own rows.
type Store struct {
	db    *pgxpool.Pool
	table string
}

var (
	_ vectorstore.Builder = (*Store)(nil)
	_ vectorstore.Opener  = (*Store)(nil)
)

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to postgres: %w", domain.ErrIndex, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", domain.ErrIndex, err)
	}
	return pool, nil
}

// NewStore uses table (default "handbook_chunks") in the given pool.
func NewStore(db *pgxpool.Pool, table string) (*Store, error) {
	if table == "" {
		table = "handbook_chunks"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidArgument, table)
	}
	return &Store{db: db, table: table}, nil
}

func (s *Store) chunksTable() string { return pgx.Identifier{s.table}.Sanitize() }
func (s *Store) metaTable() string   { return pgx.Identifier{s.table + "_meta"}.Sanitize() }

func (s *Store) schema() []string {
	// The embedding column is untyped so generations of different
	// dimensions can coexist; queries never mix generations.
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			generation text NOT NULL,
			seq integer NOT NULL,
			clause_id text NOT NULL,
			source text NOT NULL DEFAULT '',
			position integer NOT NULL,
			chunk_text text NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (generation, seq)
		)`, s.chunksTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id integer PRIMARY KEY CHECK (id = 1),
			generation text NOT NULL,
			model text NOT NULL,
			dimension integer NOT NULL,
			version text NOT NULL,
			count integer NOT NULL,
			built_at timestamptz NOT NULL
		)`, s.metaTable()),
	}
}

// Build writes the chunks as a new generation in one transaction and
// makes it the current one. Rows of generations that are neither the
// new one nor the one it replaces are removed; the replaced generation
// is removed when its Index is closed.
func (s *Store) Build(ctx context.Context, m vectorstore.Manifest, chunks []domain.EmbeddedChunk) (vectorstore.Index, error) {
	if err := vectorstore.ValidateBuild(m, chunks); err != nil {
		return nil, err
	}
	m.Count = len(chunks)
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now().UTC()
	}
	generation := uuid.NewString()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", domain.ErrIndex, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, q := range s.schema() {
		if _, err := tx.Exec(ctx, q); err != nil {
			return nil, fmt.Errorf("%w: schema: %w", domain.ErrIndex, err)
		}
	}

	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE generation NOT IN (SELECT generation FROM %s)`,
		s.chunksTable(), s.metaTable()))
	insert := fmt.Sprintf(`INSERT INTO %s (generation, seq, clause_id, source, position, chunk_text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)`, s.chunksTable())
	for i, ch := range chunks {
		batch.Queue(insert, generation, i, ch.Metadata.ClauseID, ch.Metadata.Source, ch.Metadata.Position, ch.Text, formatVector(ch.Vector))
	}
	batch.Queue(fmt.Sprintf(`INSERT INTO %s (id, generation, model, dimension, version, count, built_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			generation = EXCLUDED.generation,
			model = EXCLUDED.model,
			dimension = EXCLUDED.dimension,
			version = EXCLUDED.version,
			count = EXCLUDED.count,
			built_at = EXCLUDED.built_at`, s.metaTable()),
		generation, m.Space.Model, m.Space.Dimension, m.Version, m.Count, m.BuiltAt)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("%w: inserting chunks: %w", domain.ErrIndex, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", domain.ErrIndex, err)
	}
	return &Index{s: s, generation: generation, manifest: m}, nil
}

// Open returns the current generation described by the stored manifest.
func (s *Store) Open(ctx context.Context) (vectorstore.Index, error) {
	var (
		m          vectorstore.Manifest
		generation string
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT generation, model, dimension, version, count, built_at FROM %s WHERE id = 1`, s.metaTable()),
	).Scan(&generation, &m.Space.Model, &m.Space.Dimension, &m.Version, &m.Count, &m.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vectorstore.ErrNoIndex
	}
	if err != nil {
		// undefined_table: nothing was built yet.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, vectorstore.ErrNoIndex
		}
		return nil, fmt.Errorf("%w: reading manifest: %w", domain.ErrIndex, err)
	}
	return &Index{s: s, generation: generation, manifest: m}, nil
}

// Index answers queries over one generation with the pgvector cosine
// distance operator.
type Index struct {
	s          *Store
	generation string
	manifest   vectorstore.Manifest
}

func (x *Index) Manifest() vectorstore.Manifest { return x.manifest }

func (x *Index) Len() int { return x.manifest.Count }

func (x *Index) Query(ctx context.Context, vector []float64, k int) (domain.RetrievalResult, error) {
	if err := vectorstore.ValidateQuery(x.manifest, x.manifest.Count, vector, k); err != nil {
		return nil, err
	}
	if x.manifest.Count == 0 {
		return domain.RetrievalResult{}, nil
	}
	q := fmt.Sprintf(`
		SELECT seq, clause_id, source, position, chunk_text, embedding <=> $1::vector AS distance
		FROM %s
		WHERE generation = $3
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $2`, x.s.chunksTable())
	rows, err := x.s.db.Query(ctx, q, formatVector(vector), k, x.generation)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrIndex, err)
	}
	defer rows.Close()

	cands := make([]vectorstore.Candidate, 0, k)
	for rows.Next() {
		var (
			c        vectorstore.Candidate
			distance float64
		)
		if err := rows.Scan(&c.Seq, &c.Chunk.Metadata.ClauseID, &c.Chunk.Metadata.Source,
			&c.Chunk.Metadata.Position, &c.Chunk.Text, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", domain.ErrIndex, err)
		}
		c.Score = 1 - distance
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrIndex, err)
	}
	return vectorstore.Rank(cands, k), nil
}

// Close removes the generation's rows once a later Build has replaced it.
// The current generation stays so the next run can reuse it.
func (x *Index) Close() error {
	if x.s.db == nil || x.generation == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := x.s.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE generation = $1 AND NOT EXISTS (SELECT 1 FROM %s WHERE generation = $1)`,
		x.s.chunksTable(), x.s.metaTable()), x.generation)
	if err != nil {
		return fmt.Errorf("%w: dropping generation %s: %w", domain.ErrIndex, x.generation, err)
	}
	return nil
}

// formatVector renders a vector literal accepted by the ::vector cast.
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
