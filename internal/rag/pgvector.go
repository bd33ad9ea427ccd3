package rag

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgTablePrefix starts every tfguard table name.
const pgTablePrefix = "tfguard_"

// pgMaxIdentifier is PostgreSQL's NAMEDATALEN - 1.
const pgMaxIdentifier = 63

// PgVectorIndex implements VectorIndex on PostgreSQL with the pgvector extension,
// using one table per namespace.
type PgVectorIndex struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool // tables known to exist
}

// NewPgVectorIndex connects to PostgreSQL and enables the vector extension.
func NewPgVectorIndex(ctx context.Context, dsn string) (*PgVectorIndex, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pgvector: %w", err)
	}

	return NewPgVectorIndexWithDB(db), nil
}

// NewPgVectorIndexWithDB wraps an existing connection pool. The vector extension must already be enabled.
func NewPgVectorIndexWithDB(db *sql.DB) *PgVectorIndex {
	return &PgVectorIndex{db: db, tables: make(map[string]bool)}
}

// pgTable returns the unquoted table name for namespace.
func pgTable(namespace string) (string, error) {
	name := pgTablePrefix + encodeIdentifier(namespace)
	if len(name) > pgMaxIdentifier {
		return "", fmt.Errorf("%w: %q is too long for a PostgreSQL table name", ErrInvalidNamespace, namespace)
	}
	return name, nil
}

// quoteIdent quotes a table name produced by pgTable. Quoting keeps mixed-case namespaces distinct.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (p *PgVectorIndex) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, quoteIdent(table)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table: %w", err)
	}
	return exists, nil
}

func (p *PgVectorIndex) ensureTable(ctx context.Context, table string, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tables[table] {
		return nil
	}

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_offset INTEGER NOT NULL,
			overlap INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, quoteIdent(table), dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			quoteIdent(table+"_hnsw"), quoteIdent(table)),
	}

	for _, m := range migrations {
		if _, err := p.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	p.tables[table] = true
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, namespace string, entries []IndexEntry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	table, err := pgTable(namespace)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	dimension := len(entries[0].Vector)
	if dimension == 0 {
		return ErrInvalidDimension
	}
	if err := p.ensureTable(ctx, table, dimension); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_path, chunk_index, chunk_offset, overlap, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
	`, quoteIdent(table)))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if len(e.Vector) != dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, dimension, len(e.Vector))
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Chunk.SourcePath, e.Chunk.Index, e.Chunk.Offset,
			e.Chunk.Overlap, e.Chunk.Text, formatEmbedding(e.Vector)); err != nil {
			return fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	table, err := pgTable(namespace)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	exists, err := p.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []SearchResult{}, nil
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source_path, chunk_index, chunk_offset, overlap, content, embedding::text,
			1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $2
	`, quoteIdent(table)), formatEmbedding(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var embedding string
		var score float64

		if err := rows.Scan(&r.Entry.ID, &r.Entry.Chunk.SourcePath, &r.Entry.Chunk.Index, &r.Entry.Chunk.Offset,
			&r.Entry.Chunk.Overlap, &r.Entry.Chunk.Text, &embedding, &score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		r.Entry.Vector = parseEmbedding(embedding)
		r.Score = float32(score)
		results = append(results, r)
	}

	return results, rows.Err()
}

func (p *PgVectorIndex) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return false, err
	}
	table, err := pgTable(namespace)
	if err != nil {
		return false, err
	}

	exists, err := p.tableExists(ctx, table)
	if err != nil || !exists {
		return false, err
	}

	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table))); err != nil {
		return false, fmt.Errorf("drop table: %w", err)
	}

	p.mu.Lock()
	delete(p.tables, table)
	p.mu.Unlock()

	return true, nil
}

func (p *PgVectorIndex) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name LIKE 'tfguard\_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if ns, ok := namespaceFromIdentifier(table, pgTablePrefix); ok {
			names = append(names, ns)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// Close closes the database connection.
func (p *PgVectorIndex) Close() error {
	return p.db.Close()
}

// formatEmbedding converts a float32 slice to pgvector format: "[0.1,0.2,0.3]"
func formatEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts pgvector format back to a float32 slice.
func parseEmbedding(s string) []float32 {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		result = append(result, float32(f))
	}
	return result
}
