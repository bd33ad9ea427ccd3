package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// sqliteFile is the database file inside every namespace directory.
const sqliteFile = "index.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL,
	source_path  TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	chunk_offset INTEGER NOT NULL,
	overlap      INTEGER NOT NULL,
	text         TEXT NOT NULL,
	embedding    BLOB NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteIndex is the default LocalIndex. Each namespace is a directory under root
// holding one SQLite database, so deleting a namespace removes exactly its directory.
type SQLiteIndex struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLiteIndex creates the index root directory if needed.
func NewSQLiteIndex(root string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &SQLiteIndex{root: root, dbs: make(map[string]*sql.DB)}, nil
}

// Root returns the directory holding all namespaces.
func (s *SQLiteIndex) Root() string { return s.root }

func (s *SQLiteIndex) namespaceDir(namespace string) string {
	return filepath.Join(s.root, namespace)
}

// open returns the namespace database. When create is false and the namespace
// has never been written, it returns a nil *sql.DB.
func (s *SQLiteIndex) open(ctx context.Context, namespace string, create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[namespace]; ok {
		return db, nil
	}

	dir := s.namespaceDir(namespace)
	dbPath := filepath.Join(dir, sqliteFile)
	if !create {
		if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating namespace directory: %w", err)
	}

	db, err := openSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('namespace', ?)`, namespace); err != nil {
		db.Close()
		return nil, fmt.Errorf("writing namespace metadata: %w", err)
	}

	s.dbs[namespace] = db
	return db, nil
}

func openSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	// WAL mode lets readers proceed while a writer holds the database
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers from concurrent batches
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}

// openSQLiteReadOnly opens an existing database without creating or altering anything in it.
func openSQLiteReadOnly(ctx context.Context, dbPath string) (*sql.DB, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String() + "?mode=ro&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, namespace string, entries []IndexEntry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	db, err := s.open(ctx, namespace, true)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, source_path, chunk_index, chunk_offset, overlap, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Chunk.SourcePath, e.Chunk.Index,
			e.Chunk.Offset, e.Chunk.Overlap, e.Chunk.Text, float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	db, err := s.open(ctx, namespace, false)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []SearchResult{}, nil
	}

	entries, err := readEntries(ctx, db)
	if err != nil {
		return nil, err
	}
	return rankEntries(entries, query, k), nil
}

// DeleteNamespace closes the namespace database and removes its directory.
func (s *SQLiteIndex) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[namespace]; ok {
		db.Close()
		delete(s.dbs, namespace)
	}

	dir := s.namespaceDir(namespace)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking namespace directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("removing namespace directory: %w", err)
	}
	return true, nil
}

// Namespaces lists the subdirectories of root that contain an index database.
func (s *SQLiteIndex) Namespaces(ctx context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading index directory: %w", err)
	}

	names := []string{}
	for _, d := range dirEntries {
		if !d.IsDir() || ValidateNamespace(d.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, d.Name(), sqliteFile)); err == nil {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save checkpoints the WAL into the main database file and returns the namespace directory.
func (s *SQLiteIndex) Save(ctx context.Context, namespace string) (string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return "", err
	}

	db, err := s.open(ctx, namespace, false)
	if err != nil {
		return "", err
	}
	if db == nil {
		return "", fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpointing database: %w", err)
	}
	return s.namespaceDir(namespace), nil
}

// Load reads a saved namespace directory into a NamespaceView.
// The handle does not have to live under this index's root.
func (s *SQLiteIndex) Load(ctx context.Context, handle string) (*NamespaceView, error) {
	dbPath := filepath.Join(handle, sqliteFile)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, handle)
		}
		return nil, fmt.Errorf("checking index database: %w", err)
	}

	db, err := openSQLiteReadOnly(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	namespace := filepath.Base(handle)
	var stored string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'namespace'`).Scan(&stored)
	switch {
	case err == nil:
		namespace = stored
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("reading namespace metadata: %w", err)
	}

	entries, err := readEntries(ctx, db)
	if err != nil {
		return nil, err
	}

	return &NamespaceView{Namespace: namespace, Handle: handle, entries: entries}, nil
}

// Close closes every open namespace database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for ns, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", ns, err))
		}
		delete(s.dbs, ns)
	}
	return errors.Join(errs...)
}

func readEntries(ctx context.Context, db *sql.DB) ([]IndexEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, source_path, chunk_index, chunk_offset, overlap, text, embedding
		FROM entries ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var e IndexEntry
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Chunk.SourcePath, &e.Chunk.Index, &e.Chunk.Offset,
			&e.Chunk.Overlap, &e.Chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Vector = bytesToFloat32Slice(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
