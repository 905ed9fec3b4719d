package segment

import (
	"database/sql"
	"fmt"
	"hash/fnv"

	_ "github.com/mattn/go-sqlite3"
)

// Index is the SQLite catalog of frozen segments.
type Index struct {
	db *sql.DB
}

// OpenIndex opens the catalog database at dbPath with WAL mode enabled.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Migrate creates the catalog schema. Idempotent.
func (x *Index) Migrate() error {
	if _, err := x.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS frozen_entries (
  path          TEXT PRIMARY KEY,
  path_hash     TEXT NOT NULL,
  content_hash  TEXT NOT NULL,
  file          TEXT NOT NULL,
  src_len       INTEGER NOT NULL,
  tree_len      INTEGER NOT NULL,
  stored_bytes  INTEGER NOT NULL,
  created_at    INTEGER NOT NULL,
  last_access   INTEGER NOT NULL,
  access_count  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_frozen_created ON frozen_entries(created_at);
`

// Insert records h, replacing any previous row for the same path.
func (x *Index) Insert(h *Handle) error {
	_, err := x.db.Exec(`
		INSERT OR REPLACE INTO frozen_entries
		  (path, path_hash, content_hash, file, src_len, tree_len, stored_bytes, created_at, last_access, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Path, pathHashHex(h.Path), h.ContentHash, h.File,
		h.SrcLen, h.TreeLen, h.StoredBytes, h.CreatedAt, h.LastAccess, h.AccessCount)
	if err != nil {
		return fmt.Errorf("insert frozen entry: %w", err)
	}
	return nil
}

// Lookup returns the handle for path, if cataloged.
func (x *Index) Lookup(path string) (*Handle, bool, error) {
	h := &Handle{}
	err := x.db.QueryRow(`
		SELECT path, content_hash, file, src_len, tree_len, stored_bytes, created_at, last_access, access_count
		FROM frozen_entries WHERE path = ?`, path).
		Scan(&h.Path, &h.ContentHash, &h.File, &h.SrcLen, &h.TreeLen,
			&h.StoredBytes, &h.CreatedAt, &h.LastAccess, &h.AccessCount)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup frozen entry: %w", err)
	}
	return h, true, nil
}

// Touch bumps last_access and access_count for path.
func (x *Index) Touch(path string, now int64) error {
	_, err := x.db.Exec(`
		UPDATE frozen_entries SET last_access = ?, access_count = access_count + 1
		WHERE path = ?`, now, path)
	if err != nil {
		return fmt.Errorf("touch frozen entry: %w", err)
	}
	return nil
}

// Delete removes path's row.
func (x *Index) Delete(path string) error {
	if _, err := x.db.Exec(`DELETE FROM frozen_entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete frozen entry: %w", err)
	}
	return nil
}

// All returns every cataloged handle.
func (x *Index) All() ([]*Handle, error) {
	rows, err := x.db.Query(`
		SELECT path, content_hash, file, src_len, tree_len, stored_bytes, created_at, last_access, access_count
		FROM frozen_entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list frozen entries: %w", err)
	}
	defer rows.Close()

	var out []*Handle
	for rows.Next() {
		h := &Handle{}
		if err := rows.Scan(&h.Path, &h.ContentHash, &h.File, &h.SrcLen, &h.TreeLen,
			&h.StoredBytes, &h.CreatedAt, &h.LastAccess, &h.AccessCount); err != nil {
			return nil, fmt.Errorf("scan frozen entry: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frozen entries: %w", err)
	}
	return out, nil
}

// TotalBytes sums stored_bytes across the catalog.
func (x *Index) TotalBytes() (int64, error) {
	var total sql.NullInt64
	if err := x.db.QueryRow(`SELECT SUM(stored_bytes) FROM frozen_entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum frozen bytes: %w", err)
	}
	return total.Int64, nil
}

// Oldest returns up to limit handles ordered by creation time, oldest
// first. Eviction consumes these.
func (x *Index) Oldest(limit int) ([]*Handle, error) {
	rows, err := x.db.Query(`
		SELECT path, content_hash, file, src_len, tree_len, stored_bytes, created_at, last_access, access_count
		FROM frozen_entries ORDER BY created_at, path LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list oldest frozen entries: %w", err)
	}
	defer rows.Close()

	var out []*Handle
	for rows.Next() {
		h := &Handle{}
		if err := rows.Scan(&h.Path, &h.ContentHash, &h.File, &h.SrcLen, &h.TreeLen,
			&h.StoredBytes, &h.CreatedAt, &h.LastAccess, &h.AccessCount); err != nil {
			return nil, fmt.Errorf("scan frozen entry: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frozen entries: %w", err)
	}
	return out, nil
}

// pathHashHex mirrors the filename derivation so operators can join the
// catalog against a directory listing.
func pathHashHex(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%016x", h.Sum64())
}
