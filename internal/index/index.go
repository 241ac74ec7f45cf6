// Package index implements the full-text search collaborator (spec §6):
// "index_document(id,name,text,folders)", "remove_document(id)",
// "search(query,limit)", "cleanup_deleted(active_ids)", "optimize()",
// "stats()". The spec treats this as an opaque collaborator contract, but
// the teacher's stack makes heavy use of modernc.org/sqlite, so rather
// than drop that dependency this package gives it a real home: a small
// FTS5-backed index. Grounded on the teacher's internal/db/store.go
// Open/openDB idiom (file: URI, WAL pragma, schema-mismatch recreate).
package index

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/jra3/contexthub/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// Index wraps the sqlite FTS5 virtual table backing search.
type Index struct {
	db *sql.DB
}

// Open opens or creates the FTS index database at dbPath, recreating it
// if the existing schema doesn't match (teacher's db.Open idiom).
func Open(dbPath string) (*Index, error) {
	idx, err := openDB(dbPath)
	if err != nil {
		if isSchemaMismatch(err) {
			if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, errs.Wrap("index.open", errs.IO, rmErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return idx, nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "SQL logic error")
}

func openDB(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errs.Wrap("index.open", errs.IO, err)
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, errs.Wrap("index.open", errs.IO, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Wrap("index.open", errs.IO, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Wrap("index.open", errs.IO, err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// IndexDocument upserts id's searchable content (spec §6's
// index_document). folders is joined into a separate searchable column
// so a query can match on a document's ancestor folder names. FTS5
// virtual tables have no unique-constraint upsert target, so this
// deletes any prior row for id before inserting the fresh one, inside a
// transaction so a reader never observes a momentarily-missing row.
func (idx *Index) IndexDocument(ctx context.Context, id, name, text string, folders []string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap("index.index_document", errs.IO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE id = ?`, id); err != nil {
		return errs.Wrap("index.index_document", errs.IO, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (id, name, text, folders, deleted) VALUES (?, ?, ?, ?, 0)`,
		id, name, text, strings.Join(folders, " ")); err != nil {
		return errs.Wrap("index.index_document", errs.IO, err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap("index.index_document", errs.IO, err)
	}
	return nil
}

// RemoveDocument tombstones id rather than deleting outright, so
// cleanup_deleted can batch-reconcile against the live active set (spec
// §6's remove_document).
func (idx *Index) RemoveDocument(ctx context.Context, id string) error {
	_, err := idx.db.ExecContext(ctx, `UPDATE documents_fts SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap("index.remove_document", errs.IO, err)
	}
	return nil
}

// Search runs a full-text query over non-deleted documents, returning
// matching ids ordered by relevance, bounded by limit (spec §6's search).
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id FROM documents_fts WHERE documents_fts MATCH ? AND deleted = 0 ORDER BY rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, errs.Wrap("index.search", errs.IO, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap("index.search", errs.IO, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap("index.search", errs.IO, err)
	}
	return out, nil
}

// CleanupDeleted removes every tombstoned row (deleted = 1) whose id is
// not in activeIDs; rows not marked deleted are kept even when their id
// is absent from activeIDs. It returns how many rows
// were removed (spec §6's cleanup_deleted, spec §4.5 step 6).
func (idx *Index) CleanupDeleted(ctx context.Context, activeIDs map[string]bool) (int, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT id FROM documents_fts WHERE deleted = 1`)
	if err != nil {
		return 0, errs.Wrap("index.cleanup_deleted", errs.IO, err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, errs.Wrap("index.cleanup_deleted", errs.IO, err)
		}
		if !activeIDs[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errs.Wrap("index.cleanup_deleted", errs.IO, err)
	}

	for _, id := range stale {
		if _, err := idx.db.ExecContext(ctx, `DELETE FROM documents_fts WHERE id = ?`, id); err != nil {
			return 0, errs.Wrap("index.cleanup_deleted", errs.IO, err)
		}
	}
	return len(stale), nil
}

// Stats reports total/deleted row counts and the FTS segment count (spec
// §6's stats).
type Stats struct {
	Total    int
	Deleted  int
	Segments int
}

func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := idx.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(deleted) FROM documents_fts`)
	var deleted sql.NullInt64
	if err := row.Scan(&stats.Total, &deleted); err != nil {
		return Stats{}, errs.Wrap("index.stats", errs.IO, err)
	}
	stats.Deleted = int(deleted.Int64)

	row = idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents_fts_segdir`)
	if err := row.Scan(&stats.Segments); err != nil {
		// Segment introspection is FTS5-implementation-specific and best effort.
		stats.Segments = 0
	}
	return stats, nil
}

// Optimize runs the FTS5 'optimize' merge command, returning the database
// file size before and after (spec §6's optimize).
func (idx *Index) Optimize(ctx context.Context, dbPath string) (before, after int64, err error) {
	before, err = fileSize(dbPath)
	if err != nil {
		return 0, 0, err
	}
	if _, err := idx.db.ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES('optimize')`); err != nil {
		return 0, 0, errs.Wrap("index.optimize", errs.IO, err)
	}
	if _, err := idx.db.ExecContext(ctx, `VACUUM`); err != nil {
		return 0, 0, errs.Wrap("index.optimize", errs.IO, err)
	}
	after, err = fileSize(dbPath)
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errs.Wrap("index.file_size", errs.IO, err)
	}
	return info.Size(), nil
}
