package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename ("001_init.sql" yields 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, path string) (MetadataRow, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT path, fields_json, extended, fingerprint, extracted_at
		 FROM metadata_cache
		 WHERE path = ?`,
		path,
	)

	var ret MetadataRow
	var fieldsJSON string
	var extended int
	if err := row.Scan(&ret.Path, &fieldsJSON, &extended, &ret.Fingerprint, &ret.ExtractedAt); err != nil {
		if err == sql.ErrNoRows {
			return MetadataRow{}, false, nil
		}
		return MetadataRow{}, false, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &ret.Fields); err != nil {
		return MetadataRow{}, false, err
	}
	ret.Extended = extended == 1
	return ret, true, nil
}

func (s *SQLiteStore) PutMetadata(ctx context.Context, row MetadataRow) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return err
	}
	extractedAt := row.ExtractedAt.UTC()
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO metadata_cache (path, fields_json, extended, fingerprint, extracted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			fields_json=excluded.fields_json,
			extended=excluded.extended,
			fingerprint=excluded.fingerprint,
			extracted_at=excluded.extracted_at`,
		row.Path,
		string(fieldsJSON),
		boolToInt(row.Extended),
		row.Fingerprint,
		extractedAt,
	)
	return err
}

func (s *SQLiteStore) InvalidateMetadata(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metadata_cache WHERE path = ?`, path)
	return err
}

func (s *SQLiteStore) ListMetadataPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM metadata_cache ORDER BY path ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		ret = append(ret, path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// PruneMissing drops cache rows whose file no longer exists on disk.
// Returns the number of rows removed.
func (s *SQLiteStore) PruneMissing(ctx context.Context, exists func(path string) bool) (int64, error) {
	paths, err := s.ListMetadataPaths(ctx)
	if err != nil {
		return 0, err
	}

	var pruned int64
	for _, path := range paths {
		select {
		case <-ctx.Done():
			return pruned, ctx.Err()
		default:
		}
		if exists(path) {
			continue
		}
		if err := s.InvalidateMetadata(ctx, path); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, entry := range entries {
		renamedAt := entry.RenamedAt.UTC()
		if renamedAt.IsZero() {
			renamedAt = time.Now().UTC()
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO rename_history (batch_id, old_path, new_path, renamed_at, undone)
			 VALUES (?, ?, ?, ?, ?)`,
			entry.BatchID,
			entry.OldPath,
			entry.NewPath,
			renamedAt,
			boolToInt(entry.Undone),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadHistoryBatch(ctx context.Context, batchID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, batch_id, old_path, new_path, renamed_at, undone
		 FROM rename_history
		 WHERE batch_id = ?
		 ORDER BY id ASC`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]HistoryEntry, 0)
	for rows.Next() {
		var item HistoryEntry
		var undone int
		if err := rows.Scan(&item.ID, &item.BatchID, &item.OldPath, &item.NewPath, &item.RenamedAt, &undone); err != nil {
			return nil, err
		}
		item.Undone = undone == 1
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) ListRecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT batch_id, COUNT(*), MAX(renamed_at), MIN(undone)
		 FROM rename_history
		 GROUP BY batch_id
		 ORDER BY MAX(renamed_at) DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]BatchSummary, 0)
	for rows.Next() {
		var item BatchSummary
		var undone int
		if err := rows.Scan(&item.BatchID, &item.FileCount, &item.RenamedAt, &undone); err != nil {
			return nil, err
		}
		// A batch counts as undone only when every entry was rolled back.
		item.Undone = undone == 1
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) MarkUndone(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE rename_history SET undone = 1 WHERE batch_id = ?`,
		batchID,
	)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
