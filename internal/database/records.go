package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/repocrawl/internal/model"
)

// DefaultFileName is the database file name inside the data directory.
const DefaultFileName = "records.db"

// ErrCorrupt is returned when the database fails its integrity check.
var ErrCorrupt = errors.New("record database is corrupt")

// RecordDB stores EntityRecords and retrieval failures.
type RecordDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures RecordDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	// The status command opens the database without it.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the RecordDB in dbDir and verifies its integrity.
// A database that fails the check yields an error wrapping ErrCorrupt.
func Open(dbDir string, opts Options) (*RecordDB, error) {
	dbPath := filepath.Join(dbDir, DefaultFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a new file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RecordDB{
		db:     db,
		dbPath: dbPath,
	}

	ctx := context.Background()
	if err := rdb.checkIntegrity(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Close closes the database connection.
func (rdb *RecordDB) Close() error {
	return rdb.db.Close()
}

// Path returns the database file path.
func (rdb *RecordDB) Path() string {
	return rdb.dbPath
}

// checkIntegrity runs PRAGMA quick_check. A file that is not a database
// at all fails here too.
func (rdb *RecordDB) checkIntegrity(ctx context.Context) error {
	var result string
	if err := rdb.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, rdb.dbPath, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s: %s", ErrCorrupt, rdb.dbPath, result)
	}
	return nil
}

// createTables creates the database schema if it doesn't exist.
func (rdb *RecordDB) createTables(ctx context.Context) error {
	schema := `
	-- One row per successfully retrieved repository
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		full_name TEXT NOT NULL,
		clone_url TEXT NOT NULL,
		local_path TEXT NOT NULL,
		stars INTEGER NOT NULL DEFAULT 0,
		forks INTEGER NOT NULL DEFAULT 0,
		size_kb INTEGER NOT NULL DEFAULT 0,
		tokens INTEGER NOT NULL DEFAULT 0,
		files_measured INTEGER NOT NULL DEFAULT 0,
		files_deleted INTEGER NOT NULL DEFAULT 0,
		bytes_freed INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL DEFAULT '',
		retrieved_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_retrieved_at ON records(retrieved_at);

	-- Failed retrievals; attempts counts failures across runs
	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY,
		full_name TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		last_error TEXT NOT NULL DEFAULT '',
		last_failed_at TEXT NOT NULL
	);
	`

	_, err := rdb.db.ExecContext(ctx, schema)
	return err
}

// HasRecord reports whether a record exists for the id.
func (rdb *RecordDB) HasRecord(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := rdb.db.QueryRowContext(ctx, "SELECT 1 FROM records WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check record: %w", err)
	}
	return true, nil
}

// PutRecord appends a record. Records are never updated: writing an id
// that already exists is a no-op.
func (rdb *RecordDB) PutRecord(ctx context.Context, r *model.EntityRecord) error {
	query := `
	INSERT OR IGNORE INTO records (
		id, full_name, clone_url, local_path, stars, forks, size_kb,
		tokens, files_measured, files_deleted, bytes_freed, run_id, retrieved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := rdb.db.ExecContext(ctx, query,
		r.ID,
		r.FullName,
		r.CloneURL,
		r.LocalPath,
		r.Stars,
		r.Forks,
		r.SizeKB,
		r.Tokens,
		r.FilesMeasured,
		r.FilesDeleted,
		r.BytesFreed,
		r.RunID,
		r.RetrievedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

const recordColumns = `id, full_name, clone_url, local_path, stars, forks, size_kb,
	tokens, files_measured, files_deleted, bytes_freed, run_id, retrieved_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*model.EntityRecord, error) {
	var r model.EntityRecord
	var retrievedAt string
	err := s.Scan(
		&r.ID,
		&r.FullName,
		&r.CloneURL,
		&r.LocalPath,
		&r.Stars,
		&r.Forks,
		&r.SizeKB,
		&r.Tokens,
		&r.FilesMeasured,
		&r.FilesDeleted,
		&r.BytesFreed,
		&r.RunID,
		&retrievedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RetrievedAt = parseTimestamp(retrievedAt)
	return &r, nil
}

// GetRecord returns the record for the id, or nil if there is none.
func (rdb *RecordDB) GetRecord(ctx context.Context, id int64) (*model.EntityRecord, error) {
	row := rdb.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// Recent returns up to limit records, newest first.
func (rdb *RecordDB) Recent(ctx context.Context, limit int) ([]model.EntityRecord, error) {
	rows, err := rdb.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records ORDER BY retrieved_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	defer rows.Close()

	var results []model.EntityRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// RecordIDs returns the ids of all records. It is used to back-fill the
// identity ledger on startup.
func (rdb *RecordDB) RecordIDs(ctx context.Context) ([]int64, error) {
	rows, err := rdb.db.QueryContext(ctx, "SELECT id FROM records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query record ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LocalPaths returns the checkout path of every record.
func (rdb *RecordDB) LocalPaths(ctx context.Context) ([]string, error) {
	rows, err := rdb.db.QueryContext(ctx, "SELECT local_path FROM records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query record paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan record path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Totals aggregates the record store.
type Totals struct {
	Records    int
	Tokens     int64
	BytesFreed int64
	Failures   int
}

// Totals returns the record count, summed tokens and bytes freed, and the
// number of repositories with at least one failure and no record.
func (rdb *RecordDB) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := rdb.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(bytes_freed), 0) FROM records",
	).Scan(&t.Records, &t.Tokens, &t.BytesFreed)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to sum records: %w", err)
	}

	err = rdb.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM failures WHERE id NOT IN (SELECT id FROM records)",
	).Scan(&t.Failures)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to count failures: %w", err)
	}
	return t, nil
}

// RecordFailure counts one failed retrieval of the repository.
// Uses UPSERT so repeated failures increment the attempt count.
func (rdb *RecordDB) RecordFailure(ctx context.Context, repo model.Repository, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	query := `
	INSERT INTO failures (id, full_name, attempts, last_error, last_failed_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		attempts = failures.attempts + 1,
		full_name = excluded.full_name,
		last_error = excluded.last_error,
		last_failed_at = excluded.last_failed_at
	`

	_, err := rdb.db.ExecContext(ctx, query,
		repo.ID,
		repo.FullName,
		msg,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// FailureAttempts returns the failure count of every repository that has
// failed and has no record.
func (rdb *RecordDB) FailureAttempts(ctx context.Context) (map[int64]int, error) {
	rows, err := rdb.db.QueryContext(ctx,
		"SELECT id, attempts FROM failures WHERE id NOT IN (SELECT id FROM records)")
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	attempts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		attempts[id] = n
	}
	return attempts, rows.Err()
}

// timestampFormats lists the formats parseTimestamp accepts.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses a stored timestamp, returning zero time when no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
