package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/olegiv/gerrit-repo-stats/internal/logging"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
)

// Storage keeps the history of report runs.
type Storage struct {
	db  *sql.DB
	log *logging.SecureLogger
}

// Run is one completed report run.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Repositories int
	Read         int
	NeverRead    int
	Removed      int
	Issues       int
	FilesScanned int
	FilesSkipped int
	LinesScanned int64
	BytesScanned int64
	Unclassified int
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Snapshot is one repository row as recorded by a run.
type Snapshot struct {
	RunID        string
	RunAt        time.Time
	Repository   string
	CreationDate string
	LastUpdate   string
	LastRead     string
}

// NewRun converts a run summary into a storable run with a fresh ID.
func NewRun(s report.Summary) *Run {
	return &Run{
		ID:           uuid.NewString(),
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Repositories: s.Repositories,
		Read:         s.Read,
		NeverRead:    s.NeverRead,
		Removed:      len(s.Removed),
		Issues:       s.Issues,
		FilesScanned: s.Scan.Files,
		FilesSkipped: s.Scan.FilesSkipped,
		LinesScanned: s.Scan.Lines,
		BytesScanned: s.Scan.Bytes,
		Unclassified: s.Unclassified,
	}
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked (5 seconds)
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// New opens (creating if needed) the run history database at dbPath.
// A nil logger discards migration messages.
func New(dbPath string, log *logging.SecureLogger) (*Storage, error) {
	if log == nil {
		log = logging.NewNop()
	}

	// Create directory if it doesn't exist (0700, owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection to avoid lock contention
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db, log: log}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Schema version constants
const (
	// currentSchemaVersion is the latest schema version
	// Increment this when adding new migrations
	currentSchemaVersion = 2
)

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	// schema_version tracks migration state
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.getSchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// setSchemaVersion updates the schema version
func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return nil
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	s.log.Info().
		Int("from", currentVersion).
		Int("to", currentSchemaVersion).
		Msg("Migrating run history schema")

	// Migration 0 -> 1: runs table
	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	// Migration 1 -> 2: per-repository snapshots
	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// migrateV1 creates the runs table
func (s *Storage) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		repositories INTEGER NOT NULL DEFAULT 0,
		read_count INTEGER NOT NULL DEFAULT 0,
		never_read INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		issues INTEGER NOT NULL DEFAULT 0,
		files_scanned INTEGER NOT NULL DEFAULT 0,
		files_skipped INTEGER NOT NULL DEFAULT 0,
		lines_scanned INTEGER NOT NULL DEFAULT 0,
		bytes_scanned INTEGER NOT NULL DEFAULT 0,
		unclassified INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 creates the repository_snapshots table
func (s *Storage) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repository_snapshots (
		run_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		creation_date TEXT NOT NULL DEFAULT '',
		last_update TEXT NOT NULL DEFAULT '',
		last_read TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, repository)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_repository ON repository_snapshots(repository);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores a run and the report rows it produced in one transaction.
// A run without an ID gets a fresh one.
func (s *Storage) SaveRun(ctx context.Context, run *Run, records []report.Record) (err error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, repositories, read_count, never_read,
			removed, issues, files_scanned, files_skipped, lines_scanned,
			bytes_scanned, unclassified, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Repositories,
		run.Read,
		run.NeverRead,
		run.Removed,
		run.Issues,
		run.FilesScanned,
		run.FilesSkipped,
		run.LinesScanned,
		run.BytesScanned,
		run.Unclassified,
		run.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repository_snapshots (run_id, repository, creation_date, last_update, last_read)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, run.ID, rec.Repository, rec.CreationDate, rec.LastUpdate, rec.LastRead); err != nil {
			return fmt.Errorf("failed to insert snapshot for %s: %w", rec.Repository, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRecentRuns returns runs started in the last N days, newest first.
func (s *Storage) GetRecentRuns(ctx context.Context, days int) ([]*Run, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, repositories, read_count, never_read,
		       removed, issues, files_scanned, files_skipped, lines_scanned,
		       bytes_scanned, unclassified
		FROM runs
		WHERE started_at >= ?
		ORDER BY started_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer s.closeRows(rows)

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRepositoryHistory returns up to limit snapshots of one repository,
// newest run first. A limit of 0 or less returns all of them.
func (s *Storage) GetRepositoryHistory(ctx context.Context, repository string, limit int) ([]Snapshot, error) {
	query := `
		SELECT s.run_id, r.started_at, s.repository, s.creation_date, s.last_update, s.last_read
		FROM repository_snapshots s
		JOIN runs r ON r.id = s.run_id
		WHERE s.repository = ?
		ORDER BY r.started_at DESC`
	args := []interface{}{repository}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query repository history: %w", err)
	}
	defer s.closeRows(rows)

	var history []Snapshot
	for rows.Next() {
		var (
			snap  Snapshot
			runAt string
		)
		if err := rows.Scan(&snap.RunID, &runAt, &snap.Repository, &snap.CreationDate, &snap.LastUpdate, &snap.LastRead); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.RunAt, err = parseTime(runAt); err != nil {
			return nil, fmt.Errorf("failed to parse run time: %w", err)
		}
		history = append(history, snap)
	}

	return history, rows.Err()
}

// CleanupOldRuns deletes runs older than N days together with their snapshots.
func (s *Storage) CleanupOldRuns(ctx context.Context, days int) (n int64, err error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM repository_snapshots
		WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to cleanup old snapshots: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}
	if n, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return n, nil
}

// GetStatistics returns aggregate figures over the stored history.
func (s *Storage) GetStatistics(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var (
		total      int
		avgMs      float64
		lastRun    sql.NullString
		totalLines int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(duration_ms), 0), MAX(started_at), COALESCE(SUM(lines_scanned), 0)
		FROM runs`).Scan(&total, &avgMs, &lastRun, &totalLines)
	if err != nil {
		return nil, err
	}
	stats["total_runs"] = total
	stats["avg_duration_ms"] = avgMs
	stats["total_lines_scanned"] = totalLines
	if lastRun.Valid {
		if t, err := parseTime(lastRun.String); err == nil {
			stats["last_run"] = t
		}
	}

	var tracked int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT repository) FROM repository_snapshots`).Scan(&tracked); err != nil {
		return nil, err
	}
	stats["tracked_repositories"] = tracked

	return stats, nil
}

// scanRun scans a database row into a Run
func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run                 Run
		startedAt, finished string
	)

	err := rows.Scan(
		&run.ID, &startedAt, &finished, &run.Repositories, &run.Read, &run.NeverRead,
		&run.Removed, &run.Issues, &run.FilesScanned, &run.FilesSkipped, &run.LinesScanned,
		&run.BytesScanned, &run.Unclassified,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	return &run, nil
}

func (s *Storage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close database rows")
	}
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
