package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"video-scanner-go/internal/report"
)

const schemaVersion = 1

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scan_timestamp TEXT NOT NULL,
	source_directory TEXT NOT NULL,
	resolution TEXT NOT NULL,
	comparison TEXT NOT NULL,
	total_files INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	error_files INTEGER NOT NULL DEFAULT 0,
	matching_files INTEGER NOT NULL DEFAULT 0,
	report_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_matches (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	file TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_scan_timestamp ON runs(scan_timestamp);
CREATE INDEX IF NOT EXISTS idx_run_matches_run_id ON run_matches(run_id);
CREATE INDEX IF NOT EXISTS idx_run_matches_file ON run_matches(file);
`

// RunSummary is one row of the run history listing.
type RunSummary struct {
	ID              string    `json:"id"`
	ScanTimestamp   time.Time `json:"scan_timestamp"`
	SourceDirectory string    `json:"source_directory"`
	Resolution      string    `json:"resolution_criteria"`
	Comparison      string    `json:"comparison_type"`
	TotalFiles      int       `json:"total_files"`
	ProcessedFiles  int       `json:"processed_files"`
	ErrorFiles      int       `json:"error_files"`
	MatchingFiles   int       `json:"matching_files"`
}

// SQLiteStore keeps a history of sealed scan reports.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore opens or creates the history database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveRun persists a sealed report. Saving the same run ID again replaces it.
func (s *SQLiteStore) SaveRun(r *report.RunReport) error {
	if r == nil || r.ID == "" {
		return errors.New("report has no run ID")
	}

	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM run_matches WHERE run_id = ?", r.ID); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs (
			id, scan_timestamp, source_directory, resolution, comparison,
			total_files, processed_files, error_files, matching_files, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, formatTime(r.ScanTimestamp), r.SourceDirectory, r.Criteria.Resolution, r.Criteria.Comparison.String(),
		r.TotalFiles, r.ProcessedFiles, r.ErrorFiles, r.MatchCount(), string(blob),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO run_matches (run_id, file, width, height, size_bytes) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range r.MatchingFiles {
		if _, err := stmt.Exec(r.ID, m.File, m.Width, m.Height, m.SizeBytes); err != nil {
			return fmt.Errorf("insert match %s: %w", m.File, err)
		}
	}

	return tx.Commit()
}

// GetRun returns the full report for id, or nil if no such run exists.
func (s *SQLiteStore) GetRun(id string) (*report.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRow("SELECT report_json FROM runs WHERE id = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r report.RunReport
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scan_timestamp, source_directory, resolution, comparison,
			total_files, processed_files, error_files, matching_files
		FROM runs ORDER BY scan_timestamp DESC, id`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		var ts string
		if err := rows.Scan(&rs.ID, &ts, &rs.SourceDirectory, &rs.Resolution, &rs.Comparison,
			&rs.TotalFiles, &rs.ProcessedFiles, &rs.ErrorFiles, &rs.MatchingFiles); err != nil {
			return nil, err
		}
		rs.ScanTimestamp = parseTime(ts)
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// RunsMatchingFile returns the IDs of runs in which file matched, newest first.
func (s *SQLiteStore) RunsMatchingFile(file string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT r.id FROM run_matches m JOIN runs r ON r.id = m.run_id
		WHERE m.file = ? ORDER BY r.scan_timestamp DESC
	`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRun removes a run and its match rows. Missing IDs are not an error.
func (s *SQLiteStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM run_matches WHERE run_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
