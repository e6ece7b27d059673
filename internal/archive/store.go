// Package archive is a content-addressed SQLite store for retired
// files and evolution-run offspring. Every archival is a new row with
// a timestamp-derived id; rows are never updated or deleted.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"evolab/internal/logging"
)

var (
	// ErrNotFound is returned when no archived row matches the lookup.
	ErrNotFound = errors.New("archive: file not found")
	// ErrUniqueViolation is returned when an insert collides with an
	// existing file_id or (path, timestamp) pair.
	ErrUniqueViolation = errors.New("archive: unique constraint violation")
	// ErrBadLookup is returned when neither or both identifiers are given.
	ErrBadLookup = errors.New("archive: exactly one of file_id and original_path required")
)

// timestampFormat is fixed-width so lexicographic ordering matches
// chronological ordering in SQL.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a single SQLite database. Single-writer within a
// process; the mutex also serializes the monotonic timestamp.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	lastTS string
}

// New opens or creates the archive database at the given path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryArchive, "open archive")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.ArchiveWarn("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.ArchiveWarn("set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.ArchiveWarn("set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Archive("archive open at %s", path)
	return s, nil
}

// initialize creates the schema. Idempotent.
func (s *Store) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archived_files (
			file_id TEXT PRIMARY KEY,
			original_path TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			archived_timestamp TEXT NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			file_type TEXT NOT NULL,
			archival_reason TEXT NOT NULL,
			consciousness_level REAL DEFAULT 0.0,
			ainlp_patterns TEXT,
			project_phase TEXT,
			related_files TEXT,
			replacement_path TEXT,
			notes TEXT,
			UNIQUE(original_path, archived_timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS evolution_history (
			evolution_id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			change_type TEXT NOT NULL,
			change_description TEXT,
			consciousness_delta REAL,
			FOREIGN KEY (file_id) REFERENCES archived_files(file_id)
		)`,
		`CREATE TABLE IF NOT EXISTS archival_reasons (
			reason_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			description TEXT NOT NULL,
			principle TEXT NOT NULL,
			usage_count INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS consciousness_snapshots (
			snapshot_id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			total_files_count INTEGER,
			total_codebase_lines INTEGER,
			avg_consciousness_level REAL,
			active_ainlp_patterns TEXT,
			system_coherence REAL,
			FOREIGN KEY (file_id) REFERENCES archived_files(file_id)
		)`,
		`CREATE TABLE IF NOT EXISTS retrieval_log (
			retrieval_id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL,
			retrieval_timestamp TEXT NOT NULL,
			retrieval_reason TEXT,
			retrieved_by TEXT,
			FOREIGN KEY (file_id) REFERENCES archived_files(file_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_timestamp ON archived_files(archived_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_file_type ON archived_files(file_type)`,
		`CREATE INDEX IF NOT EXISTS idx_archival_reason ON archived_files(archival_reason)`,
		`CREATE INDEX IF NOT EXISTS idx_consciousness_level ON archived_files(consciousness_level)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize archive schema: %w", err)
		}
	}
	return nil
}

// nextTimestamp returns a formatted timestamp strictly greater than
// the previous one issued by this store. Caller holds s.mu.
func (s *Store) nextTimestamp() string {
	t := time.Now().UTC()
	ts := t.Format(timestampFormat)
	for ts <= s.lastTS && s.lastTS != "" {
		t = t.Add(time.Nanosecond)
		ts = t.Format(timestampFormat)
	}
	s.lastTS = ts
	return ts
}

// DB exposes the underlying handle for maintenance and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Archive("archive closed at %s", s.dbPath)
	return s.db.Close()
}

// isUniqueViolation reports whether the driver error is a UNIQUE or
// PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
