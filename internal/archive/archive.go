package archive

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evolab/internal/logging"
)

// ArchivedFile is one preserved version of a file.
type ArchivedFile struct {
	FileID          string
	OriginalPath    string
	Content         string
	ContentHash     string
	ArchivedAt      string
	SizeBytes       int64
	FileType        string
	Reason          string
	Consciousness   float64
	Patterns        []string
	ProjectPhase    string
	RelatedFiles    []string
	ReplacementPath string
	Notes           string
}

// Metadata is the content-free view returned by Search.
type Metadata struct {
	FileID        string
	OriginalPath  string
	ArchivedAt    string
	FileType      string
	Reason        string
	Consciousness float64
	ProjectPhase  string
}

// Options carries the optional archival metadata.
type Options struct {
	Consciousness   float64
	Patterns        []string
	ProjectPhase    string
	RelatedFiles    []string
	ReplacementPath string
	Notes           string
}

// DefaultOptions returns the baseline metadata for an archival.
func DefaultOptions() Options {
	return Options{Consciousness: 0.5}
}

// hashPrefix returns the first 16 hex digits of sha256(data).
func hashPrefix(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// ArchiveFile reads the file at path and inserts it as a new version.
// The source file is never modified or removed. The insert is a plain
// INSERT: an id collision surfaces as ErrUniqueViolation instead of
// silently replacing history.
func (s *Store) ArchiveFile(path, reason string, opts Options) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return s.ArchiveContent(path, string(content), reason, opts)
}

// ArchiveContent archives in-memory content under the given path.
func (s *Store) ArchiveContent(path, content, reason string, opts Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryArchive, "archive "+filepath.Base(path))
	defer timer.Stop()

	ts := s.nextTimestamp()
	fileID := hashPrefix(path + "_" + ts)
	contentHash := hashPrefix(content)

	patterns, err := json.Marshal(opts.Patterns)
	if err != nil {
		return "", fmt.Errorf("encode patterns: %w", err)
	}
	var related []byte
	if len(opts.RelatedFiles) > 0 {
		related, err = json.Marshal(opts.RelatedFiles)
		if err != nil {
			return "", fmt.Errorf("encode related files: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO archived_files (
			file_id, original_path, content, content_hash, archived_timestamp,
			file_size_bytes, file_type, archival_reason, consciousness_level,
			ainlp_patterns, project_phase, related_files, replacement_path, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileID, path, content, contentHash, ts,
		len(content), filepath.Ext(path), reason, opts.Consciousness,
		string(patterns), nullable(opts.ProjectPhase), nullableBytes(related),
		nullable(opts.ReplacementPath), nullable(opts.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			logging.ArchiveError("id collision archiving %s at %s", path, ts)
			return "", fmt.Errorf("%w: %s at %s", ErrUniqueViolation, path, ts)
		}
		return "", fmt.Errorf("insert archived file: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO evolution_history (file_id, timestamp, change_type, change_description, consciousness_delta)
		VALUES (?, ?, 'archived', ?, ?)`,
		fileID, ts, "Archived: "+reason, opts.Consciousness)
	if err != nil {
		return "", fmt.Errorf("insert evolution history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit archive: %w", err)
	}

	logging.Archive("archived %s as %s (%d bytes)", path, fileID, len(content))
	logging.Audit().ArchiveOp("archive", fileID, true, "")
	return fileID, nil
}

// Lookup identifies a retrieval target. Exactly one field may be set.
type Lookup struct {
	FileID       string
	OriginalPath string
}

// RetrieveFile fetches one archived version. A path lookup returns
// the most recent version. The retrieval is logged best-effort: a log
// failure never masks a successful read.
func (s *Store) RetrieveFile(l Lookup, retrievalReason string) (*ArchivedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if (l.FileID == "") == (l.OriginalPath == "") {
		return nil, ErrBadLookup
	}

	var row *sql.Row
	if l.FileID != "" {
		row = s.db.QueryRow(selectArchived+" WHERE file_id = ?", l.FileID)
	} else {
		row = s.db.QueryRow(selectArchived+" WHERE original_path = ? ORDER BY archived_timestamp DESC LIMIT 1", l.OriginalPath)
	}

	af, err := scanArchived(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve archived file: %w", err)
	}

	s.logRetrieval(af.FileID, retrievalReason)
	logging.Archive("retrieved %s (%s)", af.OriginalPath, af.FileID)
	logging.Audit().ArchiveOp("retrieve", af.FileID, true, "")
	return af, nil
}

// AllVersions returns every archived version of a path in
// chronological order. When a retrieval reason is given, one log row
// is written per returned version.
func (s *Store) AllVersions(originalPath, retrievalReason string) ([]*ArchivedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(selectArchived+" WHERE original_path = ? ORDER BY archived_timestamp ASC", originalPath)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*ArchivedFile
	for rows.Next() {
		af, err := scanArchived(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, af)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	if retrievalReason != "" {
		for _, v := range versions {
			s.logRetrieval(v.FileID, retrievalReason)
		}
	}

	return versions, nil
}

// SearchFilter narrows a metadata search. Zero values mean no filter.
type SearchFilter struct {
	FileType         string
	Reason           string
	MinConsciousness float64
	Pattern          string
	ProjectPhase     string
	Limit            int
}

// Search returns metadata for matching rows, newest first. Content is
// never included.
func (s *Store) Search(f SearchFilter) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT file_id, original_path, archived_timestamp, file_type, archival_reason,
		consciousness_level, COALESCE(project_phase, '') FROM archived_files WHERE 1=1`
	var args []interface{}

	if f.FileType != "" {
		query += " AND file_type = ?"
		args = append(args, f.FileType)
	}
	if f.Reason != "" {
		query += " AND archival_reason LIKE ?"
		args = append(args, "%"+f.Reason+"%")
	}
	if f.MinConsciousness > 0 {
		query += " AND consciousness_level >= ?"
		args = append(args, f.MinConsciousness)
	}
	if f.Pattern != "" {
		query += " AND ainlp_patterns LIKE ?"
		args = append(args, "%"+f.Pattern+"%")
	}
	if f.ProjectPhase != "" {
		query += " AND project_phase = ?"
		args = append(args, f.ProjectPhase)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY archived_timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()

	var results []Metadata
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.FileID, &m.OriginalPath, &m.ArchivedAt, &m.FileType, &m.Reason, &m.Consciousness, &m.ProjectPhase); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// RetrievalCount pairs a path with how often it was retrieved.
type RetrievalCount struct {
	Path  string
	Count int
}

// Statistics summarizes the archive.
type Statistics struct {
	TotalFiles       int
	TotalBytes       int64
	ByFileType       map[string]int
	ByReason         map[string]int
	AvgConsciousness float64
	Earliest         string
	Latest           string
	MostRetrieved    []RetrievalCount
}

// GetStatistics computes archive-wide aggregates.
func (s *Store) GetStatistics() (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Statistics{
		ByFileType: make(map[string]int),
		ByReason:   make(map[string]int),
	}

	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size_bytes), 0), COALESCE(AVG(consciousness_level), 0),
		COALESCE(MIN(archived_timestamp), ''), COALESCE(MAX(archived_timestamp), '') FROM archived_files`).
		Scan(&stats.TotalFiles, &stats.TotalBytes, &stats.AvgConsciousness, &stats.Earliest, &stats.Latest)
	if err != nil {
		return nil, fmt.Errorf("archive totals: %w", err)
	}

	if err := s.groupCount("file_type", stats.ByFileType); err != nil {
		return nil, err
	}
	if err := s.groupCount("archival_reason", stats.ByReason); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT af.original_path, COUNT(rl.retrieval_id) AS n
		FROM archived_files af
		LEFT JOIN retrieval_log rl ON af.file_id = rl.file_id
		GROUP BY af.file_id
		ORDER BY n DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("most retrieved: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc RetrievalCount
		if err := rows.Scan(&rc.Path, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan retrieval count: %w", err)
		}
		stats.MostRetrieved = append(stats.MostRetrieved, rc)
	}
	return stats, rows.Err()
}

func (s *Store) groupCount(column string, out map[string]int) error {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM archived_files GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group row: %w", err)
		}
		out[key] = n
	}
	return rows.Err()
}

// VerifyReport is the result of an integrity sweep.
type VerifyReport struct {
	FilesChecked   int
	HashMismatches []string
	OrphanHistory  int
	Integrity      string
}

// OK reports whether the sweep found no defects.
func (r *VerifyReport) OK() bool {
	return len(r.HashMismatches) == 0 && r.OrphanHistory == 0 && r.Integrity == "ok"
}

// Verify recomputes every content hash, checks referential integrity
// of evolution history and runs SQLite's own integrity check. The
// store is left unchanged.
func (s *Store) Verify() (*VerifyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryArchive, "verify archive")
	defer timer.StopWithInfo()

	report := &VerifyReport{}

	rows, err := s.db.Query("SELECT file_id, content, content_hash FROM archived_files")
	if err != nil {
		return nil, fmt.Errorf("verify scan: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fileID, content, storedHash string
		if err := rows.Scan(&fileID, &content, &storedHash); err != nil {
			return nil, fmt.Errorf("scan verify row: %w", err)
		}
		report.FilesChecked++
		if hashPrefix(content) != storedHash {
			report.HashMismatches = append(report.HashMismatches, fileID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify scan: %w", err)
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM evolution_history
		WHERE file_id NOT IN (SELECT file_id FROM archived_files)`).Scan(&report.OrphanHistory)
	if err != nil {
		return nil, fmt.Errorf("orphan check: %w", err)
	}

	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&report.Integrity); err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}

	if !report.OK() {
		logging.ArchiveError("verify: %d hash mismatches, %d orphans, integrity=%s",
			len(report.HashMismatches), report.OrphanHistory, report.Integrity)
	} else {
		logging.Archive("verify: %d files clean", report.FilesChecked)
	}
	return report, nil
}

// Snapshot captures archive-wide state alongside an archival.
type Snapshot struct {
	FileID           string
	TotalFiles       int
	TotalLines       int
	AvgConsciousness float64
	ActivePatterns   []string
	SystemCoherence  float64
}

// RecordSnapshot stores a consciousness snapshot row.
func (s *Store) RecordSnapshot(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	patterns, err := json.Marshal(snap.ActivePatterns)
	if err != nil {
		return fmt.Errorf("encode snapshot patterns: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO consciousness_snapshots
		(file_id, timestamp, total_files_count, total_codebase_lines, avg_consciousness_level, active_ainlp_patterns, system_coherence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.FileID, time.Now().UTC().Format(timestampFormat),
		snap.TotalFiles, snap.TotalLines, snap.AvgConsciousness, string(patterns), snap.SystemCoherence)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// CatalogReason registers or bumps a reason in the archival_reasons
// catalog.
func (s *Store) CatalogReason(reasonID, category, description, principle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE archival_reasons SET usage_count = usage_count + 1 WHERE reason_id = ?", reasonID)
	if err != nil {
		return fmt.Errorf("bump reason: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.Exec(`INSERT INTO archival_reasons (reason_id, category, description, principle, usage_count)
		VALUES (?, ?, ?, ?, 1)`, reasonID, category, description, principle)
	if err != nil {
		return fmt.Errorf("insert reason: %w", err)
	}
	return nil
}

const selectArchived = `SELECT file_id, original_path, content, content_hash, archived_timestamp,
	file_size_bytes, file_type, archival_reason, consciousness_level,
	COALESCE(ainlp_patterns, ''), COALESCE(project_phase, ''), COALESCE(related_files, ''),
	COALESCE(replacement_path, ''), COALESCE(notes, '') FROM archived_files`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArchived(row rowScanner) (*ArchivedFile, error) {
	var af ArchivedFile
	var patterns, related string
	err := row.Scan(&af.FileID, &af.OriginalPath, &af.Content, &af.ContentHash, &af.ArchivedAt,
		&af.SizeBytes, &af.FileType, &af.Reason, &af.Consciousness,
		&patterns, &af.ProjectPhase, &related, &af.ReplacementPath, &af.Notes)
	if err != nil {
		return nil, err
	}
	if patterns != "" {
		if err := json.Unmarshal([]byte(patterns), &af.Patterns); err != nil {
			logging.ArchiveWarn("decode patterns for %s: %v", af.FileID, err)
		}
	}
	if related != "" {
		if err := json.Unmarshal([]byte(related), &af.RelatedFiles); err != nil {
			logging.ArchiveWarn("decode related files for %s: %v", af.FileID, err)
		}
	}
	return &af, nil
}

// logRetrieval appends a retrieval_log row. Best-effort: failures are
// logged and swallowed so a read never fails on bookkeeping.
func (s *Store) logRetrieval(fileID, reason string) {
	_, err := s.db.Exec(`INSERT INTO retrieval_log (file_id, retrieval_timestamp, retrieval_reason, retrieved_by)
		VALUES (?, ?, ?, 'system')`,
		fileID, time.Now().UTC().Format(timestampFormat), nullable(reason))
	if err != nil {
		logging.ArchiveWarn("log retrieval of %s: %v", fileID, err)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
