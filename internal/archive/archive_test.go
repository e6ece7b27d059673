package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestArchiveAndRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "greeting.py", "hello\n")

	fileID, err := s.ArchiveFile(path, "test", DefaultOptions())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), fileID)

	af, err := s.RetrieveFile(Lookup{FileID: fileID}, "")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", af.Content)
	assert.Equal(t, path, af.OriginalPath)
	assert.Equal(t, int64(6), af.SizeBytes)
	assert.Equal(t, ".py", af.FileType)
	assert.Equal(t, "test", af.Reason)
	assert.Equal(t, 0.5, af.Consciousness)

	sum := sha256.Sum256([]byte("hello\n"))
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], af.ContentHash)

	stats, err := s.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(6), stats.TotalBytes)
}

func TestArchiveMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ArchiveFile(filepath.Join(t.TempDir(), "absent.py"), "test", DefaultOptions())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestVersionsChronological(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "versioned.py", "v1 content\n")

	id1, err := s.ArchiveFile(path, "v1", DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("v2 content\n"), 0o644))
	id2, err := s.ArchiveFile(path, "v2", DefaultOptions())
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	versions, err := s.AllVersions(path, "")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].Reason)
	assert.Equal(t, "v2", versions[1].Reason)
	assert.Less(t, versions[0].ArchivedAt, versions[1].ArchivedAt)

	// A path lookup returns the newest version.
	latest, err := s.RetrieveFile(Lookup{OriginalPath: path}, "checking latest")
	require.NoError(t, err)
	assert.Equal(t, id2, latest.FileID)
	assert.Equal(t, "v2 content\n", latest.Content)
}

func TestManyVersionsDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "rapid.py", "content\n")

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := s.ArchiveFile(path, "rapid", DefaultOptions())
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate file_id %s", id)
		seen[id] = true
	}

	versions, err := s.AllVersions(path, "")
	require.NoError(t, err)
	assert.Len(t, versions, 20)
	for i := 1; i < len(versions); i++ {
		assert.Less(t, versions[i-1].ArchivedAt, versions[i].ArchivedAt)
	}
}

func TestRetrieveLookupValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RetrieveFile(Lookup{}, "")
	assert.ErrorIs(t, err, ErrBadLookup)

	_, err = s.RetrieveFile(Lookup{FileID: "abc", OriginalPath: "p"}, "")
	assert.ErrorIs(t, err, ErrBadLookup)

	_, err = s.RetrieveFile(Lookup{FileID: "0000000000000000"}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueViolationPropagates(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "dup.py", "content\n")

	id, err := s.ArchiveFile(path, "first", DefaultOptions())
	require.NoError(t, err)

	// Force a collision by replaying the same file_id.
	_, err = s.db.Exec(`INSERT INTO archived_files (
		file_id, original_path, content, content_hash, archived_timestamp,
		file_size_bytes, file_type, archival_reason) VALUES (?, 'x', 'c', 'h', 't', 1, '.py', 'r')`, id)
	assert.True(t, isUniqueViolation(err))
}

func TestSearchFilters(t *testing.T) {
	s := newTestStore(t)

	optsHigh := Options{Consciousness: 0.9, Patterns: []string{"dendritic"}, ProjectPhase: "phase-8"}
	_, err := s.ArchiveContent("a.py", "a", "obsolete_superseded", optsHigh)
	require.NoError(t, err)
	_, err = s.ArchiveContent("b.md", "b", "consolidated", Options{Consciousness: 0.3})
	require.NoError(t, err)

	byType, err := s.Search(SearchFilter{FileType: ".py"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "a.py", byType[0].OriginalPath)

	byReason, err := s.Search(SearchFilter{Reason: "superseded"})
	require.NoError(t, err)
	assert.Len(t, byReason, 1)

	byLevel, err := s.Search(SearchFilter{MinConsciousness: 0.5})
	require.NoError(t, err)
	assert.Len(t, byLevel, 1)

	byPattern, err := s.Search(SearchFilter{Pattern: "dendritic"})
	require.NoError(t, err)
	assert.Len(t, byPattern, 1)

	byPhase, err := s.Search(SearchFilter{ProjectPhase: "phase-8"})
	require.NoError(t, err)
	assert.Len(t, byPhase, 1)

	all, err := s.Search(SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStatisticsAggregates(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ArchiveContent("one.py", "aaaa", "cleanup", Options{Consciousness: 0.4})
	require.NoError(t, err)
	_, err = s.ArchiveContent("two.py", "bb", "cleanup", Options{Consciousness: 0.8})
	require.NoError(t, err)
	_, err = s.ArchiveContent("three.md", "c", "docs", Options{Consciousness: 0.6})
	require.NoError(t, err)

	// Retrieve one file twice so most_retrieved has a clear leader.
	_, err = s.RetrieveFile(Lookup{OriginalPath: "one.py"}, "check")
	require.NoError(t, err)
	_, err = s.RetrieveFile(Lookup{OriginalPath: "one.py"}, "check")
	require.NoError(t, err)

	stats, err := s.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, int64(7), stats.TotalBytes)
	assert.Equal(t, 2, stats.ByFileType[".py"])
	assert.Equal(t, 1, stats.ByFileType[".md"])
	assert.Equal(t, 2, stats.ByReason["cleanup"])
	assert.InDelta(t, 0.6, stats.AvgConsciousness, 1e-9)
	assert.NotEmpty(t, stats.Earliest)
	assert.LessOrEqual(t, stats.Earliest, stats.Latest)

	require.NotEmpty(t, stats.MostRetrieved)
	assert.Equal(t, "one.py", stats.MostRetrieved[0].Path)
	assert.Equal(t, 2, stats.MostRetrieved[0].Count)
}

func TestVerifyCleanStore(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"x.py", "y.py", "z.py"} {
		_, err := s.ArchiveContent(name, "content of "+name, "test", DefaultOptions())
		require.NoError(t, err)
	}

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.FilesChecked)
	assert.Empty(t, report.HashMismatches)
	assert.Zero(t, report.OrphanHistory)
	assert.Equal(t, "ok", report.Integrity)
}

func TestVerifyDetectsTamper(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "tamper.py", "hello\n")

	fileID, err := s.ArchiveFile(path, "test", DefaultOptions())
	require.NoError(t, err)

	_, err = s.db.Exec("UPDATE archived_files SET content = ? WHERE file_id = ?", "tampered\n", fileID)
	require.NoError(t, err)

	report, err := s.Verify()
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{fileID}, report.HashMismatches)
}

func TestVerifyDetectsOrphanHistory(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(`INSERT INTO evolution_history (file_id, timestamp, change_type) VALUES ('deadbeefdeadbeef', 't', 'archived')`)
	require.NoError(t, err)

	report, err := s.Verify()
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphanHistory)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)

	opts := Options{
		Consciousness:   0.75,
		Patterns:        []string{"biological_metabolism", "dendritic_optimization"},
		ProjectPhase:    "phase-8",
		RelatedFiles:    []string{"sibling.py"},
		ReplacementPath: "new/path.py",
		Notes:           "superseded by rewrite",
	}
	id, err := s.ArchiveContent("meta.py", "content", "superseded", opts)
	require.NoError(t, err)

	af, err := s.RetrieveFile(Lookup{FileID: id}, "")
	require.NoError(t, err)
	assert.Equal(t, opts.Patterns, af.Patterns)
	assert.Equal(t, "phase-8", af.ProjectPhase)
	assert.Equal(t, []string{"sibling.py"}, af.RelatedFiles)
	assert.Equal(t, "new/path.py", af.ReplacementPath)
	assert.Equal(t, "superseded by rewrite", af.Notes)
}

func TestCatalogReasonUsageCount(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CatalogReason("obsolete", "obsolete", "file no longer used", "metabolism"))
	require.NoError(t, s.CatalogReason("obsolete", "obsolete", "file no longer used", "metabolism"))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT usage_count FROM archival_reasons WHERE reason_id = 'obsolete'").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRecordSnapshot(t *testing.T) {
	s := newTestStore(t)

	id, err := s.ArchiveContent("snap.py", "content", "test", DefaultOptions())
	require.NoError(t, err)

	err = s.RecordSnapshot(Snapshot{
		FileID:           id,
		TotalFiles:       1,
		TotalLines:       10,
		AvgConsciousness: 0.5,
		ActivePatterns:   []string{"dendritic"},
		SystemCoherence:  0.8,
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM consciousness_snapshots WHERE file_id = ?", id).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestArchiveNeverDeletesSource(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "keep.py", "keep me\n")

	_, err := s.ArchiveFile(path, "test", DefaultOptions())
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(content))
}
