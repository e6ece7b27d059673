package paradigm

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"evolab/internal/logging"
)

// DefaultMaxFiles caps the scan when no limit is configured.
const DefaultMaxFiles = 50

// snippetMax is the length ceiling for example snippets.
const snippetMax = 200

// skipDirs are directory names never descended into during a scan.
var skipDirs = map[string]bool{
	"__pycache__":  true,
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"build":        true,
	"dist":         true,
}

// Extractor scans Python files for paradigms. Unreadable files are
// skipped; extraction never fails outright.
type Extractor struct {
	maxFiles int
}

// NewExtractor creates an extractor scanning at most maxFiles files.
// Zero or negative means DefaultMaxFiles.
func NewExtractor(maxFiles int) *Extractor {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Extractor{maxFiles: maxFiles}
}

// Scan walks the given paths (files or directories), observes up to
// the configured file limit, and returns the paradigms found plus the
// list of files actually read. An empty file list with no error means
// the caller should treat the scan as empty.
func (e *Extractor) Scan(paths []string) (map[Category]*Paradigm, []string, error) {
	timer := logging.StartTimer(logging.CategoryParadigm, "paradigm scan")
	defer timer.StopWithInfo()

	paradigms := make(map[Category]*Paradigm)
	var scanned []string

	for _, path := range paths {
		if len(scanned) >= e.maxFiles {
			break
		}

		info, err := os.Stat(path)
		if err != nil {
			logging.ParadigmDebug("skipping %s: %v", path, err)
			continue
		}

		if !info.IsDir() {
			if strings.HasSuffix(path, ".py") && e.observeFile(path, paradigms) {
				scanned = append(scanned, path)
			}
			continue
		}

		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if len(scanned) >= e.maxFiles {
				return filepath.SkipAll
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(p, ".py") && e.observeFile(p, paradigms) {
				scanned = append(scanned, p)
			}
			return nil
		})
	}

	logging.Paradigm("scanned %d files, found %d paradigm categories", len(scanned), len(paradigms))
	return paradigms, scanned, nil
}

// observeFile reads one file and accumulates matches into paradigms.
// Returns false if the file could not be read.
func (e *Extractor) observeFile(path string, paradigms map[Category]*Paradigm) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.ParadigmDebug("unreadable %s: %v", path, err)
		return false
	}
	content := normalize(string(data))

	for cat, re := range compiled {
		matches := re.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}

		p, ok := paradigms[cat]
		if !ok {
			p = &Paradigm{
				Category: cat,
				Pattern:  patterns[cat],
				Weight:   weights[cat],
			}
			paradigms[cat] = p
		}
		p.Frequency += len(matches)

		// Keep the first 5 short, unique snippets per file
		limit := 5
		if len(matches) < limit {
			limit = len(matches)
		}
		for _, m := range matches[:limit] {
			start := m[0] - 20
			if start < 0 {
				start = 0
			}
			end := m[1] + 80
			if end > len(content) {
				end = len(content)
			}
			snippet := strings.Join(strings.Fields(content[start:end]), " ")
			if len(snippet) < snippetMax && !containsString(p.Examples, snippet) && len(p.Examples) < 5 {
				p.Examples = append(p.Examples, snippet)
			}
		}
	}
	return true
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
