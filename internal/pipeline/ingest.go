package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ------------------- Report Ingestion -------------------

// readReport returns the text of a report file. Files ending in .gz are
// inflated on the fly; invalid UTF-8 is dropped.
func readReport(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("failed to open gzip report %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read report %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// resolveSource returns the first regular file matching pattern under dir.
// Plain paths are checked directly before falling back to glob expansion.
// Symlinked paths are returned unresolved so mode/corner directories keep
// their identity.
func resolveSource(dir, pattern string) (string, bool) {
	path := pattern
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, pattern)
	}
	if isRegularFile(path) {
		return path, true
	}
	if !hasGlobMeta(pattern) {
		return "", false
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if isRegularFile(m) {
			return m, true
		}
	}
	return "", false
}

// anySourceExists reports whether at least one pattern resolves under dir.
func anySourceExists(dir string, patterns []string) bool {
	for _, p := range patterns {
		if _, ok := resolveSource(dir, p); ok {
			return true
		}
	}
	return false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// reportCache keeps report text for the duration of one step so several
// keywords reading the same file only pay for it once.
type reportCache map[string]reportText

type reportText struct {
	text string
	err  error
}

func (c reportCache) read(path string) (string, error) {
	if r, ok := c[path]; ok {
		return r.text, r.err
	}
	text, err := readReport(path)
	c[path] = reportText{text: text, err: err}
	return text, err
}
