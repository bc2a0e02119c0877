package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const dataDirName = "data"

// OutputManager handles archive file organization and path management
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// DataDir is where execution documents are written.
func (om *OutputManager) DataDir() string {
	return filepath.Join(om.BaseOutputDir, dataDirName)
}

// EnsureOutputDirExists ensures the base and data directories exist
func (om *OutputManager) EnsureOutputDirExists() error {
	if err := os.MkdirAll(om.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	return nil
}

// DataFileName builds "<label>_<hash>.json" with path separators and
// spaces in label replaced.
func (om *OutputManager) DataFileName(label, hash string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, label)
	if clean == "" || clean == "." || clean == ".." {
		clean = "run"
	}
	return fmt.Sprintf("%s_%s.json", clean, hash)
}

// GetOutputFilePath returns the absolute path of a data file by name
func (om *OutputManager) GetOutputFilePath(fileName string) string {
	return filepath.Join(om.DataDir(), filepath.Base(fileName))
}

// WriteFile writes data atomically: a temp file in the data dir is renamed
// over the target.
func (om *OutputManager) WriteFile(fileName string, data []byte) (string, error) {
	if err := om.EnsureOutputDirExists(); err != nil {
		return "", err
	}
	target := om.GetOutputFilePath(fileName)
	tmp, err := os.CreateTemp(om.DataDir(), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into place: %w", fileName, err)
	}
	return target, nil
}

// ListDataFiles returns the names of all .json documents, sorted
func (om *OutputManager) ListDataFiles() ([]string, error) {
	entries, err := os.ReadDir(om.DataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsDataFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// IsDataFile reports whether name looks like an archived document.
func IsDataFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}

// GetFileSize returns the size of a file in bytes
func (om *OutputManager) GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// DirSize sums regular file sizes below the base directory
func (om *OutputManager) DirSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(om.BaseOutputDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
