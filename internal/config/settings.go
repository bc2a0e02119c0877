package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Settings are the runtime knobs of the CLI and API server. They come from
// the environment and are overridden by command-line flags.
type Settings struct {
	WorkspaceBase string
	ProjectName   string
	ConfigPath    string
	ArchiveDir    string
	Workers       int
	LogLevel      string
	Listen        string
	WatchArchive  bool
}

// DefaultSettings returns settings with built-in defaults.
func DefaultSettings() Settings {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return Settings{
		ConfigPath:   "hawkeye.yaml",
		ArchiveDir:   "hawkeye_archive",
		Workers:      workers,
		LogLevel:     "info",
		Listen:       ":8080",
		WatchArchive: true,
	}
}

// SettingsFromEnv applies environment overrides on top of the defaults.
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	s.applyEnv()
	return s
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("casino_prj_base"); v != "" {
		s.WorkspaceBase = v
	}
	if v := os.Getenv("casino_prj_name"); v != "" {
		s.ProjectName = v
	}
	if v := os.Getenv("HAWKEYE_CONFIG"); v != "" {
		s.ConfigPath = v
	}
	if v := os.Getenv("HAWKEYE_ARCHIVE_DIR"); v != "" {
		s.ArchiveDir = v
	}
	if v := os.Getenv("HAWKEYE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Workers = n
		}
	}
	if v := os.Getenv("HAWKEYE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("HAWKEYE_LISTEN"); v != "" {
		s.Listen = v
	}
}

// Validate rejects settings that cannot drive an analysis.
func (s Settings) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, s.Workers)
	}
	if s.ArchiveDir == "" {
		return fmt.Errorf("%w: archive directory is required", ErrInvalid)
	}
	return nil
}

// ProjectRoot is the directory discovery walks.
func (s Settings) ProjectRoot() string {
	return filepath.Join(s.WorkspaceBase, s.ProjectName)
}
