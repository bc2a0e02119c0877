package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/pkg/utils"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// IndexFileName is the sqlite index kept next to the data directory.
const IndexFileName = "hawkeye_archive.db"

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when an entry or its data file does not exist.
var ErrNotFound = errors.New("archive entry not found")

var (
	// entriesAdded counts executions written to the archive
	entriesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hawkeye_archive_entries_added_total",
		Help: "Total executions added to the archive",
	})

	// retriesTotal counts busy/locked retries by operation
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hawkeye_archive_retries_total",
		Help: "Total archive index retries after lock contention",
	}, []string{"op"})

	// recoveriesTotal counts corrupted index rebuilds
	recoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hawkeye_archive_index_recoveries_total",
		Help: "Total rebuilds of a corrupted archive index",
	})
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS archive_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_version TEXT NOT NULL,
		base_dir TEXT NOT NULL,
		top_name TEXT NOT NULL,
		user_name TEXT NOT NULL,
		block_name TEXT NOT NULL,
		dk_ver_tag TEXT NOT NULL,
		full_path TEXT NOT NULL,
		archive_timestamp TEXT NOT NULL,
		data_file TEXT NOT NULL,
		data_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		job_count INTEGER NOT NULL DEFAULT 0,
		task_count INTEGER NOT NULL DEFAULT 0,
		keyword_count INTEGER NOT NULL DEFAULT 0,
		completion_rate REAL NOT NULL DEFAULT 0
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_archive_identity ON archive_entries
		(run_version, base_dir, top_name, user_name, block_name, dk_ver_tag, archive_timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_archive_timestamp ON archive_entries (archive_timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_archive_data_file ON archive_entries (data_file);`,
	`CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		archive_entry_id INTEGER NOT NULL REFERENCES archive_entries(id) ON DELETE CASCADE,
		job_name TEXT NOT NULL,
		task_name TEXT NOT NULL,
		status TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_step_entry ON step_results (archive_entry_id);`,
	`CREATE TABLE IF NOT EXISTS keyword_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		step_result_id INTEGER NOT NULL REFERENCES step_results(id) ON DELETE CASCADE,
		keyword_name TEXT NOT NULL,
		keyword_value TEXT,
		keyword_unit TEXT,
		source_file TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_keyword_step ON keyword_results (step_result_id);`,
	`CREATE INDEX IF NOT EXISTS idx_keyword_name ON keyword_results (keyword_name);`,
}

// ArchiveStore persists analyzed executions as JSON documents plus a
// queryable sqlite index. The documents are the source of truth; the
// index can always be rebuilt from them.
type ArchiveStore struct {
	mu       sync.RWMutex // writers (Add, Repair, recovery) hold it exclusively
	dir      string
	files    *utils.OutputManager
	db       *sql.DB
	logger   *zap.Logger
	now      func() time.Time
	retry    model.RetryConfig
	debounce time.Duration
}

// Option configures an ArchiveStore.
type Option func(*ArchiveStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ArchiveStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for Add and Stats.
func WithClock(now func() time.Time) Option {
	return func(s *ArchiveStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetry sets the backoff used on a busy index.
func WithRetry(cfg model.RetryConfig) Option {
	return func(s *ArchiveStore) { s.retry = cfg }
}

// WithDebounce sets how long Watch waits for the data directory to settle.
func WithDebounce(d time.Duration) Option {
	return func(s *ArchiveStore) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Open opens or creates the archive rooted at dir. A corrupted index is set
// aside and rebuilt from the data files.
func Open(ctx context.Context, dir string, opts ...Option) (*ArchiveStore, error) {
	s := &ArchiveStore{
		dir:      dir,
		files:    utils.NewOutputManager(dir),
		logger:   zap.NewNop(),
		now:      time.Now,
		retry:    model.DefaultRetryConfig,
		debounce: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.files.EnsureOutputDirExists(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openIndex(ctx); err != nil {
		if !isCorruptError(err) {
			return nil, err
		}
		if _, err := s.recoverIndex(ctx, err); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("archive opened", zap.String("dir", dir))
	return s, nil
}

// Close releases the index.
func (s *ArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Dir returns the archive root.
func (s *ArchiveStore) Dir() string {
	return s.dir
}

func (s *ArchiveStore) indexPath() string {
	return filepath.Join(s.dir, IndexFileName)
}

func (s *ArchiveStore) openIndex(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.indexPath()+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open archive index: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}
	s.db = db
	return nil
}

// recoverIndex moves a corrupted index aside, creates a fresh one and
// reindexes every data file. Callers hold s.mu.
func (s *ArchiveStore) recoverIndex(ctx context.Context, cause error) (*model.RepairResult, error) {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	path := s.indexPath()
	moved := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
	if err := os.Rename(path, moved); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to set aside corrupted index: %w", err)
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
	recoveriesTotal.Inc()
	s.logger.Warn("archive index corrupted, rebuilding",
		zap.String("moved_to", moved), zap.Error(cause))

	if err := s.openIndex(ctx); err != nil {
		return nil, err
	}
	res, err := s.repairLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild archive index: %w", err)
	}
	s.logger.Info("archive index rebuilt",
		zap.Int("scanned", res.Scanned), zap.Int("indexed", res.Indexed), zap.Int("failed", len(res.Failed)))
	return res, nil
}

// withRecovery retries fn on lock contention and, once, after rebuilding
// a corrupted index. Callers hold s.mu.
func (s *ArchiveStore) withRecovery(ctx context.Context, op string, fn func() error) error {
	err := withRetry(ctx, s.retry, s.logger, op, fn)
	if err == nil || !isCorruptError(err) {
		return err
	}
	if _, rerr := s.recoverIndex(ctx, err); rerr != nil {
		return rerr
	}
	return withRetry(ctx, s.retry, s.logger, op, fn)
}

func (s *ArchiveStore) handle() (*sql.DB, error) {
	if s.db == nil {
		return nil, errors.New("archive is closed")
	}
	return s.db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}
