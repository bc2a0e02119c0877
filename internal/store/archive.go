package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

// Add archives exec at the store's current time.
func (s *ArchiveStore) Add(ctx context.Context, exec *model.Execution) (*model.ArchiveEntry, error) {
	return s.AddAt(ctx, exec, s.now())
}

// AddAt archives exec with an explicit timestamp. Adding the same identity
// key at the same timestamp again returns the existing entry unchanged.
func (s *ArchiveStore) AddAt(ctx context.Context, exec *model.Execution, ts time.Time) (*model.ArchiveEntry, error) {
	if exec == nil {
		return nil, errors.New("archive: nil execution")
	}
	ts = ts.UTC()

	data, err := json.MarshalIndent(model.ArchiveRecord{ArchivedAt: ts, Execution: exec}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution %s: %w", exec.RunVersion, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	entry := newEntry(exec, ts, s.files.DataFileName(exec.RunVersion, hash[:8]), hash, int64(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted bool
	err = s.withRecovery(ctx, "add", func() error {
		var err error
		inserted, err = s.insert(ctx, entry, exec, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", exec.RunVersion, err)
	}
	if !inserted {
		s.logger.Debug("execution already archived at this timestamp",
			zap.String("run", exec.RunVersion), zap.Int64("id", entry.ID))
		return s.entryByID(ctx, entry.ID)
	}

	entriesAdded.Inc()
	s.logger.Info("execution archived",
		zap.String("run", exec.RunVersion),
		zap.Int64("id", entry.ID),
		zap.String("file", entry.DataFile),
		zap.Int("keywords", entry.KeywordCount))
	return entry, nil
}

func newEntry(exec *model.Execution, ts time.Time, file, hash string, size int64) *model.ArchiveEntry {
	e := &model.ArchiveEntry{
		IdentityKey: exec.Key(),
		FullPath:    exec.Path,
		ArchivedAt:  ts,
		DataFile:    file,
		DataHash:    hash,
		FileSize:    size,
		GroupCount:  len(exec.Groups),
	}
	for _, g := range exec.Groups {
		e.StepCount += len(g.Steps)
		for _, st := range g.Steps {
			e.KeywordCount += len(st.Metrics)
		}
	}
	if exec.RunSummary != nil {
		e.CompletionRate = exec.RunSummary.CompletionRate
	}
	return e
}

// insert indexes one execution in a single transaction. When data is
// non-nil the document is written first; Repair passes nil because the
// file already exists. It reports false when the identity key and
// timestamp were already present, with entry.ID set to that row.
func (s *ArchiveStore) insert(ctx context.Context, entry *model.ArchiveEntry, exec *model.Execution, data []byte) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	k := entry.IdentityKey
	ts := formatTime(entry.ArchivedAt)
	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM archive_entries
		WHERE run_version = ? AND base_dir = ? AND top_name = ? AND user_name = ?
		AND block_name = ? AND dk_ver_tag = ? AND archive_timestamp = ?`,
		k.RunVersion, k.BaseDir, k.TopName, k.User, k.Block, k.DKVerTag, ts).Scan(&existing)
	switch {
	case err == nil:
		entry.ID = existing
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	var written string
	if data != nil {
		if written, err = s.files.WriteFile(entry.DataFile, data); err != nil {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO archive_entries
		(run_version, base_dir, top_name, user_name, block_name, dk_ver_tag, full_path,
		 archive_timestamp, data_file, data_hash, file_size, job_count, task_count, keyword_count, completion_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.RunVersion, k.BaseDir, k.TopName, k.User, k.Block, k.DKVerTag, entry.FullPath,
		ts, entry.DataFile, entry.DataHash, entry.FileSize,
		entry.GroupCount, entry.StepCount, entry.KeywordCount, entry.CompletionRate)
	if err != nil {
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}

	if err := insertResults(ctx, tx, id, exec); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if written != "" {
			os.Remove(written)
		}
		return false, err
	}
	entry.ID = id
	return true, nil
}

func insertResults(ctx context.Context, tx *sql.Tx, entryID int64, exec *model.Execution) error {
	stepStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO step_results (archive_entry_id, job_name, task_name, status) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stepStmt.Close()
	kwStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO keyword_results (step_result_id, keyword_name, keyword_value, keyword_unit, source_file)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer kwStmt.Close()

	for _, g := range exec.OrderedGroups() {
		for _, st := range g.OrderedSteps() {
			res, err := stepStmt.ExecContext(ctx, entryID, g.Name, st.Name, st.Status)
			if err != nil {
				return err
			}
			stepID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(st.Metrics) {
				v := st.Metrics[name]
				if _, err := kwStmt.ExecContext(ctx, stepID, name, v.String(), v.Unit, v.SourceFile); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
