package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

// Repair indexes data files the index does not reference yet. It never
// deletes anything and is safe to run repeatedly.
func (s *ArchiveStore) Repair(ctx context.Context) (*model.RepairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.repairLocked(ctx)
	if err != nil {
		if !isCorruptError(err) {
			return nil, err
		}
		return s.recoverIndex(ctx, err)
	}
	return res, nil
}

func (s *ArchiveStore) repairLocked(ctx context.Context) (*model.RepairResult, error) {
	names, err := s.files.ListDataFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list archive data: %w", err)
	}
	known, err := s.indexedFiles(ctx)
	if err != nil {
		return nil, err
	}

	res := &model.RepairResult{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		if known[name] {
			continue
		}
		indexed, err := s.indexFile(ctx, name)
		if err != nil {
			if isCorruptError(err) {
				return res, err
			}
			s.logger.Warn("could not index archive file", zap.String("file", name), zap.Error(err))
			res.Failed = append(res.Failed, name)
			continue
		}
		if indexed {
			res.Indexed++
		}
	}
	if res.Indexed > 0 || len(res.Failed) > 0 {
		s.logger.Info("archive repaired",
			zap.Int("scanned", res.Scanned), zap.Int("indexed", res.Indexed), zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}

func (s *ArchiveStore) indexedFiles(ctx context.Context) (map[string]bool, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT data_file FROM archive_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexed files: %w", err)
	}
	defer rows.Close()
	known := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		known[name] = true
	}
	return known, rows.Err()
}

// indexFile adds one orphaned document. Bare executions without an
// archive timestamp use the file's modification time.
func (s *ArchiveStore) indexFile(ctx context.Context, name string) (bool, error) {
	path := s.files.GetOutputFilePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return false, err
	}
	ts := rec.ArchivedAt
	if ts.IsZero() {
		info, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		ts = info.ModTime().UTC()
	}

	sum := sha256.Sum256(data)
	entry := newEntry(rec.Execution, ts, name, hex.EncodeToString(sum[:]), int64(len(data)))
	var inserted bool
	err = withRetry(ctx, s.retry, s.logger, "repair", func() error {
		var err error
		inserted, err = s.insert(ctx, entry, rec.Execution, nil)
		return err
	})
	return inserted, err
}
