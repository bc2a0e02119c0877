package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var csvHeader = []string{
	"run_version", "user_name", "block_name", "dk_ver_tag", "archive_timestamp",
	"job_name", "task_name", "keyword_name", "keyword_value", "keyword_unit", "source_file",
}

// ExportCSV writes one row per (execution, group, step, metric) for the
// latest entry of every execution and returns the number of data rows.
func (s *ArchiveStore) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	s.mu.RLock()
	rows, err := s.keywordRows(ctx, "", true)
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	recordCount := 0
	for _, r := range rows {
		row := []string{
			r.RunVersion,
			r.User,
			r.Block,
			r.DKVerTag,
			formatTime(r.ArchivedAt),
			r.Group,
			r.Step,
			r.Keyword,
			r.Value,
			r.Unit,
			r.SourceFile,
		}
		if err := writer.Write(row); err != nil {
			return recordCount, fmt.Errorf("failed to write row: %w", err)
		}
		recordCount++
	}
	writer.Flush()
	return recordCount, writer.Error()
}

// ExportCSVFile writes ExportCSV output to path, creating parent
// directories as needed.
func (s *ArchiveStore) ExportCSVFile(ctx context.Context, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := s.ExportCSV(ctx, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return n, err
}
