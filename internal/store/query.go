package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"hawkeye-pipeline/internal/model"
)

const recentWindow = 7 * 24 * time.Hour

const maxKeywordSamples = 5

const entryColumns = `id, run_version, base_dir, top_name, user_name, block_name, dk_ver_tag, full_path,
	archive_timestamp, data_file, data_hash, file_size, job_count, task_count, keyword_count, completion_rate`

// Archived is an index entry together with its execution document.
type Archived struct {
	Entry     model.ArchiveEntry `json:"entry"`
	Execution *model.Execution   `json:"execution"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*model.ArchiveEntry, error) {
	var e model.ArchiveEntry
	var ts string
	err := r.Scan(&e.ID, &e.RunVersion, &e.BaseDir, &e.TopName, &e.User, &e.Block, &e.DKVerTag, &e.FullPath,
		&ts, &e.DataFile, &e.DataHash, &e.FileSize, &e.GroupCount, &e.StepCount, &e.KeywordCount, &e.CompletionRate)
	if err != nil {
		return nil, err
	}
	e.ArchivedAt = parseTime(ts)
	return &e, nil
}

// Stats summarises the archive contents.
func (s *ArchiveStore) Stats(ctx context.Context) (*model.ArchiveStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	st := &model.ArchiveStats{}
	var oldest, newest sql.NullString
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(task_count), 0), COALESCE(SUM(keyword_count), 0),
		COALESCE(AVG(completion_rate), 0), MIN(archive_timestamp), MAX(archive_timestamp)
		FROM archive_entries`).
		Scan(&st.TotalEntries, &st.TotalSteps, &st.TotalKeywords, &st.AverageCompletionRate, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive stats: %w", err)
	}
	if oldest.Valid {
		t := parseTime(oldest.String)
		st.Oldest = &t
	}
	if newest.Valid {
		t := parseTime(newest.String)
		st.Newest = &t
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT DISTINCT run_version, base_dir, top_name,
		user_name, block_name, dk_ver_tag FROM archive_entries)`).Scan(&st.UniqueExecutions)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_entries WHERE archive_timestamp >= ?`,
		formatTime(s.now().Add(-recentWindow))).Scan(&st.RecentEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent entries: %w", err)
	}

	if size, err := s.files.DirSize(); err == nil {
		st.ArchiveSizeBytes = size
		st.ArchiveSizeMB = float64(size) / (1024 * 1024)
	}
	return st, nil
}

// List returns the latest entry per identity key that matches f, newest
// first.
func (s *ArchiveStore) List(ctx context.Context, f model.ListFilter) ([]model.ArchiveEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	where, args := listConditions(f)
	query := `SELECT ` + entryColumns + ` FROM archive_entries WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY run_version, base_dir, top_name, user_name, block_name, dk_ver_tag
				ORDER BY archive_timestamp DESC, id DESC) AS rn
			FROM archive_entries` + where + `
		) WHERE rn = 1)
		ORDER BY archive_timestamp DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	defer rows.Close()

	entries := []model.ArchiveEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func listConditions(f model.ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.RunVersion != "" {
		conds = append(conds, "run_version LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.RunVersion)+"%")
	}
	if f.User != "" {
		conds = append(conds, "user_name = ?")
		args = append(args, f.User)
	}
	if f.BaseDir != "" {
		conds = append(conds, "base_dir = ?")
		args = append(args, f.BaseDir)
	}
	if !f.From.IsZero() {
		conds = append(conds, "archive_timestamp >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "archive_timestamp <= ?")
		args = append(args, formatTime(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Get loads an entry and its execution document.
func (s *ArchiveStore) Get(ctx context.Context, id int64) (*Archived, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.entryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.files.GetOutputFilePath(e.DataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: data file %s is missing", ErrNotFound, e.DataFile)
		}
		return nil, fmt.Errorf("failed to read %s: %w", e.DataFile, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", e.DataFile, err)
	}
	return &Archived{Entry: *e, Execution: rec.Execution}, nil
}

// entryByID reads one index row. Callers hold s.mu.
func (s *ArchiveStore) entryByID(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM archive_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %d: %w", id, err)
	}
	return e, nil
}

// decodeRecord accepts an archive document or a bare execution.
func decodeRecord(data []byte) (*model.ArchiveRecord, error) {
	var probe struct {
		ArchivedAt *time.Time      `json:"archive_timestamp"`
		Execution  json.RawMessage `json:"execution"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	rec := &model.ArchiveRecord{}
	if len(probe.Execution) > 0 && string(probe.Execution) != "null" {
		if err := json.Unmarshal(probe.Execution, &rec.Execution); err != nil {
			return nil, err
		}
		if probe.ArchivedAt != nil {
			rec.ArchivedAt = probe.ArchivedAt.UTC()
		}
	} else if err := json.Unmarshal(data, &rec.Execution); err != nil {
		return nil, err
	}
	if rec.Execution == nil || rec.Execution.RunVersion == "" {
		return nil, errors.New("document has no run version")
	}
	return rec, nil
}

// Keywords flattens every archived metric. An empty name returns all.
func (s *ArchiveStore) Keywords(ctx context.Context, name string) ([]model.KeywordRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywordRows(ctx, name, false)
}

func (s *ArchiveStore) keywordRows(ctx context.Context, name string, latestOnly bool) ([]model.KeywordRow, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	query := `SELECT e.id, e.run_version, e.user_name, e.block_name, e.dk_ver_tag, e.archive_timestamp,
		s.job_name, s.task_name, k.keyword_name, COALESCE(k.keyword_value, ''),
		COALESCE(k.keyword_unit, ''), COALESCE(k.source_file, '')
		FROM keyword_results k
		JOIN step_results s ON s.id = k.step_result_id
		JOIN archive_entries e ON e.id = s.archive_entry_id`
	var conds []string
	var args []any
	if name != "" {
		conds = append(conds, "k.keyword_name = ?")
		args = append(args, name)
	}
	if latestOnly {
		conds = append(conds, `e.id IN (SELECT id FROM (SELECT id, ROW_NUMBER() OVER (
			PARTITION BY run_version, base_dir, top_name, user_name, block_name, dk_ver_tag
			ORDER BY archive_timestamp DESC, id DESC) AS rn FROM archive_entries) WHERE rn = 1)`)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY e.archive_timestamp DESC, e.id DESC, s.id, k.keyword_name"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	out := []model.KeywordRow{}
	for rows.Next() {
		var r model.KeywordRow
		var ts string
		if err := rows.Scan(&r.EntryID, &r.RunVersion, &r.User, &r.Block, &r.DKVerTag, &ts,
			&r.Group, &r.Step, &r.Keyword, &r.Value, &r.Unit, &r.SourceFile); err != nil {
			return nil, err
		}
		r.ArchivedAt = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// KeywordSummary groups archived metrics by name, most frequent first.
// Runs are identified by their run version label.
func (s *ArchiveStore) KeywordSummary(ctx context.Context) ([]model.KeywordSummary, error) {
	rows, err := s.Keywords(ctx, "")
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum                model.KeywordSummary
		steps, runs, units map[string]bool
	}
	byName := make(map[string]*acc)
	for _, r := range rows {
		a, ok := byName[r.Keyword]
		if !ok {
			a = &acc{
				sum:   model.KeywordSummary{Name: r.Keyword},
				steps: map[string]bool{}, runs: map[string]bool{}, units: map[string]bool{},
			}
			byName[r.Keyword] = a
		}
		a.sum.Count++
		addUnique(&a.sum.Steps, a.steps, r.Step)
		addUnique(&a.sum.Runs, a.runs, r.RunVersion)
		addUnique(&a.sum.Units, a.units, r.Unit)
		// samples are the first raw values seen, newest entry first
		if r.Value != "" && len(a.sum.Samples) < maxKeywordSamples {
			a.sum.Samples = append(a.sum.Samples, r.Value)
		}
	}

	out := make([]model.KeywordSummary, 0, len(byName))
	for _, a := range byName {
		sort.Strings(a.sum.Steps)
		sort.Strings(a.sum.Runs)
		sort.Strings(a.sum.Units)
		out = append(out, a.sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func addUnique(list *[]string, seen map[string]bool, v string) {
	if v == "" || seen[v] {
		return
	}
	seen[v] = true
	*list = append(*list, v)
}
