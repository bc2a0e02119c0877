package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"hawkeye-pipeline/internal/catalog"
	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/store"
	"hawkeye-pipeline/pkg/utils"

	"go.uber.org/zap"
)

// Archive is the part of the archive store the API reads from.
type Archive interface {
	Stats(ctx context.Context) (*model.ArchiveStats, error)
	List(ctx context.Context, f model.ListFilter) ([]model.ArchiveEntry, error)
	Get(ctx context.Context, id int64) (*store.Archived, error)
	Keywords(ctx context.Context, name string) ([]model.KeywordRow, error)
	KeywordSummary(ctx context.Context) ([]model.KeywordSummary, error)
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
	Repair(ctx context.Context) (*model.RepairResult, error)
}

// ArchiveHandler serves the archive query API.
type ArchiveHandler struct {
	archive Archive
	catalog *catalog.Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// NewArchiveHandler wires the handler to an archive and a keyword catalog.
func NewArchiveHandler(archive Archive, cat *catalog.Catalog, logger *zap.Logger) *ArchiveHandler {
	if cat == nil {
		cat = catalog.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{archive: archive, catalog: cat, logger: logger, now: time.Now}
}

// KeywordCell is one value of a metric inside a run.
type KeywordCell struct {
	Job   string `json:"job_name"`
	Task  string `json:"task_name"`
	Value string `json:"keyword_value"`
	Unit  string `json:"keyword_unit,omitempty"`
}

// RunKeyword is a metric name and its per-step values.
type RunKeyword struct {
	Name   string        `json:"keyword_name"`
	Values []KeywordCell `json:"values"`
}

// RunKeywordGroup is one catalog group of a run's metrics.
type RunKeywordGroup struct {
	Name     string       `json:"name"`
	Keywords []RunKeyword `json:"keywords"`
}

// RunKeywords is the grouped metric view of one archived run.
type RunKeywords struct {
	ID         int64             `json:"id"`
	RunVersion string            `json:"run_version"`
	Groups     []RunKeywordGroup `json:"groups"`
}

// RepairResponse reports a repair pass and the archive afterwards.
type RepairResponse struct {
	Repair     *model.RepairResult `json:"repair"`
	Statistics *model.ArchiveStats `json:"statistics"`
}

// GetStatistics returns archive statistics
// @Summary Archive statistics
// @Tags archive
// @Produce json
// @Success 200 {object} model.ArchiveStats
// @Failure 500 {string} string "Internal server error"
// @Router /statistics [get]
func (h *ArchiveHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.archive.Stats(r.Context())
	if err != nil {
		h.fail(w, "Failed to read statistics", err)
		return
	}
	writeJSON(w, stats)
}

// ListRuns lists the latest archived run per identity
// @Summary List archived runs
// @Tags archive
// @Produce json
// @Param run_version query string false "Run version substring"
// @Param user query string false "User name"
// @Param base_dir query string false "Workspace base directory"
// @Param date_from query string false "Earliest archive time"
// @Param date_to query string false "Latest archive time"
// @Success 200 {array} model.ArchiveEntry
// @Failure 400 {string} string "Invalid filter"
// @Router /runs [get]
func (h *ArchiveHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ListFilter{
		RunVersion: q.Get("run_version"),
		User:       q.Get("user"),
		BaseDir:    q.Get("base_dir"),
	}
	for _, p := range []struct {
		key   string
		dst   *time.Time
		parse func(string) (time.Time, bool)
	}{{"date_from", &filter.From, utils.ParseTime}, {"date_to", &filter.To, utils.ParseEndTime}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, ok := p.parse(v)
		if !ok {
			http.Error(w, fmt.Sprintf("Invalid %s", p.key), http.StatusBadRequest)
			return
		}
		*p.dst = t
	}

	entries, err := h.archive.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list runs", err)
		return
	}
	if entries == nil {
		entries = []model.ArchiveEntry{}
	}
	writeJSON(w, entries)
}

// GetRun returns one archived run with its execution tree
// @Summary Get an archived run
// @Tags archive
// @Produce json
// @Param id path int true "Archive entry ID"
// @Success 200 {object} store.Archived
// @Failure 400 {string} string "Invalid ID"
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id} [get]
func (h *ArchiveHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	archived, ok := h.lookup(w, r, "")
	if !ok {
		return
	}
	writeJSON(w, archived)
}

// GetRunKeywords returns a run's metrics grouped for display
// @Summary Grouped metrics of an archived run
// @Tags archive
// @Produce json
// @Param id path int true "Archive entry ID"
// @Success 200 {object} RunKeywords
// @Failure 400 {string} string "Invalid ID"
// @Failure 404 {string} string "Run not found"
// @Router /runs/{id}/keywords [get]
func (h *ArchiveHandler) GetRunKeywords(w http.ResponseWriter, r *http.Request) {
	archived, ok := h.lookup(w, r, "/keywords")
	if !ok {
		return
	}
	writeJSON(w, h.groupRun(archived))
}

// ListKeywords returns metric rows across the archive
// @Summary Metric rows across the archive
// @Tags keywords
// @Produce json
// @Param name query string false "Metric name"
// @Success 200 {array} model.KeywordRow
// @Router /keywords [get]
func (h *ArchiveHandler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	rows, err := h.archive.Keywords(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.fail(w, "Failed to read keywords", err)
		return
	}
	if rows == nil {
		rows = []model.KeywordRow{}
	}
	writeJSON(w, rows)
}

// GetKeywordSummary returns per-metric occurrence counts
// @Summary Per-metric occurrence summary
// @Tags keywords
// @Produce json
// @Success 200 {array} model.KeywordSummary
// @Router /keywords/summary [get]
func (h *ArchiveHandler) GetKeywordSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.archive.KeywordSummary(r.Context())
	if err != nil {
		h.fail(w, "Failed to summarize keywords", err)
		return
	}
	if summary == nil {
		summary = []model.KeywordSummary{}
	}
	writeJSON(w, summary)
}

// ExportCSV streams the latest runs as a CSV attachment
// @Summary Export the latest runs as CSV
// @Tags archive
// @Produce text/csv
// @Success 200 {file} file
// @Router /export/csv [get]
func (h *ArchiveHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("hawkeye_export_%s.csv", h.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	rows, err := h.archive.ExportCSV(r.Context(), w)
	if err != nil {
		// headers are gone once the first row is flushed
		h.logger.Error("csv export failed", zap.Int("rows", rows), zap.Error(err))
		return
	}
	h.logger.Debug("csv export", zap.Int("rows", rows))
}

// Repair indexes data files missing from the archive index
// @Summary Repair the archive index
// @Tags archive
// @Produce json
// @Success 200 {object} RepairResponse
// @Failure 500 {string} string "Internal server error"
// @Router /repair [post]
func (h *ArchiveHandler) Repair(w http.ResponseWriter, r *http.Request) {
	result, err := h.archive.Repair(r.Context())
	if err != nil {
		h.fail(w, "Failed to repair archive", err)
		return
	}
	stats, err := h.archive.Stats(r.Context())
	if err != nil {
		h.fail(w, "Failed to read statistics", err)
		return
	}
	writeJSON(w, RepairResponse{Repair: result, Statistics: stats})
}

// lookup resolves /api/v1/runs/{id}{suffix} to an archived run, writing the
// error response itself when it fails.
func (h *ArchiveHandler) lookup(w http.ResponseWriter, r *http.Request, suffix string) (*store.Archived, bool) {
	const prefix = "/api/v1/runs/"
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return nil, false
	}
	raw := strings.TrimSuffix(path[len(prefix):], suffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return nil, false
	}

	archived, err := h.archive.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.fail(w, "Failed to read run", err)
		return nil, false
	}
	return archived, true
}

func (h *ArchiveHandler) groupRun(a *store.Archived) RunKeywords {
	cells := make(map[string][]KeywordCell)
	var names []string
	if a.Execution != nil {
		for _, g := range a.Execution.OrderedGroups() {
			for _, s := range g.OrderedSteps() {
				for _, name := range sortedMetricNames(s.Metrics) {
					v := s.Metrics[name]
					if _, ok := cells[name]; !ok {
						names = append(names, name)
					}
					cells[name] = append(cells[name], KeywordCell{Job: g.Name, Task: s.Name, Value: v.String(), Unit: v.Unit})
				}
			}
		}
	}

	out := RunKeywords{ID: a.Entry.ID, RunVersion: a.Entry.RunVersion, Groups: []RunKeywordGroup{}}
	for _, kg := range h.catalog.GroupAndOrder(names) {
		group := RunKeywordGroup{Name: kg.Name, Keywords: make([]RunKeyword, 0, len(kg.Keywords))}
		for _, name := range kg.Keywords {
			group.Keywords = append(group.Keywords, RunKeyword{Name: name, Values: cells[name]})
		}
		out.Groups = append(out.Groups, group)
	}
	return out
}

func sortedMetricNames(m map[string]model.MetricValue) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ArchiveHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
