package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hawkeye-pipeline/internal/catalog"
	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	stats    *model.ArchiveStats
	entries  []model.ArchiveEntry
	runs     map[int64]*store.Archived
	rows     []model.KeywordRow
	summary  []model.KeywordSummary
	repaired *model.RepairResult
	err      error

	gotFilter  model.ListFilter
	gotKeyword string
}

func (f *fakeArchive) Stats(context.Context) (*model.ArchiveStats, error) { return f.stats, f.err }

func (f *fakeArchive) List(_ context.Context, filter model.ListFilter) ([]model.ArchiveEntry, error) {
	f.gotFilter = filter
	return f.entries, f.err
}

func (f *fakeArchive) Get(_ context.Context, id int64) (*store.Archived, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeArchive) Keywords(_ context.Context, name string) ([]model.KeywordRow, error) {
	f.gotKeyword = name
	return f.rows, f.err
}

func (f *fakeArchive) KeywordSummary(context.Context) ([]model.KeywordSummary, error) {
	return f.summary, f.err
}

func (f *fakeArchive) ExportCSV(_ context.Context, w io.Writer) (int, error) {
	_, err := io.WriteString(w, "run_version\nv1\n")
	return 1, err
}

func (f *fakeArchive) Repair(context.Context) (*model.RepairResult, error) {
	return f.repaired, f.err
}

const handlerConfig = `
tasks:
  place:
    log_files: [logs/place.log]
    keywords:
      - {name: wns, pattern: 'WNS\s+(\S+)', type: number, group: timing}
      - {name: error_count, pattern: '^ERROR', type: count, group: err/warn}
jobs:
  apr:
    tasks: [place]
`

func sampleRun() *store.Archived {
	exec := &model.Execution{
		RunVersion: "v1",
		GroupOrder: []string{"apr"},
		Groups: map[string]*model.Group{
			"apr": {
				Name:      "apr",
				StepOrder: []string{"place", "route"},
				Steps: map[string]*model.Step{
					"place": {Name: "place", Metrics: map[string]model.MetricValue{
						"wns":         model.NumberValue(-0.5, "ns", ""),
						"error_count": model.NumberValue(3, "", ""),
						"cell_count":  model.NumberValue(1200, "", ""),
					}},
					"route": {Name: "route", Metrics: map[string]model.MetricValue{
						"wns": model.NumberValue(-1.2, "ns", ""),
					}},
				},
			},
		},
	}
	return &store.Archived{Entry: model.ArchiveEntry{ID: 7, IdentityKey: model.IdentityKey{RunVersion: "v1"}}, Execution: exec}
}

func newTestHandler(t *testing.T, archive Archive) *ArchiveHandler {
	t.Helper()
	cfg, err := config.Parse([]byte(handlerConfig))
	require.NoError(t, err)
	h := NewArchiveHandler(archive, catalog.New(cfg), nil)
	h.now = func() time.Time { return time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC) }
	return h
}

func serve(fn http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetStatistics(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{stats: &model.ArchiveStats{TotalEntries: 4, UniqueExecutions: 3}})

	rec := serve(h.GetStatistics, http.MethodGet, "/api/v1/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got model.ArchiveStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.TotalEntries)
	assert.Equal(t, 3, got.UniqueExecutions)
}

func TestGetStatisticsError(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{err: errors.New("disk gone")})
	rec := serve(h.GetStatistics, http.MethodGet, "/api/v1/statistics")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListRunsFilter(t *testing.T) {
	fake := &fakeArchive{}
	h := newTestHandler(t, fake)

	rec := serve(h.ListRuns, http.MethodGet, "/api/v1/runs?run_version=v1&user=alice&base_dir=prjs&date_from=2024-05-01&date_to=2024-05-10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	want := model.ListFilter{
		RunVersion: "v1",
		User:       "alice",
		BaseDir:    "prjs",
		From:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 5, 10, 23, 59, 59, 999999999, time.UTC),
	}
	if diff := cmp.Diff(want, fake.gotFilter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestListRunsBadDate(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{})
	rec := serve(h.ListRuns, http.MethodGet, "/api/v1/runs?date_to=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{runs: map[int64]*store.Archived{7: sampleRun()}})

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/runs/7", http.StatusOK},
		{"/api/v1/runs/8", http.StatusNotFound},
		{"/api/v1/runs/abc", http.StatusBadRequest},
		{"/api/v1/runs/-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(h.GetRun, http.MethodGet, tt.path)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := serve(h.GetRun, http.MethodGet, "/api/v1/runs/7")
	var got store.Archived
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(7), got.Entry.ID)
	assert.Equal(t, "v1", got.Execution.RunVersion)
}

func TestGetRunKeywordsGrouped(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{runs: map[int64]*store.Archived{7: sampleRun()}})

	rec := serve(h.GetRunKeywords, http.MethodGet, "/api/v1/runs/7/keywords")
	require.Equal(t, http.StatusOK, rec.Code)

	var got RunKeywords
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	want := RunKeywords{
		ID:         7,
		RunVersion: "v1",
		Groups: []RunKeywordGroup{
			{Name: "err/warn", Keywords: []RunKeyword{
				{Name: "error_count", Values: []KeywordCell{{Job: "apr", Task: "place", Value: "3"}}},
			}},
			{Name: "timing", Keywords: []RunKeyword{
				{Name: "wns", Values: []KeywordCell{
					{Job: "apr", Task: "place", Value: "-0.5", Unit: "ns"},
					{Job: "apr", Task: "route", Value: "-1.2", Unit: "ns"},
				}},
			}},
			{Name: catalog.OtherGroup, Keywords: []RunKeyword{
				{Name: "cell_count", Values: []KeywordCell{{Job: "apr", Task: "place", Value: "1200"}}},
			}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetRunKeywords mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRunKeywordsNotFound(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{})
	rec := serve(h.GetRunKeywords, http.MethodGet, "/api/v1/runs/3/keywords")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListKeywords(t *testing.T) {
	fake := &fakeArchive{rows: []model.KeywordRow{{EntryID: 1, Keyword: "wns", Value: "-0.5"}}}
	h := newTestHandler(t, fake)

	rec := serve(h.ListKeywords, http.MethodGet, "/api/v1/keywords?name=wns")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wns", fake.gotKeyword)

	var got []model.KeywordRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "-0.5", got[0].Value)
}

func TestGetKeywordSummaryEmpty(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{})
	rec := serve(h.GetKeywordSummary, http.MethodGet, "/api/v1/keywords/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestExportCSV(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{})
	rec := serve(h.ExportCSV, http.MethodGet, "/api/v1/export/csv")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="hawkeye_export_20240510_093000.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "run_version\nv1\n", rec.Body.String())
}

func TestRepair(t *testing.T) {
	h := newTestHandler(t, &fakeArchive{
		repaired: &model.RepairResult{Scanned: 3, Indexed: 1},
		stats:    &model.ArchiveStats{TotalEntries: 3},
	})

	rec := serve(h.Repair, http.MethodPost, "/api/v1/repair")
	require.Equal(t, http.StatusOK, rec.Code)

	var got RepairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Repair.Indexed)
	assert.Equal(t, 3, got.Statistics.TotalEntries)
}
