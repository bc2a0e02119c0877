package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/pipeline"
	"hawkeye-pipeline/pkg/utils"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 5, 10, 9, 30, 0, 123456789, time.UTC)

func sampleExecution(run, user string) *model.Execution {
	e := model.NewExecution(model.ExecutionRef{
		Path:       filepath.Join("/prjs/chip", "works_"+user, "cpu", "tag1", "runs", run),
		BaseDir:    "prjs",
		TopName:    "chip",
		User:       user,
		Block:      "cpu",
		DKVerTag:   "tag1",
		RunVersion: run,
	}, t0)
	e.Groups["apr"] = &model.Group{
		Name:      "apr",
		StepOrder: []string{"place", "route"},
		Complete:  true,
		Steps: map[string]*model.Step{
			"place": {Name: "place", Status: model.StatusSuccess, Metrics: map[string]model.MetricValue{
				"wns":  model.NumberValue(-0.5, "ns", "place.log"),
				"area": model.NumberValue(100, "um2", ""),
			}},
			"route": {Name: "route", Status: model.StatusUnknown, Metrics: map[string]model.MetricValue{
				"wns": model.NumberValue(-1.2, "ns", "route.log"),
			}},
		},
	}
	e.GroupOrder = []string{"apr"}
	e.RunSummary = &model.RunSummary{TotalSteps: 2, Successful: 1, Unknown: 1, CompletionRate: 50}
	return e
}

func endOfDay(t *testing.T, day string) time.Time {
	t.Helper()
	end, ok := utils.ParseEndTime(day)
	require.True(t, ok)
	return end
}

func openStore(t *testing.T, dir string, opts ...Option) *ArchiveStore {
	t.Helper()
	s, err := Open(context.Background(), dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir, WithClock(func() time.Time { return t0 }))

	entry, err := s.Add(ctx, sampleExecution("v1", "alice"))
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.WithinDuration(t, t0, entry.ArchivedAt, 0)
	assert.Equal(t, 1, entry.GroupCount)
	assert.Equal(t, 2, entry.StepCount)
	assert.Equal(t, 3, entry.KeywordCount)
	assert.Equal(t, 50.0, entry.CompletionRate)
	assert.Regexp(t, `^v1_[0-9a-f]{8}\.json$`, entry.DataFile)
	assert.FileExists(t, filepath.Join(dir, "data", entry.DataFile))
	assert.FileExists(t, filepath.Join(dir, IndexFileName))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(*entry, got.Entry, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "v1", got.Execution.RunVersion)
	assert.Equal(t, []string{"place", "route"}, got.Execution.Groups["apr"].StepOrder)
	assert.Equal(t, -1.2, got.Execution.Groups["apr"].Steps["route"].Metrics["wns"].Value)
}

func TestAddAtIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	exec := sampleExecution("v1", "alice")

	first, err := s.AddAt(ctx, exec, t0)
	require.NoError(t, err)
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	second, err := s.AddAt(ctx, exec, t0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalEntries, after.TotalEntries)
	assert.Equal(t, before.TotalKeywords, after.TotalKeywords)

	names, err := s.files.ListDataFiles()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestAddKeepsRunWithUnconstrainedSlack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	stepDir := t.TempDir()
	report := "Path group: reg2reg  WNS: -0.25\nPath group: in2out  WNS: INFINITY\n"
	require.NoError(t, os.WriteFile(filepath.Join(stepDir, "sta.rpt"), []byte(report), 0o644))
	metrics := pipeline.NewReportExtractor(nil).Extract(stepDir, []model.MetricDefinition{
		{Keyword: model.Keyword{Name: "reg2reg_wns", Pattern: `reg2reg\s+WNS:\s+(\S+)`, Type: model.TypeNumber, Unit: "ns"}, Sources: []string{"sta.rpt"}},
		{Keyword: model.Keyword{Name: "in2out_wns", Pattern: `in2out\s+WNS:\s+(\S+)`, Type: model.TypeNumber, Unit: "ns"}, Sources: []string{"sta.rpt"}},
	})
	assert.Equal(t, -0.25, metrics["reg2reg_wns"].Value)
	assert.NotContains(t, metrics, "in2out_wns")

	exec := sampleExecution("v9", "alice")
	exec.Groups["apr"].Steps["place"].Metrics = metrics
	_, err := s.AddAt(ctx, exec, t0)
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalEntries)
}

func TestListDedupAndFilters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	t1, t2, t3 := t0, t0.Add(time.Hour), t0.Add(2*time.Hour)
	first, err := s.AddAt(ctx, sampleExecution("v1", "alice"), t1)
	require.NoError(t, err)
	latest, err := s.AddAt(ctx, sampleExecution("v1", "alice"), t2)
	require.NoError(t, err)
	bob, err := s.AddAt(ctx, sampleExecution("v2", "bob"), t3)
	require.NoError(t, err)

	ids := func(entries []model.ArchiveEntry) []int64 {
		out := []int64{}
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	all, err := s.List(ctx, model.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID, latest.ID}, ids(all))

	tests := []struct {
		name   string
		filter model.ListFilter
		want   []int64
	}{
		{"run version substring", model.ListFilter{RunVersion: "1"}, []int64{latest.ID}},
		{"user", model.ListFilter{User: "bob"}, []int64{bob.ID}},
		{"base dir", model.ListFilter{BaseDir: "other"}, []int64{}},
		{"from", model.ListFilter{From: t3}, []int64{bob.ID}},
		{"to", model.ListFilter{To: t1}, []int64{first.ID}},
		{"to covers the whole day", model.ListFilter{To: endOfDay(t, "2024-05-10")}, []int64{bob.ID, latest.ID}},
		{"to before the day", model.ListFilter{To: endOfDay(t, "2024-05-09")}, []int64{}},
		{"like wildcard is literal", model.ListFilter{RunVersion: "%"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := s.AddAt(ctx, sampleExecution("v1", "alice"), t0)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "data", entry.DataFile)))
	_, err = s.Get(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepairIndexesDroppedFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)

	bare, err := json.Marshal(sampleExecution("v7", "carol"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "v7_manual.json"), bare, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "notes.txt"), []byte("x"), 0o644))

	res, err := s.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, []string{"broken.json"}, res.Failed)

	entries, err := s.List(ctx, model.ListFilter{User: "carol"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v7_manual.json", entries[0].DataFile)
	assert.Equal(t, 3, entries[0].KeywordCount)

	again, err := s.Repair(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Indexed)

	got, err := s.Get(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Execution.User)
}

func TestCorruptedIndexIsRebuilt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	_, err = s.AddAt(ctx, sampleExecution("v1", "alice"), t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	junk := bytes.Repeat([]byte("this is not a sqlite database "), 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), junk, 0o644))

	s = openStore(t, dir)
	entries, err := s.List(ctx, model.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v1", entries[0].RunVersion)
	assert.WithinDuration(t, t0, entries[0].ArchivedAt, 0)

	moved, err := filepath.Glob(filepath.Join(dir, IndexFileName+".corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), WithClock(func() time.Time { return t0 }))

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEntries)
	assert.Nil(t, empty.Oldest)

	old := t0.Add(-30 * 24 * time.Hour)
	_, err = s.AddAt(ctx, sampleExecution("v1", "alice"), old)
	require.NoError(t, err)
	_, err = s.AddAt(ctx, sampleExecution("v1", "alice"), t0)
	require.NoError(t, err)
	_, err = s.Add(ctx, sampleExecution("v2", "alice"))
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, st.TotalEntries)
	assert.Equal(t, 2, st.UniqueExecutions)
	assert.Equal(t, 6, st.TotalSteps)
	assert.Equal(t, 9, st.TotalKeywords)
	assert.Equal(t, 2, st.RecentEntries)
	assert.Equal(t, 50.0, st.AverageCompletionRate)
	assert.Positive(t, st.ArchiveSizeBytes)
	require.NotNil(t, st.Oldest)
	assert.WithinDuration(t, old, *st.Oldest, 0)
	assert.WithinDuration(t, t0, *st.Newest, 0)
}

func TestKeywordsAndSummary(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	_, err := s.AddAt(ctx, sampleExecution("v1", "alice"), t0)
	require.NoError(t, err)
	_, err = s.AddAt(ctx, sampleExecution("v2", "bob"), t0.Add(time.Minute))
	require.NoError(t, err)

	rows, err := s.Keywords(ctx, "wns")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "v2", rows[0].RunVersion)
	assert.Equal(t, "apr", rows[0].Group)
	assert.Equal(t, "place", rows[0].Step)
	assert.Equal(t, "-0.5", rows[0].Value)
	assert.Equal(t, "ns", rows[0].Unit)
	assert.Equal(t, "cpu", rows[0].Block)

	summary, err := s.KeywordSummary(ctx)
	require.NoError(t, err)
	want := []model.KeywordSummary{
		{Name: "wns", Count: 4, Steps: []string{"place", "route"}, Runs: []string{"v1", "v2"}, Units: []string{"ns"}, Samples: []string{"-0.5", "-1.2", "-0.5", "-1.2"}},
		{Name: "area", Count: 2, Steps: []string{"place"}, Runs: []string{"v1", "v2"}, Units: []string{"um2"}, Samples: []string{"100", "100"}},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := s.AddAt(ctx, sampleExecution("v1", "alice"), t0)
	require.NoError(t, err)
	_, err = s.AddAt(ctx, sampleExecution("v1", "alice"), t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.AddAt(ctx, sampleExecution("v2", "bob"), t0)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := s.ExportCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 7)
	assert.Equal(t, csvHeader, records[0])

	path := filepath.Join(dir, "out", "keywords.csv")
	n, err = s.ExportCSVFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.FileExists(t, path)
}

func TestRetryHelpers(t *testing.T) {
	cfg := model.RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 10*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, 25*time.Millisecond, calculateDelay(cfg, 3))

	calls := 0
	err := withRetry(context.Background(), cfg, zap.NewNop(), "test", func() error {
		calls++
		return os.ErrPermission
	})
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, 1, calls)
}
