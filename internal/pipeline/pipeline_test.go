package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hawkeye-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoverOne(t *testing.T, base string) []model.ExecutionRef {
	t.Helper()
	refs, err := Discover(context.Background(), DiscoverOptions{Base: base, Project: "chip"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	return refs
}

func TestAnalyzeEndToEnd(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	var calls atomic.Int32
	var mu sync.Mutex
	var seen []int
	progress := func(current, total int, label string) {
		calls.Add(1)
		mu.Lock()
		seen = append(seen, current)
		mu.Unlock()
		assert.Equal(t, 3, total)
		assert.NotEmpty(t, label)
	}

	s := NewScheduler(cfg, WithWorkers(2))
	res, err := s.Analyze(context.Background(), refs, model.SelectAll(), progress)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.EqualValues(t, 3, calls.Load())
	assert.ElementsMatch(t, []int{1, 2, 3}, seen)
	assert.False(t, res.Report.Cancelled)
	assert.Equal(t, 3, res.Report.TotalSteps)
	assert.Equal(t, 3, res.Report.CompletedSteps)

	exec := res.Executions[run]
	require.NotNil(t, exec)
	assert.Equal(t, "v1", exec.RunVersion)
	assert.Equal(t, "alice", exec.User)
	assert.Equal(t, []string{"apr", "sta"}, exec.GroupOrder)

	apr := exec.Groups["apr"]
	require.True(t, apr.Complete)
	assert.Equal(t, []string{"place", "route"}, apr.StepOrder)

	place := apr.Steps["place"]
	require.NotNil(t, place)
	assert.Equal(t, -0.5, place.Metrics["wns"].Value)
	assert.Equal(t, 3.0, place.Metrics["error_count"].Value)
	assert.Equal(t, "PASS", place.Metrics["place_status"].Value)
	assert.Equal(t, model.StatusSuccess, place.Status)
	assert.Equal(t, model.SimpleCompleted, place.SimplifiedStatus)

	route := apr.Steps["route"]
	require.NotNil(t, route)
	assert.Equal(t, -1.2, route.Metrics["wns"].Value)
	assert.Equal(t, 1.0, route.Metrics["error_count"].Value)

	assert.Equal(t, -1.2, apr.Summary["wns"].Value)
	assert.Equal(t, "ns", apr.Summary["wns"].Unit)
	assert.Equal(t, 4.0, apr.Summary["error_count"].Value)

	sta := exec.Groups["sta"].Steps["sta_pt"]
	require.NotNil(t, sta)
	assert.Equal(t, -0.3, sta.Metrics["func_ss_s_wns_total"].Value)
	assert.Equal(t, -0.3, sta.Metrics["func_ss_s_wns_reg2reg"].Value)
	assert.Equal(t, 0.1, sta.Metrics["func_ss_s_wns_in2reg"].Value)
	assert.NotContains(t, sta.Metrics, "func_ss_s_wns_in2out")

	assert.Equal(t, -1.2, exec.Summary["wns"].Value)
	assert.Equal(t, 4.0, exec.Summary["error_count"].Value)
	require.NotNil(t, exec.RunSummary)
	assert.Equal(t, 3, exec.RunSummary.TotalSteps)
	assert.Equal(t, 1, exec.RunSummary.Successful)
}

func TestAnalyzeSelectedSteps(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	sel := model.SelectOnly(map[string]map[string][]string{
		run: {"apr": {"route"}},
	})
	res, err := NewScheduler(cfg).Analyze(context.Background(), refs, sel, nil)
	require.NoError(t, err)

	exec := res.Executions[run]
	require.NotNil(t, exec)
	assert.Equal(t, []string{"apr"}, exec.GroupOrder)
	assert.Equal(t, []string{"route"}, exec.Groups["apr"].StepOrder)
	assert.Equal(t, 1, res.Report.TotalSteps)
	assert.Equal(t, -1.2, exec.Summary["wns"].Value)
}

func TestAnalyzeSkipsMissingWork(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)
	require.NoError(t, os.Remove(filepath.Join(run, "apr", "logs", "place.log")))
	require.NoError(t, os.RemoveAll(filepath.Join(run, "sta")))

	res, err := NewScheduler(cfg).Analyze(context.Background(), refs, model.SelectAll(), nil)
	require.NoError(t, err)

	exec := res.Executions[run]
	assert.Equal(t, []string{"apr"}, exec.GroupOrder)
	assert.Equal(t, []string{"route"}, exec.Groups["apr"].StepOrder)
	assert.Equal(t, 1, res.Report.SkippedSteps)

	refs[0].Path = filepath.Join(base, "gone")
	res, err = NewScheduler(cfg).Analyze(context.Background(), refs, model.SelectAll(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Executions)
}

func TestAnalyzeCancelledBeforeStart(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewScheduler(cfg).Analyze(ctx, refs, model.SelectAll(), nil)
	require.NoError(t, err)
	assert.True(t, res.Report.Cancelled)
	assert.Zero(t, res.Report.CompletedSteps)

	exec := res.Executions[run]
	require.NotNil(t, exec)
	for _, g := range exec.OrderedGroups() {
		assert.False(t, g.Complete)
		assert.Nil(t, g.Summary)
	}
	assert.Nil(t, exec.Summary)
}

func TestAnalyzeCancelledMidway(t *testing.T) {
	cfg := loadTestConfig(t)
	base, _ := newWorkspace(t)
	refs := discoverOne(t, base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	x := ExtractorFunc(func(string, []model.MetricDefinition) map[string]model.MetricValue {
		cancel()
		return map[string]model.MetricValue{"wns": model.NumberValue(-1, "ns", "")}
	})

	var calls atomic.Int32
	s := NewScheduler(cfg, WithWorkers(1), WithExtractor(x))
	res, err := s.Analyze(ctx, refs, model.SelectAll(), func(int, int, string) { calls.Add(1) })
	require.NoError(t, err)
	assert.True(t, res.Report.Cancelled)
	assert.Equal(t, 1, res.Report.CompletedSteps)
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnalyzeCancelledAfterLastStep(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := func(current, total int, _ string) {
		if current == total {
			cancel()
		}
	}

	res, err := NewScheduler(cfg, WithWorkers(1)).Analyze(ctx, refs, model.SelectAll(), progress)
	require.NoError(t, err)
	assert.False(t, res.Report.Cancelled)
	assert.Equal(t, 3, res.Report.CompletedSteps)
	assert.NotNil(t, res.Executions[run].Summary)
}

func TestAnalyzeRecoversExtractorPanic(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	x := ExtractorFunc(func(string, []model.MetricDefinition) map[string]model.MetricValue {
		panic("boom")
	})
	res, err := NewScheduler(cfg, WithExtractor(x)).Analyze(context.Background(), refs, model.SelectAll(), nil)
	require.NoError(t, err)

	step := res.Executions[run].Groups["apr"].Steps["place"]
	require.NotNil(t, step)
	assert.Empty(t, step.Metrics)
	assert.Equal(t, model.StatusUnknown, step.Status)
	assert.Equal(t, model.SimpleFailed, step.SimplifiedStatus)
	assert.True(t, res.Executions[run].Groups["apr"].Complete)
}

func TestAnalyzeUsesClock(t *testing.T) {
	cfg := loadTestConfig(t)
	base, run := newWorkspace(t)
	refs := discoverOne(t, base)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := NewScheduler(cfg, WithClock(func() time.Time { return fixed })).
		Analyze(context.Background(), refs, model.SelectAll(), nil)
	require.NoError(t, err)
	assert.Equal(t, fixed, res.Executions[run].AnalyzedAt)
	assert.Equal(t, fixed, res.Report.StartedAt)
}

func TestProgressChannelDoesNotBlock(t *testing.T) {
	ch := make(chan Progress, 1)
	fn := ProgressChannel(ch)
	fn(1, 2, "a")
	fn(2, 2, "b")

	got := <-ch
	assert.Equal(t, Progress{Current: 1, Total: 2, Label: "a"}, got)
	select {
	case p := <-ch:
		t.Fatalf("unexpected progress %+v", p)
	default:
	}
}
