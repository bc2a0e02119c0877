package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"hawkeye-pipeline/internal/model"
)

var (
	statusKeywordHints = []string{"status", "completion", "violations", "errors"}
	successWords       = []string{"success", "pass", "clean", "complete"}
	failWords          = []string{"fail", "error", "violation"}
	warnWords          = []string{"warning", "partial"}
)

// DetermineStatus derives a step status from status-like metrics. Only
// metrics whose name mentions status, completion, violations or errors
// take part; the first one with a verdict decides.
func DetermineStatus(metrics map[string]model.MetricValue) string {
	for _, name := range sortedNames(metrics) {
		lower := strings.ToLower(name)
		if !containsAny(lower, statusKeywordHints) {
			continue
		}
		v := metrics[name]
		if f, ok := v.Float(); ok {
			switch {
			case strings.Contains(lower, "error") || strings.Contains(lower, "violation"):
				if f > 0 {
					return model.StatusFailed
				}
			case strings.Contains(lower, "warning"):
				if f > 0 {
					return model.StatusWarning
				}
			}
			continue
		}
		s, ok := v.Value.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		switch {
		case containsAny(s, successWords):
			return model.StatusSuccess
		case containsAny(s, failWords):
			return model.StatusFailed
		case containsAny(s, warnWords):
			return model.StatusWarning
		}
	}
	return model.StatusUnknown
}

// simplifiedStatus reports whether the step's files could be read at all.
func simplifiedStatus(found []string, attempted bool) (string, string) {
	if !attempted {
		return model.SimpleNotStarted, "Analysis not yet attempted"
	}
	if len(found) == 0 {
		return model.SimpleFailed, "Analysis attempted but no files found"
	}
	var size int64
	for _, f := range found {
		info, err := os.Stat(f)
		if err != nil {
			return model.SimpleFailed, fmt.Sprintf("Can't access: %s", f)
		}
		size += info.Size()
	}
	return model.SimpleCompleted, fmt.Sprintf("Successfully analyzed %d files (%.1fMB total)",
		len(found), float64(size)/(1024*1024))
}

// summarizeRun counts step outcomes across an execution.
func summarizeRun(e *model.Execution) *model.RunSummary {
	rs := &model.RunSummary{}
	for _, g := range e.OrderedGroups() {
		for _, s := range g.OrderedSteps() {
			rs.TotalSteps++
			switch s.Status {
			case model.StatusSuccess:
				rs.Successful++
			case model.StatusFailed:
				rs.Failed++
			case model.StatusWarning:
				rs.Warning++
			default:
				rs.Unknown++
			}
		}
	}
	if rs.TotalSteps > 0 {
		rs.CompletionRate = float64(rs.Successful) / float64(rs.TotalSteps) * 100
	}
	return rs
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sortedNames(metrics map[string]model.MetricValue) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
