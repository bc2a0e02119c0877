package pipeline

import (
	"strings"

	"hawkeye-pipeline/internal/model"
)

// MixedValue is reported when string children disagree.
const MixedValue = "MIXED"

// reducer names
const (
	reduceSum  = "sum"
	reduceMin  = "min"
	reduceMax  = "max"
	reduceLast = "last"
	reduceMean = "mean"
)

// reducerRule maps name fragments to a reducer. Rules are tried in order.
type reducerRule struct {
	fragments []string
	reducer   string
}

var reducerRules = []reducerRule{
	{[]string{"error", "warning", "_num", "count"}, reduceSum},
	{[]string{"wns"}, reduceMin},
	{[]string{"tns", "nov", "cpu_time", "real_time", "runtime"}, reduceSum},
	{[]string{"area", "utilization", "density"}, reduceLast},
	{[]string{"overflow", "hotspot"}, reduceMax},
}

// ReducerFor returns the reducer selected for a metric name.
func ReducerFor(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range reducerRules {
		for _, frag := range rule.fragments {
			if strings.Contains(lower, frag) {
				return rule.reducer
			}
		}
	}
	return reduceMean
}

// Rollup reduces ordered child metric maps into one parent map. The same
// function is used for step→group and group→execution. Children must be
// passed in their declared order; "last" reducers depend on it.
func Rollup(children ...map[string]model.MetricValue) map[string]model.MetricValue {
	var names []string
	seen := make(map[string]bool)
	for _, child := range children {
		for name := range child {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	out := make(map[string]model.MetricValue, len(names))
	for _, name := range names {
		var present []model.MetricValue
		for _, child := range children {
			if v, ok := child[name]; ok && v.Value != nil {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			continue
		}
		out[name] = reduceValues(name, present)
	}
	return out
}

func reduceValues(name string, values []model.MetricValue) model.MetricValue {
	unit := ""
	for _, v := range values {
		if v.Unit != "" {
			unit = v.Unit
			break
		}
	}

	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := convertToFloat(v.Value)
		if !ok {
			return reduceStrings(values, unit)
		}
		nums = append(nums, f)
	}

	switch ReducerFor(name) {
	case reduceSum:
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return model.MetricValue{Value: total, Unit: unit}
	case reduceMin:
		idx := 0
		for i, n := range nums {
			if n < nums[idx] {
				idx = i
			}
		}
		return model.MetricValue{Value: nums[idx], Unit: unit, SourceFile: values[idx].SourceFile}
	case reduceMax:
		idx := 0
		for i, n := range nums {
			if n > nums[idx] {
				idx = i
			}
		}
		return model.MetricValue{Value: nums[idx], Unit: unit, SourceFile: values[idx].SourceFile}
	case reduceLast:
		last := len(nums) - 1
		return model.MetricValue{Value: nums[last], Unit: unit, SourceFile: values[last].SourceFile}
	default:
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return model.MetricValue{Value: total / float64(len(nums)), Unit: unit}
	}
}

// reduceStrings propagates a value all children agree on, else MIXED.
// Numbers mixed in with strings are compared by their rendered form.
func reduceStrings(values []model.MetricValue, unit string) model.MetricValue {
	first := values[0].String()
	for _, v := range values[1:] {
		if v.String() != first {
			return model.MetricValue{Value: MixedValue, Unit: unit}
		}
	}
	return model.MetricValue{Value: first, Unit: unit, SourceFile: values[0].SourceFile}
}

// SummarizeGroup recomputes a group's summary from its steps.
func SummarizeGroup(g *model.Group) {
	steps := g.OrderedSteps()
	children := make([]map[string]model.MetricValue, 0, len(steps))
	for _, s := range steps {
		children = append(children, s.Metrics)
	}
	g.Summary = Rollup(children...)
}

// SummarizeExecution recomputes an execution's summary from its groups.
func SummarizeExecution(e *model.Execution) {
	groups := e.OrderedGroups()
	children := make([]map[string]model.MetricValue, 0, len(groups))
	for _, g := range groups {
		if g.Summary != nil {
			children = append(children, g.Summary)
		}
	}
	e.Summary = Rollup(children...)
	e.RunSummary = summarizeRun(e)
}

// Helper functions

func convertToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}
