package model

import (
	"sort"
	"time"
)

// ExecutionRef identifies a candidate run directory found by discovery.
type ExecutionRef struct {
	Path       string        `json:"path"`
	RelPath    string        `json:"relative_path"`
	BaseDir    string        `json:"base_dir"`
	TopName    string        `json:"top_name"`
	User       string        `json:"user"`
	Block      string        `json:"block"`
	DKVerTag   string        `json:"dk_ver_tag"`
	RunVersion string        `json:"run_version"`
	Jobs       []JobPresence `json:"jobs,omitempty"` // only filled by detailed discovery
}

// JobPresence records which configured tasks have output in a job directory.
type JobPresence struct {
	Name       string   `json:"name"`
	Path       string   `json:"path,omitempty"`
	Exists     bool     `json:"exists"`
	Configured bool     `json:"configured"`
	Tasks      []string `json:"tasks"`
}

// Step status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusWarning = "warning"
	StatusUnknown = "unknown"
)

// Simplified step status values
const (
	SimpleCompleted  = "Completed"
	SimpleFailed     = "Failed"
	SimpleNotStarted = "Not Started"
)

// Step is one report-producing unit of work inside a group.
type Step struct {
	Name             string                 `json:"name"`
	Path             string                 `json:"path"`
	Status           string                 `json:"status"`
	SimplifiedStatus string                 `json:"simplified_status"`
	StatusDetails    string                 `json:"status_details,omitempty"`
	FilesFound       []string               `json:"files_found,omitempty"`
	Metrics          map[string]MetricValue `json:"keywords"`
	AnalyzedAt       time.Time              `json:"analyzed_at"`
}

// Group is a job: an ordered set of steps plus their rollup.
type Group struct {
	Name      string                 `json:"name"`
	Path      string                 `json:"path"`
	Steps     map[string]*Step       `json:"steps"`
	StepOrder []string               `json:"step_order"`
	Summary   map[string]MetricValue `json:"summary,omitempty"`
	Complete  bool                   `json:"complete"`
}

// OrderedSteps returns the steps in declared order. Documents written
// without a complete order fall back to name order.
func (g *Group) OrderedSteps() []*Step {
	out := make([]*Step, 0, len(g.Steps))
	for _, name := range g.StepOrder {
		if s, ok := g.Steps[name]; ok {
			out = append(out, s)
		}
	}
	if len(out) == len(g.Steps) {
		return out
	}
	out = out[:0]
	for _, name := range sortedKeys(g.Steps) {
		out = append(out, g.Steps[name])
	}
	return out
}

// RunSummary counts step outcomes for an execution.
type RunSummary struct {
	TotalSteps     int     `json:"total_tasks"`
	Successful     int     `json:"successful_tasks"`
	Failed         int     `json:"failed_tasks"`
	Warning        int     `json:"warning_tasks"`
	Unknown        int     `json:"unknown_tasks"`
	CompletionRate float64 `json:"completion_rate"`
}

// Execution is one analyzed run.
type Execution struct {
	RunVersion string                 `json:"run_version"`
	User       string                 `json:"user_name"`
	BaseDir    string                 `json:"base_dir"`
	TopName    string                 `json:"top_name"`
	Block      string                 `json:"block_name"`
	DKVerTag   string                 `json:"dk_ver_tag"`
	Path       string                 `json:"full_path"`
	RelPath    string                 `json:"relative_path,omitempty"`
	AnalyzedAt time.Time              `json:"analyzed_at"`
	Groups     map[string]*Group      `json:"jobs"`
	GroupOrder []string               `json:"job_order"`
	Summary    map[string]MetricValue `json:"summary,omitempty"`
	RunSummary *RunSummary            `json:"run_summary,omitempty"`
}

// NewExecution starts an empty execution for a discovered run.
func NewExecution(ref ExecutionRef, at time.Time) *Execution {
	return &Execution{
		RunVersion: ref.RunVersion,
		User:       ref.User,
		BaseDir:    ref.BaseDir,
		TopName:    ref.TopName,
		Block:      ref.Block,
		DKVerTag:   ref.DKVerTag,
		Path:       ref.Path,
		RelPath:    ref.RelPath,
		AnalyzedAt: at,
		Groups:     make(map[string]*Group),
	}
}

// OrderedGroups returns the groups in declared order, falling back to
// name order like OrderedSteps.
func (e *Execution) OrderedGroups() []*Group {
	out := make([]*Group, 0, len(e.Groups))
	for _, name := range e.GroupOrder {
		if g, ok := e.Groups[name]; ok {
			out = append(out, g)
		}
	}
	if len(out) == len(e.Groups) {
		return out
	}
	out = out[:0]
	for _, name := range sortedKeys(e.Groups) {
		out = append(out, e.Groups[name])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns the archive identity of the execution.
func (e *Execution) Key() IdentityKey {
	return IdentityKey{
		RunVersion: e.RunVersion,
		BaseDir:    e.BaseDir,
		TopName:    e.TopName,
		User:       e.User,
		Block:      e.Block,
		DKVerTag:   e.DKVerTag,
	}
}
