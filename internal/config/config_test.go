package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
sta_config:
  modes: [ff, ss]
  corners: [c1]
tasks:
  place:
    log_files: [logs/place.log]
    keywords:
      - name: place_error
        pattern: 'ERROR:\s+(\d+)'
        type: number
        group: err/warn
  sta_pt:
    report_files: ["{mode}/{corner}/timing.rpt"]
    keywords:
      - name: "{mode}_{corner}_s_wns_{path_type}"
        pattern: '{path_type_pattern}\s+([-\d.]+)'
        type: number
        group: timing
task_templates:
  inn_step:
    log_files: ["logs/{task_name}.log"]
    report_files: ["reports/{task_name}.summary"]
    keywords:
      - name: "{task_name}_runtime"
        pattern: 'runtime\s*=\s*([\d.]+)'
        type: number
        unit: s
      - name: "{task_name}_density"
        pattern: 'density\s*=\s*([\d.]+)'
        type: number
task_mappings:
  route_inn:
    template: inn_step
  cts_inn:
    template: inn_step
    task_name: clock
    overrides:
      log_files: [logs/cts_custom.log]
      keywords:
        - name: clock_density
          unit: "%"
jobs:
  apr:
    tasks: [place, route_inn, cts_inn]
  sta:
    tasks: [sta_pt]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultStaTask, cfg.StaTask())
	assert.Equal(t, []string{"ff", "ss"}, cfg.Axes().Modes)
	assert.Equal(t, []string{"place", "sta_pt", "route_inn", "cts_inn"}, cfg.Tasks.Keys)
	assert.Equal(t, []string{"apr", "sta"}, cfg.Jobs.Keys)
	assert.Equal(t, []string{"place", "route_inn", "cts_inn"}, cfg.JobTasks("apr"))
	assert.Nil(t, cfg.JobTasks("missing"))

	place, ok := cfg.Task("place")
	require.True(t, ok)
	assert.Equal(t, "place", place.Name)
	assert.Equal(t, []string{"logs/place.log"}, place.FilePatterns())
}

func TestTaskTemplateExpansion(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	route, ok := cfg.Task("route_inn")
	require.True(t, ok)
	assert.Equal(t, []string{"logs/route.log"}, route.LogFiles)
	assert.Equal(t, []string{"reports/route.summary"}, route.ReportFiles)
	require.Len(t, route.Keywords, 2)
	assert.Equal(t, "route_runtime", route.Keywords[0].Name)
	assert.Equal(t, "s", route.Keywords[0].Unit)

	cts, ok := cfg.Task("cts_inn")
	require.True(t, ok)
	assert.Equal(t, []string{"logs/cts_custom.log"}, cts.LogFiles, "log_files override replaces the list")
	assert.Equal(t, []string{"reports/clock.summary"}, cts.ReportFiles)
	assert.Equal(t, "clock_density", cts.Keywords[1].Name)
	assert.Equal(t, "%", cts.Keywords[1].Unit, "keyword override is patched by name")
	assert.Equal(t, `density\s*=\s*([\d.]+)`, cts.Keywords[1].Pattern)

	tmpl, _ := cfg.TaskTemplates.Get("inn_step")
	assert.Equal(t, "{task_name}_runtime", tmpl.Keywords[0].Name, "template must not be mutated")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed yaml", "tasks: [unterminated"},
		{"unknown template", "task_mappings:\n  x_inn:\n    template: nope\n"},
		{"keyword without pattern", "tasks:\n  a:\n    keywords:\n      - name: k\n"},
		{"bad regex", "tasks:\n  a:\n    keywords:\n      - name: k\n        pattern: '(['\n"},
		{"bad regex with quantifier", "tasks:\n  a:\n    keywords:\n      - name: k\n        pattern: 'WNS:\\s+(\\d{1,3}'\n"},
		{"bad regex in template", "tasks:\n  sta_pt:\n    keywords:\n      - name: '{mode}_{corner}_s_wns_{path_type}'\n        pattern: '{path_type_pattern}\\s+(['\n"},
		{"unknown job task", "tasks:\n  a: {}\njobs:\n  j:\n    tasks: [a, b]\n"},
		{"tasks not a mapping", "tasks: [a, b]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestValidationErrorsWrapInvalid(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  a:\n    keywords:\n      - name: k\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hawkeye.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Tasks.Len())
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("casino_prj_base", "/prjs")
	t.Setenv("casino_prj_name", "ANA6716")
	t.Setenv("HAWKEYE_WORKERS", "3")
	t.Setenv("HAWKEYE_ARCHIVE_DIR", "/tmp/archive")

	s := SettingsFromEnv()
	assert.Equal(t, "/prjs", s.WorkspaceBase)
	assert.Equal(t, "ANA6716", s.ProjectName)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, "/tmp/archive", s.ArchiveDir)
	assert.Equal(t, filepath.Join("/prjs", "ANA6716"), s.ProjectRoot())
	assert.NoError(t, s.Validate())

	s.Workers = 0
	assert.True(t, errors.Is(s.Validate(), ErrInvalid))
}
