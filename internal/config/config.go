package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"hawkeye-pipeline/internal/model"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid configuration")

// DefaultStaTask is the step that owns the STA keyword templates.
const DefaultStaTask = "sta_pt"

// Config is the typed analysis configuration. It is built once by Load and
// shared read-only afterwards.
type Config struct {
	Sta           StaConfig            `yaml:"sta_config"`
	Tasks         Ordered[*Task]       `yaml:"tasks"`
	TaskTemplates Ordered[*Task]       `yaml:"task_templates"`
	TaskMappings  Ordered[TaskMapping] `yaml:"task_mappings"`
	Jobs          Ordered[*Job]        `yaml:"jobs"`
}

// StaConfig holds the expansion axes for the STA step.
type StaConfig struct {
	Task    string   `yaml:"task"`
	Modes   []string `yaml:"modes"`
	Corners []string `yaml:"corners"`
}

// Task describes one step kind: where its output lives and which keywords
// to extract from it.
type Task struct {
	Name        string          `yaml:"-"`
	Description string          `yaml:"description"`
	LogFiles    []string        `yaml:"log_files"`
	ReportFiles []string        `yaml:"report_files"`
	Keywords    []model.Keyword `yaml:"keywords"`
}

// FilePatterns returns log and report patterns in declaration order.
func (t *Task) FilePatterns() []string {
	out := make([]string, 0, len(t.LogFiles)+len(t.ReportFiles))
	out = append(out, t.LogFiles...)
	return append(out, t.ReportFiles...)
}

// Job is a group of tasks that run in one job directory.
type Job struct {
	Name        string   `yaml:"-"`
	Description string   `yaml:"description"`
	Tasks       []string `yaml:"tasks"`
}

// Includes reports whether task is part of the job's declared list.
func (j *Job) Includes(task string) bool {
	for _, t := range j.Tasks {
		if t == task {
			return true
		}
	}
	return false
}

// Load reads, expands and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, expands task templates and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.expandTaskTemplates(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Sta.Task == "" {
		c.Sta.Task = DefaultStaTask
	}
	for _, name := range c.Tasks.Keys {
		t := c.Tasks.Values[name]
		if t == nil {
			t = &Task{}
			c.Tasks.Values[name] = t
		}
		t.Name = name
	}
	for _, name := range c.TaskTemplates.Keys {
		if c.TaskTemplates.Values[name] == nil {
			c.TaskTemplates.Values[name] = &Task{}
		}
		c.TaskTemplates.Values[name].Name = name
	}
	for _, name := range c.Jobs.Keys {
		j := c.Jobs.Values[name]
		if j == nil {
			j = &Job{}
			c.Jobs.Values[name] = j
		}
		j.Name = name
	}
}

// samplePlaceholders fills template placeholders with representative axis
// values so templated patterns are compiled the way expansion will see them.
var samplePlaceholders = strings.NewReplacer(
	"{mode}", "func",
	"{corner}", "ss_0p9v_m40c",
	"{path_type}", "reg2reg",
	"{path_type_pattern}", "reg->reg",
	"{noise_type}", "above_low",
	"{task_name}", "task",
)

// Validate checks keyword and job declarations. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Tasks.Keys {
		t := c.Tasks.Values[name]
		seen := make(map[string]bool, len(t.Keywords))
		for i, kw := range t.Keywords {
			if kw.Name == "" {
				errs = append(errs, fmt.Errorf("task %s: keyword #%d has no name", name, i))
				continue
			}
			if seen[kw.Name] {
				errs = append(errs, fmt.Errorf("task %s: duplicate keyword %s", name, kw.Name))
			}
			seen[kw.Name] = true
			if kw.Pattern == "" {
				errs = append(errs, fmt.Errorf("task %s: keyword %s has no pattern", name, kw.Name))
				continue
			}
			if _, err := regexp.Compile("(?im)" + samplePlaceholders.Replace(kw.Pattern)); err != nil {
				errs = append(errs, fmt.Errorf("task %s: keyword %s: %w", name, kw.Name, err))
			}
		}
	}
	for _, name := range c.Jobs.Keys {
		for _, task := range c.Jobs.Values[name].Tasks {
			if !c.Tasks.Has(task) {
				errs = append(errs, fmt.Errorf("job %s: unknown task %s", name, task))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Task returns the named task configuration.
func (c *Config) Task(name string) (*Task, bool) {
	return c.Tasks.Get(name)
}

// Job returns the named job configuration.
func (c *Config) Job(name string) (*Job, bool) {
	return c.Jobs.Get(name)
}

// JobTasks returns the declared task list of a job, nil if unknown.
func (c *Config) JobTasks(job string) []string {
	if j, ok := c.Jobs.Get(job); ok {
		return j.Tasks
	}
	return nil
}

// StaTask returns the name of the step owning the STA templates.
func (c *Config) StaTask() string {
	if c.Sta.Task == "" {
		return DefaultStaTask
	}
	return c.Sta.Task
}

// IsStaTask reports whether name is the STA step.
func (c *Config) IsStaTask(name string) bool {
	return strings.EqualFold(name, c.StaTask())
}

// Axes returns the configured expansion axes.
func (c *Config) Axes() model.Axes {
	return model.Axes{Modes: c.Sta.Modes, Corners: c.Sta.Corners}
}
