package config

import (
	"fmt"
	"strings"

	"hawkeye-pipeline/internal/model"
)

// TaskMapping instantiates a task from a task template.
type TaskMapping struct {
	Template  string         `yaml:"template"`
	TaskName  string         `yaml:"task_name"`
	Overrides *TaskOverrides `yaml:"overrides"`
}

// TaskOverrides are applied after {task_name} substitution. Nil file lists
// leave the template's lists in place; keywords are patched by name.
type TaskOverrides struct {
	LogFiles    []string        `yaml:"log_files"`
	ReportFiles []string        `yaml:"report_files"`
	Keywords    []model.Keyword `yaml:"keywords"`
}

// expandTaskTemplates adds one task per task_mappings entry.
func (c *Config) expandTaskTemplates() error {
	for _, key := range c.TaskMappings.Keys {
		mapping := c.TaskMappings.Values[key]
		tmpl, ok := c.TaskTemplates.Get(mapping.Template)
		if !ok || tmpl == nil {
			return fmt.Errorf("%w: task mapping %s: unknown template %q", ErrInvalid, key, mapping.Template)
		}
		name := mapping.TaskName
		if name == "" {
			name = strings.Replace(key, "_inn", "", 1)
		}
		task := ExpandTaskTemplate(tmpl, name, mapping.Overrides)
		task.Name = key
		c.Tasks.Set(key, task)
	}
	return nil
}

// ExpandTaskTemplate returns a deep copy of tmpl with {task_name} replaced
// and overrides applied.
func ExpandTaskTemplate(tmpl *Task, taskName string, overrides *TaskOverrides) *Task {
	r := strings.NewReplacer("{task_name}", taskName)
	out := &Task{
		Name:        tmpl.Name,
		Description: r.Replace(tmpl.Description),
		LogFiles:    replaceAll(r, tmpl.LogFiles),
		ReportFiles: replaceAll(r, tmpl.ReportFiles),
		Keywords:    make([]model.Keyword, len(tmpl.Keywords)),
	}
	for i, kw := range tmpl.Keywords {
		out.Keywords[i] = model.Keyword{
			Name:        r.Replace(kw.Name),
			Pattern:     r.Replace(kw.Pattern),
			Type:        kw.Type,
			Unit:        r.Replace(kw.Unit),
			Group:       r.Replace(kw.Group),
			FileName:    r.Replace(kw.FileName),
			PairValue:   r.Replace(kw.PairValue),
			Description: r.Replace(kw.Description),
		}
	}
	if overrides == nil {
		return out
	}
	if overrides.LogFiles != nil {
		out.LogFiles = append([]string(nil), overrides.LogFiles...)
	}
	if overrides.ReportFiles != nil {
		out.ReportFiles = append([]string(nil), overrides.ReportFiles...)
	}
	if len(overrides.Keywords) > 0 {
		patches := make(map[string]model.Keyword, len(overrides.Keywords))
		for _, kw := range overrides.Keywords {
			patches[kw.Name] = kw
		}
		for i, kw := range out.Keywords {
			if p, ok := patches[kw.Name]; ok {
				out.Keywords[i] = patchKeyword(kw, p)
			}
		}
	}
	return out
}

func patchKeyword(base, p model.Keyword) model.Keyword {
	if p.Pattern != "" {
		base.Pattern = p.Pattern
	}
	if p.Type != "" {
		base.Type = p.Type
	}
	if p.Unit != "" {
		base.Unit = p.Unit
	}
	if p.Group != "" {
		base.Group = p.Group
	}
	if p.FileName != "" {
		base.FileName = p.FileName
	}
	if p.PairValue != "" {
		base.PairValue = p.PairValue
	}
	if p.Description != "" {
		base.Description = p.Description
	}
	return base
}

func replaceAll(r *strings.Replacer, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.Replace(s)
	}
	return out
}
