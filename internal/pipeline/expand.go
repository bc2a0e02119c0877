package pipeline

import (
	"strings"
	"sync"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

// pathType pairs the short key used in metric names with the label that
// appears in raw timing reports.
type pathType struct {
	Short   string
	Pattern string
}

// PathTypes is the fixed, ordered set of timing path categories.
var PathTypes = []pathType{
	{"total", "Total"},
	{"reg2reg", "reg->reg"},
	{"in2reg", "in->reg"},
	{"reg2out", "reg->out"},
	{"in2out", "in->out"},
}

// NoiseTypes is the fixed, ordered set of noise categories.
var NoiseTypes = []string{"above_low", "below_high"}

// Expand resolves a keyword template over the mode and corner axes. The
// placeholder set in the name picks the kind: {path_type} is timing,
// {noise_type} is noise, anything else is a violation keyword.
func Expand(tmpl model.Keyword, axes model.Axes) []model.MetricDefinition {
	if axes.Empty() {
		return nil
	}

	var out []model.MetricDefinition
	switch {
	case strings.Contains(tmpl.Name, "{path_type}"):
		out = make([]model.MetricDefinition, 0, len(axes.Modes)*len(axes.Corners)*len(PathTypes))
		for _, mode := range axes.Modes {
			for _, corner := range axes.Corners {
				for _, pt := range PathTypes {
					def := substitute(tmpl, map[string]string{
						"mode":              mode,
						"corner":            corner,
						"path_type":         pt.Short,
						"path_type_pattern": pt.Pattern,
					})
					def.Kind = model.KindTiming
					def.Mode, def.Corner = mode, corner
					def.PathType, def.PathTypePattern = pt.Short, pt.Pattern
					out = append(out, def)
				}
			}
		}
	case strings.Contains(tmpl.Name, "{noise_type}"):
		out = make([]model.MetricDefinition, 0, len(axes.Modes)*len(axes.Corners)*len(NoiseTypes))
		for _, mode := range axes.Modes {
			for _, corner := range axes.Corners {
				for _, nt := range NoiseTypes {
					def := substitute(tmpl, map[string]string{
						"mode":       mode,
						"corner":     corner,
						"noise_type": nt,
					})
					def.Kind = model.KindNoise
					def.Mode, def.Corner, def.NoiseType = mode, corner, nt
					out = append(out, def)
				}
			}
		}
	default:
		out = make([]model.MetricDefinition, 0, len(axes.Modes)*len(axes.Corners))
		for _, mode := range axes.Modes {
			for _, corner := range axes.Corners {
				def := substitute(tmpl, map[string]string{"mode": mode, "corner": corner})
				def.Kind = model.KindViolation
				def.Mode, def.Corner = mode, corner
				out = append(out, def)
			}
		}
	}
	return out
}

func substitute(tmpl model.Keyword, vars map[string]string) model.MetricDefinition {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	kw := tmpl
	kw.Name = r.Replace(tmpl.Name)
	kw.Pattern = r.Replace(tmpl.Pattern)
	kw.FileName = r.Replace(tmpl.FileName)
	kw.Description = r.Replace(tmpl.Description)
	return model.MetricDefinition{Keyword: kw}
}

// Expander hands out the metric definitions for one step of one group.
// Definitions are built lazily and cached per (job, task).
type Expander struct {
	cfg    *config.Config
	logger *zap.Logger
	cache  sync.Map // job + "\x00" + task -> []model.MetricDefinition
}

// NewExpander creates an expander over a loaded configuration.
func NewExpander(cfg *config.Config, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{cfg: cfg, logger: logger}
}

// DefinitionsFor returns the definitions to extract for task inside job.
// The STA task is only expanded when the job declares it; otherwise it
// yields nothing.
func (e *Expander) DefinitionsFor(job, task string) []model.MetricDefinition {
	key := job + "\x00" + task
	if cached, ok := e.cache.Load(key); ok {
		return cached.([]model.MetricDefinition)
	}
	defs := e.build(job, task)
	actual, _ := e.cache.LoadOrStore(key, defs)
	return actual.([]model.MetricDefinition)
}

func (e *Expander) build(job, task string) []model.MetricDefinition {
	t, ok := e.cfg.Task(task)
	if !ok {
		return nil
	}
	sources := t.FilePatterns()

	if !e.cfg.IsStaTask(task) {
		return plainDefinitions(t.Keywords, sources)
	}

	j, ok := e.cfg.Job(job)
	if !ok || !j.Includes(task) {
		e.logger.Debug("skipping STA expansion, job does not run the STA step",
			zap.String("job", job), zap.String("task", task))
		return nil
	}

	axes := e.cfg.Axes()
	if axes.Empty() || len(t.Keywords) == 0 {
		// Nothing to expand over: fall back to the raw templates, minus
		// any that would leak placeholders into metric names.
		defs := plainDefinitions(t.Keywords, sources)
		kept := defs[:0]
		for _, d := range defs {
			if d.HasPlaceholders() {
				e.logger.Warn("dropping unexpanded keyword template", zap.String("keyword", d.Name))
				continue
			}
			kept = append(kept, d)
		}
		return kept
	}

	var defs []model.MetricDefinition
	for _, kw := range t.Keywords {
		for _, d := range Expand(kw, axes) {
			r := strings.NewReplacer("{mode}", d.Mode, "{corner}", d.Corner)
			for _, src := range sourcesFor(d.Keyword, sources) {
				d.Sources = append(d.Sources, r.Replace(src))
			}
			defs = append(defs, d)
		}
	}
	e.logger.Debug("expanded STA keywords",
		zap.String("job", job), zap.Int("templates", len(t.Keywords)), zap.Int("definitions", len(defs)))
	return defs
}

func plainDefinitions(keywords []model.Keyword, taskSources []string) []model.MetricDefinition {
	defs := make([]model.MetricDefinition, 0, len(keywords))
	for _, kw := range keywords {
		defs = append(defs, model.MetricDefinition{
			Keyword: kw,
			Kind:    model.KindPlain,
			Sources: sourcesFor(kw, taskSources),
		})
	}
	return defs
}

// sourcesFor prefers the keyword's own file hint over the task's files.
func sourcesFor(kw model.Keyword, taskSources []string) []string {
	if kw.FileName == "" {
		return taskSources
	}
	var out []string
	for _, p := range strings.Split(kw.FileName, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
