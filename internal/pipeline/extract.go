package pipeline

import (
	"regexp"
	"sync"

	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

// Extractor pulls metric values for one step. A metric missing from the
// result was not found; extractors never fail a whole step.
type Extractor interface {
	Extract(stepPath string, defs []model.MetricDefinition) map[string]model.MetricValue
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(stepPath string, defs []model.MetricDefinition) map[string]model.MetricValue

// Extract calls f.
func (f ExtractorFunc) Extract(stepPath string, defs []model.MetricDefinition) map[string]model.MetricValue {
	return f(stepPath, defs)
}

// StepExtraction is the detailed result of one step.
type StepExtraction struct {
	Metrics    map[string]model.MetricValue
	FilesFound []string
}

// stepExtractor is implemented by extractors that also report which files
// they read. The scheduler uses it for the simplified step status.
type stepExtractor interface {
	ExtractStep(stepPath string, defs []model.MetricDefinition) StepExtraction
}

// ReportExtractor is the default regex-driven extractor.
type ReportExtractor struct {
	logger   *zap.Logger
	patterns sync.Map // pattern -> *regexp.Regexp or error
}

// NewReportExtractor creates an extractor that logs through logger.
func NewReportExtractor(logger *zap.Logger) *ReportExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportExtractor{logger: logger}
}

// Extract implements Extractor.
func (x *ReportExtractor) Extract(stepPath string, defs []model.MetricDefinition) map[string]model.MetricValue {
	return x.ExtractStep(stepPath, defs).Metrics
}

// ExtractStep resolves each definition's sources under stepPath and keeps
// the first file that yields a value.
func (x *ReportExtractor) ExtractStep(stepPath string, defs []model.MetricDefinition) StepExtraction {
	res := StepExtraction{Metrics: make(map[string]model.MetricValue)}
	cache := make(reportCache)
	found := make(map[string]bool)

	for _, def := range defs {
		re, err := x.compile(def.Pattern)
		if err != nil {
			x.logger.Debug("skipping keyword with invalid pattern",
				zap.String("keyword", def.Name), zap.Error(err))
			continue
		}
		for _, src := range def.Sources {
			path, ok := resolveSource(stepPath, src)
			if !ok {
				continue
			}
			if !found[path] {
				found[path] = true
				res.FilesFound = append(res.FilesFound, path)
			}
			content, err := cache.read(path)
			if err != nil {
				x.logger.Debug("unreadable report", zap.String("file", path), zap.Error(err))
				continue
			}
			values := transformMatches(def, re, content, path)
			if values == nil {
				continue
			}
			for name, v := range values {
				res.Metrics[name] = v
			}
			break
		}
	}
	return res
}

func (x *ReportExtractor) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := x.patterns.Load(pattern); ok {
		if re, ok := cached.(*regexp.Regexp); ok {
			return re, nil
		}
		return nil, cached.(error)
	}
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		x.patterns.Store(pattern, err)
		return nil, err
	}
	x.patterns.Store(pattern, re)
	return re, nil
}
