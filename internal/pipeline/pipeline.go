package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// ProgressFunc is called once per finished step from worker goroutines and
// must be safe for concurrent use.
type ProgressFunc func(current, total int, label string)

// Progress is one progress notification.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

// ProgressChannel forwards progress to ch without blocking workers. Updates
// are dropped while ch is full.
func ProgressChannel(ch chan<- Progress) ProgressFunc {
	return func(current, total int, label string) {
		select {
		case ch <- Progress{Current: current, Total: total, Label: label}:
		default:
		}
	}
}

// Result is the output of one Analyze call.
type Result struct {
	ID         string                      `json:"id"`
	Executions map[string]*model.Execution `json:"executions"` // keyed by run path
	Order      []string                    `json:"order"`
	Report     *Report                     `json:"report"`
}

// OrderedExecutions returns executions in input order.
func (r *Result) OrderedExecutions() []*model.Execution {
	out := make([]*model.Execution, 0, len(r.Order))
	for _, p := range r.Order {
		if e, ok := r.Executions[p]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Scheduler analyzes selected steps of discovered executions with a
// bounded worker pool and rolls results up as groups complete.
type Scheduler struct {
	cfg       *config.Config
	expander  *Expander
	extractor Extractor
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrently analyzed steps.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithExtractor replaces the default report extractor.
func WithExtractor(x Extractor) Option {
	return func(s *Scheduler) {
		if x != nil {
			s.extractor = x
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a scheduler for cfg.
func NewScheduler(cfg *config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		workers: defaultWorkers,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.extractor == nil {
		s.extractor = NewReportExtractor(s.logger)
	}
	s.expander = NewExpander(cfg, s.logger)
	return s
}

type groupState struct {
	mu        sync.Mutex
	group     *model.Group
	remaining atomic.Int32
}

type executionState struct {
	exec      *model.Execution
	remaining atomic.Int32
}

type stepJob struct {
	exec  *executionState
	group *groupState
	task  string
	path  string
}

// Analyze runs every selected step and returns the populated execution
// trees. Cancelling ctx stops scheduling new steps; steps already running
// finish and the partial result is returned with Report.Cancelled set.
func (s *Scheduler) Analyze(ctx context.Context, refs []model.ExecutionRef, sel model.Selection, onProgress ProgressFunc) (*Result, error) {
	if s.cfg == nil {
		return nil, fmt.Errorf("analyze: %w: no configuration loaded", config.ErrInvalid)
	}
	start := s.now()
	id := uuid.NewString()
	tr := newTracker(id, start)
	logger := s.logger.With(zap.String("analysis_id", id))

	plans, skipped := s.plan(refs, sel)

	res := &Result{ID: id, Executions: make(map[string]*model.Execution, len(plans))}
	var jobs []stepJob
	for _, p := range plans {
		es := &executionState{exec: model.NewExecution(p.ref, start)}
		res.Executions[p.ref.Path] = es.exec
		res.Order = append(res.Order, p.ref.Path)

		es.remaining.Store(int32(len(p.jobs)))
		for _, jp := range p.jobs {
			gs := &groupState{group: &model.Group{
				Name:      jp.name,
				Path:      jp.path,
				Steps:     make(map[string]*model.Step, len(jp.tasks)),
				StepOrder: append([]string(nil), jp.tasks...),
			}}
			gs.remaining.Store(int32(len(jp.tasks)))
			es.exec.Groups[jp.name] = gs.group
			es.exec.GroupOrder = append(es.exec.GroupOrder, jp.name)
			for _, task := range jp.tasks {
				jobs = append(jobs, stepJob{exec: es, group: gs, task: task, path: jp.path})
			}
		}
		if len(p.jobs) == 0 {
			SummarizeExecution(es.exec)
		}
	}

	total := len(jobs)
	logger.Info("analysis started",
		zap.Int("executions", len(plans)),
		zap.Int("steps", total),
		zap.Int("skipped", skipped),
		zap.Int("workers", s.workers))

	var g errgroup.Group
	g.SetLimit(s.workers)
	cancelled := false
	for _, j := range jobs {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			step, n := s.runStep(j, tr)
			s.complete(j, step)
			if onProgress != nil {
				onProgress(n, total, j.exec.exec.RunVersion+"/"+j.group.group.Name+"/"+j.task)
			}
			return nil
		})
	}
	_ = g.Wait()

	if int(tr.completed.Load()) < total {
		cancelled = true
	}
	if cancelled {
		for _, e := range res.Executions {
			if e.RunSummary == nil {
				e.RunSummary = summarizeRun(e)
			}
		}
	}

	res.Report = tr.report(s.now(), len(plans), total, skipped, cancelled)
	logger.Info("analysis finished",
		zap.Int("completed", res.Report.CompletedSteps),
		zap.Int("metrics", res.Report.MetricsExtracted),
		zap.Bool("cancelled", cancelled),
		zap.Duration("duration", res.Report.Duration))
	return res, nil
}

// runStep extracts one step. A panicking extractor yields an empty step.
func (s *Scheduler) runStep(j stepJob, tr *tracker) (*model.Step, int) {
	began := time.Now()
	step := &model.Step{Name: j.task, Path: j.path, AnalyzedAt: s.now()}

	defs := s.expander.DefinitionsFor(j.group.group.Name, j.task)
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("extractor panicked",
					zap.String("step", j.path+"/"+j.task), zap.Any("panic", r))
				step.Metrics = nil
			}
		}()
		if x, ok := s.extractor.(stepExtractor); ok {
			ext := x.ExtractStep(j.path, defs)
			step.Metrics = ext.Metrics
			step.FilesFound = ext.FilesFound
		} else {
			step.Metrics = s.extractor.Extract(j.path, defs)
		}
	}()
	if step.Metrics == nil {
		step.Metrics = make(map[string]model.MetricValue)
	}

	step.Status = DetermineStatus(step.Metrics)
	step.SimplifiedStatus, step.StatusDetails = simplifiedStatus(step.FilesFound, true)
	if _, ok := s.extractor.(stepExtractor); !ok && len(step.Metrics) > 0 {
		step.SimplifiedStatus, step.StatusDetails = model.SimpleCompleted, fmt.Sprintf("Extracted %d keywords", len(step.Metrics))
	}

	n := tr.stepDone(step.Status, len(step.Metrics), time.Since(began))
	s.logger.Debug("step analyzed",
		zap.String("run", j.exec.exec.RunVersion),
		zap.String("job", j.group.group.Name),
		zap.String("task", j.task),
		zap.String("status", step.Status),
		zap.Int("keywords", len(step.Metrics)))
	return step, n
}

// complete stores the step and rolls up its group and execution when it
// was the last outstanding piece of either.
func (s *Scheduler) complete(j stepJob, step *model.Step) {
	j.group.mu.Lock()
	j.group.group.Steps[j.task] = step
	j.group.mu.Unlock()

	if j.group.remaining.Add(-1) != 0 {
		return
	}
	j.group.mu.Lock()
	SummarizeGroup(j.group.group)
	j.group.group.Complete = true
	j.group.mu.Unlock()

	if j.exec.remaining.Add(-1) != 0 {
		return
	}
	SummarizeExecution(j.exec.exec)
}
