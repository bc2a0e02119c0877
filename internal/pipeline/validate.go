package pipeline

import (
	"path/filepath"
	"sort"

	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

// executionPlan lists the jobs and tasks that survived prefiltering for one
// execution, in declared order.
type executionPlan struct {
	ref  model.ExecutionRef
	jobs []jobPlan
}

type jobPlan struct {
	name  string
	path  string
	tasks []string
}

// plan applies the selection and drops work that cannot produce results:
// executions whose directory is gone, jobs without a directory, unknown
// tasks and tasks whose log/report files are all missing.
func (s *Scheduler) plan(refs []model.ExecutionRef, sel model.Selection) ([]executionPlan, int) {
	var plans []executionPlan
	skipped := 0

	for _, ref := range refs {
		if !isDir(ref.Path) {
			s.logger.Warn("execution path no longer exists", zap.String("path", ref.Path))
			continue
		}

		var wanted map[string][]string
		if sel.All {
			wanted = make(map[string][]string, s.cfg.Jobs.Len())
			for _, name := range s.cfg.Jobs.Keys {
				wanted[name] = s.cfg.Jobs.Values[name].Tasks
			}
		} else {
			var ok bool
			if wanted, ok = sel.Runs[ref.Path]; !ok {
				continue
			}
		}

		p := executionPlan{ref: ref}
		for _, job := range s.orderJobs(wanted) {
			jobPath := filepath.Join(ref.Path, job)
			if !isDir(jobPath) {
				if !sel.All {
					skipped += len(wanted[job])
				}
				continue
			}
			jp := jobPlan{name: job, path: jobPath}
			for _, task := range s.orderTasks(job, wanted[job]) {
				if s.shouldAnalyze(jobPath, task) {
					jp.tasks = append(jp.tasks, task)
				} else {
					skipped++
					s.logger.Debug("prefilter skipped task",
						zap.String("run", ref.RunVersion), zap.String("job", job), zap.String("task", task))
				}
			}
			if len(jp.tasks) > 0 {
				p.jobs = append(p.jobs, jp)
			}
		}
		plans = append(plans, p)
	}
	return plans, skipped
}

// shouldAnalyze mirrors the cheap existence checks done before scheduling.
// The STA step always passes; its paths depend on mode and corner.
func (s *Scheduler) shouldAnalyze(jobPath, task string) bool {
	t, ok := s.cfg.Task(task)
	if !ok {
		return false
	}
	if s.cfg.IsStaTask(task) {
		return true
	}
	return anySourceExists(jobPath, t.FilePatterns())
}

// orderJobs returns configured jobs in declaration order followed by any
// others alphabetically.
func (s *Scheduler) orderJobs(wanted map[string][]string) []string {
	out := make([]string, 0, len(wanted))
	for _, name := range s.cfg.Jobs.Keys {
		if _, ok := wanted[name]; ok {
			out = append(out, name)
		}
	}
	var extra []string
	for name := range wanted {
		if !s.cfg.Jobs.Has(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// orderTasks puts tasks in the job's declared step order; undeclared tasks
// follow alphabetically. Duplicates are dropped.
func (s *Scheduler) orderTasks(job string, tasks []string) []string {
	want := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		want[t] = true
	}
	out := make([]string, 0, len(want))
	for _, t := range s.cfg.JobTasks(job) {
		if want[t] {
			out = append(out, t)
			delete(want, t)
		}
	}
	extra := make([]string, 0, len(want))
	for t := range want {
		extra = append(extra, t)
	}
	sort.Strings(extra)
	return append(out, extra...)
}
