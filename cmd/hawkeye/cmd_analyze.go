package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"hawkeye-pipeline/internal/catalog"
	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeJobs    []string
	archiveResults bool
	jsonOutput     bool
	quiet          bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <run-version|path>",
	Short: "Analyze one run",
	Long: `Extracts and rolls up metrics for one run. The run is looked up by version
label or path among discovered runs; a path outside the workspace is accepted
when it follows the works_{user}/{block}/{dk_ver_tag}/runs/{run_version} layout.

Example:
  hawkeye analyze v1 --jobs apr,sta --archive`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var analyzeAllCmd = &cobra.Command{
	Use:   "analyze-all",
	Short: "Analyze every discovered run (slow on large projects)",
	Args:  cobra.NoArgs,
	RunE:  runAnalyzeAll,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, analyzeAllCmd} {
		c.Flags().BoolVar(&archiveResults, "archive", false, "archive the analyzed runs")
		c.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
		c.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress output")
	}
	analyzeCmd.Flags().StringSliceVar(&analyzeJobs, "jobs", nil, "only these jobs (comma separated)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ref, err := resolveRun(cmd, args[0])
	if err != nil {
		return err
	}
	sel, err := selectionFor(cfg, ref, analyzeJobs)
	if err != nil {
		return err
	}
	return analyzeAndReport(cmd, cfg, []model.ExecutionRef{ref}, sel)
}

func runAnalyzeAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	refs, err := discoverRuns(cmd, nil, false)
	if err != nil {
		return err
	}
	logger.Warn("analyzing every run may be slow for large projects; prefer analyze with a run version",
		zap.Int("runs", len(refs)))
	if len(refs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found. Please check the workspace hierarchy.")
		return nil
	}
	return analyzeAndReport(cmd, cfg, refs, model.SelectAll())
}

// resolveRun finds target among discovered runs, falling back to parsing
// it as a run path.
func resolveRun(cmd *cobra.Command, target string) (model.ExecutionRef, error) {
	if settings.WorkspaceBase != "" && settings.ProjectName != "" {
		refs, err := discoverRuns(cmd, nil, false)
		if err != nil {
			return model.ExecutionRef{}, err
		}
		if ref, ok := pipeline.FindExecution(refs, target); ok {
			return ref, nil
		}
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		if ref, ok := pipeline.ParseRunPath(target); ok {
			return ref, nil
		}
		return model.ExecutionRef{}, fmt.Errorf("%s is not a run directory (expected .../works_<user>/<block>/<tag>/runs/<version>)", target)
	}
	return model.ExecutionRef{}, fmt.Errorf("run %q not found", target)
}

func selectionFor(cfg *config.Config, ref model.ExecutionRef, jobs []string) (model.Selection, error) {
	if len(jobs) == 0 {
		return model.SelectAll(), nil
	}
	wanted := make(map[string][]string, len(jobs))
	for _, job := range jobs {
		tasks := cfg.JobTasks(job)
		if tasks == nil {
			return model.Selection{}, fmt.Errorf("job %q is not configured", job)
		}
		wanted[job] = tasks
	}
	return model.SelectOnly(map[string]map[string][]string{ref.Path: wanted}), nil
}

func analyzeAndReport(cmd *cobra.Command, cfg *config.Config, refs []model.ExecutionRef, sel model.Selection) error {
	ctx := commandContext(cmd)
	scheduler := pipeline.NewScheduler(cfg,
		pipeline.WithWorkers(settings.Workers),
		pipeline.WithLogger(logger))

	var progress pipeline.ProgressFunc
	if !quiet {
		var mu sync.Mutex
		errOut := cmd.ErrOrStderr()
		progress = func(current, total int, label string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(errOut, "[%d/%d] %s\n", current, total, label)
		}
	}

	res, err := scheduler.Analyze(ctx, refs, sel, progress)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res, catalog.New(cfg))
	}

	if archiveResults {
		if err := archiveAll(cmd, res); err != nil {
			return err
		}
	}
	if res.Report.Cancelled {
		return fmt.Errorf("analysis cancelled after %d of %d steps", res.Report.CompletedSteps, res.Report.TotalSteps)
	}
	return nil
}

func archiveAll(cmd *cobra.Command, res *pipeline.Result) error {
	// partial results are archived even after an interrupt
	ctx := commandContext(cmd)
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	archive, err := openArchive(ctx)
	if err != nil {
		return err
	}
	defer archive.Close()

	for _, exec := range res.OrderedExecutions() {
		entry, err := archive.Add(ctx, exec)
		if err != nil {
			return fmt.Errorf("archive %s: %w", exec.RunVersion, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archived %s as entry #%d (%s)\n", exec.RunVersion, entry.ID, entry.DataFile)
	}
	return nil
}

func printResult(out io.Writer, res *pipeline.Result, cat *catalog.Catalog) {
	execs := res.OrderedExecutions()
	if len(execs) == 0 {
		fmt.Fprintln(out, "No runs analyzed.")
	}
	for _, e := range execs {
		fmt.Fprintf(out, "\n== %s (%s/%s/%s)\n", e.RunVersion, e.User, e.Block, e.DKVerTag)
		if rs := e.RunSummary; rs != nil {
			fmt.Fprintf(out, "   %d tasks: %d successful, %d failed, %d warning, %d unknown (%.1f%%)\n",
				rs.TotalSteps, rs.Successful, rs.Failed, rs.Warning, rs.Unknown, rs.CompletionRate)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, g := range e.OrderedGroups() {
			fmt.Fprintf(tw, "   %s\t\t\t\n", g.Name)
			for _, s := range g.OrderedSteps() {
				fmt.Fprintf(tw, "     %s\t%s\t%s\t%d keywords\n", s.Name, s.Status, s.SimplifiedStatus, len(s.Metrics))
			}
		}
		tw.Flush()
		for _, g := range e.OrderedGroups() {
			printMetrics(out, g.Name+" summary", g.Summary, cat)
		}
		printMetrics(out, "run summary", e.Summary, cat)
	}

	r := res.Report
	fmt.Fprintf(out, "\n%d/%d steps analyzed, %d skipped, %d metrics in %s\n",
		r.CompletedSteps, r.TotalSteps, r.SkippedSteps, r.MetricsExtracted, r.Duration.Round(time.Millisecond))
}

func printMetrics(out io.Writer, title string, metrics map[string]model.MetricValue, cat *catalog.Catalog) {
	if len(metrics) == 0 {
		return
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}

	fmt.Fprintf(out, "   %s\n", title)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, group := range cat.GroupAndOrder(names) {
		fmt.Fprintf(tw, "     [%s]\t\t\n", group.Name)
		for _, name := range group.Keywords {
			v := metrics[name]
			fmt.Fprintf(tw, "       %s\t%s\t%s\n", name, v.String(), v.Unit)
		}
	}
	tw.Flush()
}
