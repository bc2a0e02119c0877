package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/pipeline"

	"github.com/spf13/cobra"
)

var detailed bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List run versions without analyzing them",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Show discovered runs as a table",
	Long: `Lists every run in the workspace. With --detailed, each configured job is
checked for presence and for tasks that left logs or reports behind.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&detailed, "detailed", false, "check job and task presence (reads the configuration)")
}

func discoverRuns(cmd *cobra.Command, cfg *config.Config, withJobs bool) ([]model.ExecutionRef, error) {
	if settings.WorkspaceBase == "" || settings.ProjectName == "" {
		return nil, fmt.Errorf("workspace not set: use --base and --project or casino_prj_base and casino_prj_name")
	}
	return pipeline.Discover(commandContext(cmd), pipeline.DiscoverOptions{
		Base:     settings.WorkspaceBase,
		Project:  settings.ProjectName,
		Detailed: withJobs,
		Config:   cfg,
		Logger:   logger,
	})
}

func runList(cmd *cobra.Command, args []string) error {
	refs, err := discoverRuns(cmd, nil, false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(refs) == 0 {
		fmt.Fprintln(out, "No run versions found.")
		return nil
	}
	fmt.Fprintf(out, "Found %d run versions:\n", len(refs))
	for i, r := range refs {
		fmt.Fprintf(out, "%d. %s (in %s)\n", i+1, r.RunVersion, r.RelPath)
	}
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if detailed {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	}
	refs, err := discoverRuns(cmd, cfg, detailed)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if detailed {
		fmt.Fprintln(tw, "RUN\tUSER\tBLOCK\tTAG\tJOBS")
	} else {
		fmt.Fprintln(tw, "RUN\tUSER\tBLOCK\tTAG\tPATH")
	}
	for _, r := range refs {
		last := r.RelPath
		if detailed {
			last = describeJobs(r.Jobs)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunVersion, r.User, r.Block, r.DKVerTag, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d runs\n", len(refs))
	return nil
}

// describeJobs renders "apr[place,route] sta[-]"; missing jobs are skipped.
func describeJobs(jobs []model.JobPresence) string {
	var parts []string
	for _, j := range jobs {
		if !j.Exists {
			continue
		}
		tasks := "-"
		if len(j.Tasks) > 0 {
			tasks = strings.Join(j.Tasks, ",")
		}
		name := j.Name
		if !j.Configured {
			name += "?"
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", name, tasks))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}
