package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"hawkeye-pipeline/internal/model"
	"hawkeye-pipeline/internal/store"
	"hawkeye-pipeline/pkg/utils"

	"github.com/spf13/cobra"
)

var (
	listFilter   listFlags
	listLimit    int
	keywordName  string
	keywordBrief bool
)

type listFlags struct {
	run, user, base, from, to string
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and maintain the results archive",
}

var archiveStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	Args:  cobra.NoArgs,
	RunE:  runArchiveStats,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest archived entry of each run",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one archived run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveShow,
}

var archiveExportCmd = &cobra.Command{
	Use:   "export <file.csv>",
	Short: "Export the latest archived runs to CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveExport,
}

var archiveRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Index data files the archive index does not know about",
	Args:  cobra.NoArgs,
	RunE:  runArchiveRepair,
}

var archiveKeywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Show archived metrics",
	Args:  cobra.NoArgs,
	RunE:  runArchiveKeywords,
}

func init() {
	f := archiveListCmd.Flags()
	f.StringVar(&listFilter.run, "run", "", "run version substring")
	f.StringVar(&listFilter.user, "user", "", "user name")
	f.StringVar(&listFilter.base, "base-dir", "", "workspace base directory name")
	f.StringVar(&listFilter.from, "from", "", "archived at or after (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&listFilter.to, "to", "", "archived at or before (RFC 3339, or YYYY-MM-DD for the whole day)")
	f.IntVar(&listLimit, "limit", 10, "rows to print, 0 for all")

	archiveKeywordsCmd.Flags().StringVar(&keywordName, "name", "", "only this metric")
	archiveKeywordsCmd.Flags().BoolVar(&keywordBrief, "summary", false, "one line per metric name")

	archiveCmd.AddCommand(archiveStatsCmd, archiveListCmd, archiveShowCmd, archiveExportCmd, archiveRepairCmd, archiveKeywordsCmd)
}

// withArchive opens the archive for the duration of fn.
func withArchive(cmd *cobra.Command, fn func(*store.ArchiveStore) error) error {
	archive, err := openArchive(commandContext(cmd))
	if err != nil {
		return err
	}
	defer archive.Close()
	return fn(archive)
}

func runArchiveStats(cmd *cobra.Command, args []string) error {
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		stats, err := a.Stats(commandContext(cmd))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Archive\t%s\n", a.Dir())
		fmt.Fprintf(tw, "Total entries\t%d\n", stats.TotalEntries)
		fmt.Fprintf(tw, "Unique executions\t%d\n", stats.UniqueExecutions)
		fmt.Fprintf(tw, "Total tasks\t%d\n", stats.TotalSteps)
		fmt.Fprintf(tw, "Total keywords\t%d\n", stats.TotalKeywords)
		fmt.Fprintf(tw, "Recent entries (7d)\t%d\n", stats.RecentEntries)
		fmt.Fprintf(tw, "Average completion\t%.1f%%\n", stats.AverageCompletionRate)
		fmt.Fprintf(tw, "Archive size\t%.2f MB\n", stats.ArchiveSizeMB)
		if stats.Oldest != nil && stats.Newest != nil {
			fmt.Fprintf(tw, "Oldest\t%s\n", stats.Oldest.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(tw, "Newest\t%s\n", stats.Newest.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	})
}

func (l listFlags) filter() (model.ListFilter, error) {
	f := model.ListFilter{RunVersion: l.run, User: l.user, BaseDir: l.base}
	var err error
	if f.From, err = parseFlagTime("from", l.from, utils.ParseTime); err != nil {
		return f, err
	}
	if f.To, err = parseFlagTime("to", l.to, utils.ParseEndTime); err != nil {
		return f, err
	}
	return f, nil
}

func parseFlagTime(flag, value string, parse func(string) (time.Time, bool)) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, ok := parse(value)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --%s %q", flag, value)
	}
	return t, nil
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	filter, err := listFilter.filter()
	if err != nil {
		return err
	}
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		entries, err := a.List(commandContext(cmd), filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Archived runs (%d)\n", len(entries))
		shown := entries
		if listLimit > 0 && len(shown) > listLimit {
			shown = shown[:listLimit]
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tARCHIVED\tRUN\tUSER\tBLOCK\tTAG\tDONE")
		for _, e := range shown {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.0f%%\n",
				e.ID, e.ArchivedAt.Local().Format("2006-01-02 15:04"), e.RunVersion, e.User, e.Block, e.DKVerTag, e.CompletionRate)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if rest := len(entries) - len(shown); rest > 0 {
			fmt.Fprintf(out, "... and %d more\n", rest)
		}
		return nil
	})
}

func runArchiveShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry id %q", args[0])
	}
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		archived, err := a.Get(commandContext(cmd), id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(archived)
	})
}

func runArchiveExport(cmd *cobra.Command, args []string) error {
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		n, err := a.ExportCSVFile(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", n, args[0])
		return nil
	})
}

func runArchiveRepair(cmd *cobra.Command, args []string) error {
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		res, err := a.Repair(commandContext(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scanned %d data files, indexed %d\n", res.Scanned, res.Indexed)
		for _, f := range res.Failed {
			fmt.Fprintf(out, "  failed: %s\n", f)
		}
		return nil
	})
}

func runArchiveKeywords(cmd *cobra.Command, args []string) error {
	return withArchive(cmd, func(a *store.ArchiveStore) error {
		ctx := commandContext(cmd)
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if keywordBrief {
			summary, err := a.KeywordSummary(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "KEYWORD\tCOUNT\tRUNS\tUNITS\tSAMPLES")
			for _, s := range summary {
				if keywordName != "" && s.Name != keywordName {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					s.Name, s.Count, len(s.Runs), strings.Join(s.Units, ","), strings.Join(s.Samples, ", "))
			}
			return tw.Flush()
		}

		rows, err := a.Keywords(ctx, keywordName)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ENTRY\tRUN\tUSER\tJOB\tTASK\tKEYWORD\tVALUE\tUNIT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.EntryID, r.RunVersion, r.User, r.Group, r.Step, r.Keyword, r.Value, r.Unit)
		}
		return tw.Flush()
	})
}
