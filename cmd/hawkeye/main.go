package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/logging"
	"hawkeye-pipeline/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	settings = config.SettingsFromEnv()
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "hawkeye",
	Short: "Hawkeye - chip-design run report miner",
	Long: `Hawkeye walks a project workspace laid out as
  {base}/{project}/works_{user}/{block}/{dk_ver_tag}/runs/{run_version}
extracts the metrics declared in the configuration from each run's logs and
reports, rolls them up per job and run, and archives the results.

Discovery never opens report files; analysis is always explicit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.Validate(); err != nil {
			return err
		}
		l, err := logging.New(settings.LogLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "analysis configuration (YAML)")
	flags.StringVar(&settings.WorkspaceBase, "base", settings.WorkspaceBase, "workspace base directory (env casino_prj_base)")
	flags.StringVar(&settings.ProjectName, "project", settings.ProjectName, "project name under the base (env casino_prj_name)")
	flags.StringVar(&settings.ArchiveDir, "archive-dir", settings.ArchiveDir, "archive directory")
	flags.IntVarP(&settings.Workers, "workers", "w", settings.Workers, "concurrent step analyses")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")

	rootCmd.AddCommand(listCmd, discoverCmd, analyzeCmd, analyzeAllCmd, archiveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		zap.String("path", settings.ConfigPath),
		zap.Int("tasks", cfg.Tasks.Len()),
		zap.Int("jobs", cfg.Jobs.Len()))
	return cfg, nil
}

func openArchive(ctx context.Context) (*store.ArchiveStore, error) {
	return store.Open(ctx, settings.ArchiveDir, store.WithLogger(logger))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
