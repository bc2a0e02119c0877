package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hawkeye-pipeline/internal/api"
	"hawkeye-pipeline/internal/api/handler"
	"hawkeye-pipeline/internal/catalog"
	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/logging"
	"hawkeye-pipeline/internal/store"
	"hawkeye-pipeline/pkg/router"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var settings = config.SettingsFromEnv()

var rootCmd = &cobra.Command{
	Use:          "hawkeye-api",
	Short:        "Serve the Hawkeye archive over HTTP",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&settings.Listen, "listen", settings.Listen, "listen address")
	flags.StringVar(&settings.ArchiveDir, "archive-dir", settings.ArchiveDir, "archive directory")
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "configuration used to group keywords")
	flags.BoolVar(&settings.WatchArchive, "watch", settings.WatchArchive, "index data files copied into the archive")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	archive, err := store.Open(ctx, settings.ArchiveDir, store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer archive.Close()

	// keywords fall into "Other" without a configuration
	var cat *catalog.Catalog
	if cfg, err := config.Load(settings.ConfigPath); err != nil {
		logger.Warn("keyword grouping disabled", zap.Error(err))
		cat = catalog.New(nil)
	} else {
		cat = catalog.New(cfg)
	}

	r := router.New(logger)
	api.RegisterRoutes(r, handler.NewArchiveHandler(archive, cat, logger))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Start(ctx, settings.Listen) })
	if settings.WatchArchive {
		g.Go(func() error { return archive.Watch(ctx) })
	}
	return g.Wait()
}
