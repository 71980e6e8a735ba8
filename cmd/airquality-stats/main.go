package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/airquality-daily-stats/internal/api/http"
	"github.com/i474232898/airquality-daily-stats/internal/archive"
	"github.com/i474232898/airquality-daily-stats/internal/config"
	"github.com/i474232898/airquality-daily-stats/internal/esdr"
	"github.com/i474232898/airquality-daily-stats/internal/importer"
	"github.com/i474232898/airquality-daily-stats/internal/logging"
	"github.com/i474232898/airquality-daily-stats/internal/pipeline"
	"github.com/i474232898/airquality-daily-stats/internal/scheduler"
	"github.com/i474232898/airquality-daily-stats/internal/stats"
	"github.com/i474232898/airquality-daily-stats/internal/store"
	"github.com/i474232898/airquality-daily-stats/internal/tz"
	"github.com/i474232898/airquality-daily-stats/internal/workspace"
)

func main() {
	download := flag.Bool("download", false, "download feed exports into the data directory")
	aggregate := flag.Bool("aggregate", false, "compute daily statistics into the stats directory")
	importStats := flag.Bool("import", false, "import daily statistics into the datastore")
	days := flag.Int("days", 0, "only download the last N days of data (0 = full history)")
	serve := flag.Bool("serve", false, "run the pipeline periodically and serve the HTTP API")
	flag.Parse()

	stages := pipeline.Stages{Download: *download, Aggregate: *aggregate, Import: *importStats}
	if !stages.Any() {
		stages = pipeline.AllStages()
	}
	if *days < 0 {
		fmt.Fprintln(os.Stderr, "-days must not be negative")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if stages.Import {
		if err := cfg.RequireOwner(); err != nil {
			logger.Fatal("import stage cannot run", zap.Error(err))
		}
	}

	finder, err := tz.NewFinder()
	if err != nil {
		logger.Fatal("failed to load timezone data", zap.Error(err))
	}
	generator := stats.NewGenerator(stats.NewBucketizer(finder), stats.WithLogger(logger.Named("stats")))

	// Shared HTTP client for outbound ESDR calls.
	httpClient := &http.Client{
		Timeout: cfg.ESDR.HTTPTimeout,
	}
	client := esdr.NewClient(httpClient, cfg.ESDR.APIRootURL,
		esdr.WithPageSize(cfg.ESDR.PageSize),
		esdr.WithLogger(logger.Named("esdr")),
	)

	ws := workspace.New(cfg.DataDir, cfg.StatsDir)

	var datastore *store.BadgerStore
	if stages.Import || *serve {
		datastore, err = store.OpenBadgerStore(cfg.DatastoreDir)
		if err != nil {
			logger.Fatal("failed to open datastore", zap.Error(err))
		}
		defer datastore.Close()
	}
	var imp *importer.Importer
	if datastore != nil {
		imp = importer.New(ws, datastore, logger.Named("importer"))
	}

	options := []pipeline.Option{pipeline.WithLogger(logger.Named("pipeline"))}
	if cfg.Archive.Enabled() {
		a, err := archive.New(cfg.Archive)
		if err != nil {
			logger.Fatal("failed to configure archive", zap.Error(err))
		}
		options = append(options, pipeline.WithArchive(a))
	}

	runner := pipeline.NewRunner(client, ws, generator, imp, pipeline.Options{
		Multifeed:   cfg.ESDR.Multifeed,
		Channels:    cfg.ESDR.Channels,
		FeedIDs:     cfg.ESDR.FeedIDs,
		OwnerUserID: cfg.ESDR.FeedOwnerUserID,
		Workers:     cfg.AggregateWorkers,
	}, options...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*serve {
		summary, err := runner.Run(ctx, stages, *days)
		if err != nil {
			logger.Error("pipeline run failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		logger.Info("done", zap.String("run_id", summary.RunID))
		return
	}

	sched := scheduler.New(runner, stages, *days, cfg.RunInterval, 0, logger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := httpapi.NewApp()
	app.Use(fiberlogger.New())
	httpapi.RegisterRoutes(app, ws, datastore)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving", zap.String("port", cfg.Port), zap.Duration("interval", cfg.RunInterval))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}
