package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kipavy/bigdata-filrouge/internal/config"
	"github.com/kipavy/bigdata-filrouge/internal/extractor"
	"github.com/kipavy/bigdata-filrouge/internal/pipeline"
	"github.com/kipavy/bigdata-filrouge/internal/repository"
	"github.com/kipavy/bigdata-filrouge/internal/scheduler"
	"github.com/kipavy/bigdata-filrouge/internal/staging"
	"github.com/kipavy/bigdata-filrouge/pkg/database"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

func main() {
	// Parse command-line flags
	once := flag.Bool("once", false, "Run a single extract + transform-load cycle and exit")
	skipExtract := flag.Bool("skip-extract", false, "Skip extraction; only process already staged batches")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel := logging.InfoLevel
	if cfg.Logging.Level == "debug" {
		logLevel = logging.DebugLevel
	}

	logger := logging.NewStructuredLogger("velib-pipeline", "1.0.0", logLevel)

	ctx := context.Background()
	logger.Info(ctx, "[PIPELINE_START] Starting station status pipeline", logging.Fields{
		"version":  "1.0.0",
		"interval": cfg.Pipeline.Interval.String(),
		"once":     *once,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("velib_pipeline")

	// Initialize staging store
	stagingStore, err := staging.NewMongoStore(&staging.Config{
		URI:            cfg.Staging.URI,
		Database:       cfg.Staging.Database,
		Collection:     cfg.Staging.Collection,
		ConnectTimeout: cfg.Staging.ConnectTimeout,
	}, logger)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to connect to staging store", logging.Fields{}, err)
	}
	defer stagingStore.Close(context.Background())

	// Initialize warehouse database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to connect to warehouse", logging.Fields{}, err)
	}
	defer db.Close()

	// Wire up the pipeline
	warehouseRepo := repository.NewWarehouseRepository(db, logger, metricsCollector)

	apiClient := extractor.NewClient(extractor.ClientConfig{
		APIURL:     cfg.Extractor.APIURL,
		Dataset:    cfg.Extractor.Dataset,
		Rows:       cfg.Extractor.Rows,
		Timeout:    cfg.Extractor.Timeout,
		MaxRetries: cfg.Extractor.MaxRetries,
	})
	ext := extractor.NewExtractor(apiClient, stagingStore, logger, metricsCollector)

	runner := pipeline.NewRunner(
		stagingStore,
		warehouseRepo,
		pipeline.DedupPolicy(cfg.Pipeline.DedupPolicy),
		logger,
		metricsCollector,
	)

	if *once {
		runOnce(ctx, cfg, ext, runner, logger, *skipExtract)
		return
	}

	// Scheduled mode
	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.Pipeline.Interval,
		Retries:     cfg.Pipeline.Retries,
		RetryDelay:  cfg.Pipeline.RetryDelay,
		TaskTimeout: cfg.Pipeline.TaskTimeout,
	}, ext, runner, logger, metricsCollector)

	if err := sched.Start(); err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to start scheduler", logging.Fields{}, err)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[PIPELINE_SHUTDOWN] Shutting down pipeline...", logging.Fields{})
	sched.Stop()
	logger.Info(ctx, "[PIPELINE_SHUTDOWN_COMPLETE] Pipeline stopped", logging.Fields{})
}

// runOnce executes a single cycle and prints the run summary
func runOnce(ctx context.Context, cfg *config.Config, ext *extractor.Extractor, runner *pipeline.Runner, logger *logging.StructuredLogger, skipExtract bool) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.TaskTimeout)
	defer cancel()

	if !skipExtract {
		result, err := ext.Run(runCtx)
		if err != nil {
			logger.Fatal(ctx, "[EXTRACT_ERROR] Extraction failed", logging.Fields{}, err)
		}
		fmt.Printf("Staged batch %s with %d records\n", result.BatchID, result.RecordCount)
	}

	summary, err := runner.Run(runCtx)
	if err != nil {
		logger.Fatal(ctx, "[RUN_ERROR] Transform-load failed", logging.Fields{
			"batch_id": summary.BatchID,
		}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("TRANSFORM-LOAD COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:                  %s\n", summary.RunID)
	fmt.Printf("Batch ID:                %s\n", summary.BatchID)
	fmt.Printf("Status:                  %s\n", summary.Status)
	fmt.Printf("Accepted:                %d\n", summary.Accepted)
	fmt.Printf("Rejected:                %d\n", summary.Rejected)
	fmt.Printf("Upserted Stations:       %d\n", summary.UpsertedStations)
	fmt.Printf("Inserted Facts:          %d\n", summary.InsertedFacts)
	fmt.Printf("Skipped Duplicate Facts: %d\n", summary.SkippedDuplicateFacts)
	fmt.Printf("Duration:                %v\n", summary.Duration)

	if len(summary.Errors) > 0 {
		fmt.Printf("\nRejections (%d):\n", len(summary.Errors))
		for i, rejection := range summary.Errors {
			if i >= 10 {
				fmt.Printf("  ... and %d more rejections\n", len(summary.Errors)-10)
				break
			}
			fmt.Printf("  - %s: %s\n", rejection.RecordRef, rejection.Reason)
		}
	}
}
