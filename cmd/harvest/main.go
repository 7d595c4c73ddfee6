package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/floraset/internal/config"
	"github.com/timmy/floraset/internal/dataset"
	"github.com/timmy/floraset/internal/logger"
	"github.com/timmy/floraset/internal/repository"
	"github.com/timmy/floraset/internal/service"
	"github.com/timmy/floraset/internal/source/gbif"
	"github.com/timmy/floraset/internal/specieslist"
	"github.com/timmy/floraset/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "floraset-harvest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	listPath := flag.String("list", "", "Path to the species list file (one scientific name per line)")
	outDir := flag.String("out", "", "Output directory for the dataset")
	capPerSpecies := flag.Int("cap", 0, "Maximum image/metadata pairs per species (default 1000)")
	workers := flag.Int("workers", 0, "Concurrent record processors per species")
	force := flag.Bool("force", false, "Re-download records that already exist on disk")
	verify := flag.Bool("verify", false, "Verify image/metadata pairing in the output directory and exit")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Flags override config file values
	if *listPath != "" {
		cfg.Harvest.SpeciesList = *listPath
	}
	if *outDir != "" {
		cfg.Harvest.OutputDir = *outDir
	}
	if *capPerSpecies > 0 {
		cfg.Harvest.Cap = *capPerSpecies
	}
	if *workers > 0 {
		cfg.Harvest.Workers = *workers
	}

	writer, err := dataset.NewWriter(cfg.Harvest.OutputDir)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open output directory")
	}

	if *verify {
		os.Exit(runVerify(appLogger, writer))
	}

	species, err := specieslist.Load(cfg.Harvest.SpeciesList)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load species list")
	}

	appLogger.WithFields(logger.Fields{
		"species": len(species),
		"out":     cfg.Harvest.OutputDir,
		"cap":     cfg.Harvest.Cap,
		"force":   *force,
	}).Info("Starting harvest")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	harvestRepo := repository.NewHarvestRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the optional S3-compatible mirror (supports R2, S3, etc.)
	var mirror storage.ObjectStorage
	if cfg.Storage.Enabled {
		mirror, err = storage.NewStorage(&storage.S3Config{
			Type:      storage.StorageType(cfg.Storage.Type),
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage mirror")
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Initialize the GBIF source
	client := gbif.NewClient(&gbif.ClientConfig{
		BaseURL:           cfg.GBIF.BaseURL,
		UserAgent:         cfg.GBIF.UserAgent,
		RequestsPerSecond: cfg.GBIF.RequestsPerSecond,
		Burst:             cfg.GBIF.Burst,
		MaxRetries:        cfg.GBIF.MaxRetries,
		Timeout:           time.Duration(cfg.GBIF.TimeoutSeconds) * time.Second,
	})
	src := gbif.NewAdapter(client, cfg.Harvest.PageSize)

	harvestService := service.NewHarvestService(
		src,
		writer,
		harvestRepo,
		mirror,
		appLogger,
		&service.HarvestConfig{
			Cap:     cfg.Harvest.Cap,
			Workers: cfg.Harvest.Workers,
			Force:   *force,
		},
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	summary, err := harvestService.Run(ctx, species)
	if err != nil {
		appLogger.WithError(err).Error("Harvest aborted")
		if summary != nil {
			summary.WriteTable(os.Stdout)
		}
		os.Exit(1)
	}

	summary.WriteTable(os.Stdout)

	if failed := summary.FullyFailed(); len(failed) > 0 {
		appLogger.WithField("species", failed).Error("Some species produced no records")
		os.Exit(1)
	}
}

// runVerify checks that every image has metadata and vice versa.
func runVerify(appLogger *logger.Logger, writer *dataset.Writer) int {
	unpaired, err := writer.VerifyPairing()
	if err != nil {
		appLogger.WithError(err).Error("Verification failed")
		return 1
	}
	if len(unpaired) == 0 {
		fmt.Println("OK: all images and metadata files are paired")
		return 0
	}
	for _, stem := range unpaired {
		fmt.Printf("UNPAIRED: %s\n", stem)
	}
	return 1
}
