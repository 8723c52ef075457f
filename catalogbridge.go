package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/catalogbridge/admin"
	"github.com/maxpert/catalogbridge/catalog"
	"github.com/maxpert/catalogbridge/cfg"
	"github.com/maxpert/catalogbridge/checkpoint"
	"github.com/maxpert/catalogbridge/publisher"
	_ "github.com/maxpert/catalogbridge/publisher/sink"
	_ "github.com/maxpert/catalogbridge/publisher/transformer"
	"github.com/maxpert/catalogbridge/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().
		Str("topic", cfg.Config.Publisher.Topic).
		Str("broker", string(cfg.Config.Broker.Type)).
		Msg("catalogbridge - catalog poll and publish")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	source := catalog.NewClient(
		cfg.Config.Upstream.URL,
		cfg.Config.Upstream.APIKey,
		time.Duration(cfg.Config.Upstream.TimeoutSeconds)*time.Second,
	)

	store, err := checkpoint.Open(cfg.Config.Checkpoint, cfg.Config.Publisher.Topic)
	if err != nil {
		log.Fatal().Err(err).Str("store", string(cfg.Config.Checkpoint.Store)).Msg("Failed to open checkpoint store")
		return
	}

	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
		Config:     cfg.Config,
		Source:     source,
		Checkpoint: store,
	})
	if err != nil {
		store.Close()
		log.Fatal().Err(err).Msg("Failed to initialize publisher")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx)
	})

	if cfg.Config.Prometheus.Enabled {
		router := admin.NewRouter(admin.NewHandlers(registry.Loop()), cfg.Config.Prometheus.StatusToken)
		g.Go(func() error {
			return admin.Serve(gctx, cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port, router)
		})
	}

	runErr := g.Wait()

	// Flush outstanding publishes before exiting
	if err := registry.Close(); err != nil {
		log.Warn().Err(err).Msg("Error during shutdown")
	}

	if runErr != nil {
		fatal(runErr)
		return
	}

	log.Info().Msg("Shutdown complete")
}

// fatal logs a loop failure with the context an operator needs to fix it
func fatal(err error) {
	var outOfRange *publisher.CheckpointOutOfRangeError
	switch {
	case errors.As(err, &outOfRange):
		log.Fatal().
			Err(err).
			Int("checkpoint", outOfRange.Checkpoint).
			Int("catalog_length", outOfRange.CatalogLength).
			Msg("Checkpoint points past the end of the catalog; reset the checkpoint store")
	case errors.Is(err, publisher.ErrTopicMissing):
		log.Fatal().Err(err).Str("topic", cfg.Config.Publisher.Topic).Msg("Target topic is not provisioned")
	case errors.Is(err, catalog.ErrUpstreamFormat):
		log.Fatal().Err(err).Str("url", cfg.Config.Upstream.URL).Msg("Upstream catalog format changed")
	default:
		log.Fatal().Err(err).Msg("Catalog publisher stopped")
	}
}
