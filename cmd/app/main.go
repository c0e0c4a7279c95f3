package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/drluca/shopstream/auditservice/internal/audit"
	"github.com/drluca/shopstream/auditservice/internal/eventbus"
	"github.com/drluca/shopstream/auditservice/internal/logging"
	"github.com/drluca/shopstream/auditservice/internal/metrics"
	"github.com/drluca/shopstream/auditservice/internal/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Setup structured logging
	logging.Setup("info", "console")

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	log.Info().Str("appName", cfg.AppName).Str("auditBackend", cfg.AuditBackend).Msg("Application starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Application stopped with error")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("Application exited")
}

func run(ctx context.Context, cfg config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	// --- Initializations, released in reverse order ---

	store, err := audit.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize audit store: %w", err)
	}

	rmq, err := eventbus.NewRabbitMQManager(cfg)
	if err != nil {
		release(nil, store)
		return fmt.Errorf("failed to initialize RabbitMQ manager: %w", err)
	}
	defer release(rmq, store)

	if cfg.DeclareTopology {
		if err := rmq.DeclareTopology(); err != nil {
			return fmt.Errorf("failed to declare topology: %w", err)
		}
	}

	recorder := audit.NewRecorder(store, cfg.SuccessCollection, cfg.DLQCollection, cfg.AuditWriteTimeout, m)

	mainConsumer, err := rmq.StartConsuming(ctx, metrics.ConsumerMain, cfg.MainQueueName,
		processor.New(recorder, cfg.FailureMarker, m).MessageHandler)
	if err != nil {
		return fmt.Errorf("failed to start main consumer: %w", err)
	}

	dlqConsumer, err := rmq.StartConsuming(ctx, metrics.ConsumerDeadLetter, cfg.DLQName,
		processor.NewDeadLetter(recorder, m).MessageHandler)
	if err != nil {
		return fmt.Errorf("failed to start dead-letter consumer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, prometheus.DefaultGatherer)
		})
	}

	log.Info().Msg("Application setup complete. Running and waiting for messages.")

	// --- Wait for shutdown signal or a broken broker session ---
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr, ok := <-rmq.NotifyClosed():
			if ok && amqpErr != nil {
				return fmt.Errorf("RabbitMQ connection lost: %w", amqpErr)
			}
			return errors.New("RabbitMQ connection closed")
		case <-mainConsumer.Done():
			return fmt.Errorf("%s consumer stopped unexpectedly", mainConsumer.Name())
		case <-dlqConsumer.Done():
			return fmt.Errorf("%s consumer stopped unexpectedly", dlqConsumer.Name())
		}
	})

	err = g.Wait()

	// --- Graceful Shutdown ---
	// In-flight deliveries settle before channels, connection and store are released.
	log.Info().Msg("Application shutting down...")
	if serr := rmq.StopConsuming(); serr != nil {
		log.Error().Err(serr).Msg("Error stopping consumers")
	}
	return err
}

// release closes the broker session, which drains consumers and closes their
// channels and the connection, and only then the audit store. A nil bus is skipped.
func release(bus, store io.Closer) {
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing RabbitMQ manager")
		}
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing audit store")
	}
}
