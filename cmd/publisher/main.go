// Command publisher sends sample messages to the main exchange so the
// worker's ack and dead-letter paths can be exercised against a real broker.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/drluca/shopstream/auditservice/internal/eventbus"
	"github.com/drluca/shopstream/auditservice/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.Setup("info", "console")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	flag.Parse()
	messages := flag.Args()
	if len(messages) == 0 {
		messages = []string{
			"order #1 failed: hata occurred",
			"order #2 shipped",
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rmq, err := eventbus.NewRabbitMQManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ manager")
	}
	defer rmq.Close()

	if cfg.DeclareTopology {
		if err := rmq.DeclareTopology(); err != nil {
			log.Fatal().Err(err).Msg("Failed to declare topology")
		}
	}

	pub, err := rmq.NewPublisher()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open publisher")
	}
	defer pub.Close()

	failed := 0
	for _, body := range messages {
		id, err := pub.Publish(ctx, cfg.MainExchangeName, cfg.MainRoutingKey, []byte(body))
		if err != nil {
			failed++
			log.Error().Err(err).Str("body", body).Msg("Failed to publish message")
			continue
		}
		log.Info().Str("messageId", id).Str("body", body).Msg("Message published")
	}

	if failed > 0 {
		pub.Close()
		rmq.Close()
		os.Exit(1)
	}
}
