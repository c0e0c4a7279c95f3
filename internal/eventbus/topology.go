package eventbus

import (
	"fmt"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// Topology names the main and dead-letter routing.
type Topology struct {
	MainExchange   string
	MainQueue      string
	MainRoutingKey string
	DLXName        string
	DLQName        string
}

// TopologyFromConfig reads exchange, queue and routing key names from cfg.
func TopologyFromConfig(cfg config.Config) Topology {
	return Topology{
		MainExchange:   cfg.MainExchangeName,
		MainQueue:      cfg.MainQueueName,
		MainRoutingKey: cfg.MainRoutingKey,
		DLXName:        cfg.DLXName,
		DLQName:        cfg.DLQName,
	}
}

type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the fanout dead-letter exchange and its queue
// first, then the direct main exchange and a main queue that dead-letters
// rejected messages into it.
func DeclareTopology(ch topologyChannel, t Topology) error {
	log.Info().Str("dlx_exchange", t.DLXName).Msg("Declaring Dead Letter Exchange (DLX)")
	if err := ch.ExchangeDeclare(
		t.DLXName, // name
		"fanout",  // type
		true,      // durable
		false,     // auto-deleted
		false,     // internal
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		return fmt.Errorf("failed to declare DLX %s: %w", t.DLXName, err)
	}

	log.Info().Str("dlq_name", t.DLQName).Msg("Declaring Dead Letter Queue (DLQ)")
	if _, err := ch.QueueDeclare(
		t.DLQName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", t.DLQName, err)
	}

	// Fanout ignores the key; bind with the empty one.
	if err := ch.QueueBind(t.DLQName, "", t.DLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s to DLX %s: %w", t.DLQName, t.DLXName, err)
	}

	log.Info().Str("exchange", t.MainExchange).Msg("Declaring main exchange")
	if err := ch.ExchangeDeclare(
		t.MainExchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare main exchange %s: %w", t.MainExchange, err)
	}

	queueArgs := amqp.Table{
		"x-dead-letter-exchange": t.DLXName,
	}
	log.Info().Str("queue", t.MainQueue).Msg("Declaring main queue")
	if _, err := ch.QueueDeclare(
		t.MainQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		queueArgs,   // arguments with DLX
	); err != nil {
		return fmt.Errorf("failed to declare main queue %s: %w", t.MainQueue, err)
	}

	if err := ch.QueueBind(t.MainQueue, t.MainRoutingKey, t.MainExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind main queue %s with key %s to exchange %s: %w",
			t.MainQueue, t.MainRoutingKey, t.MainExchange, err)
	}

	log.Info().Str("queue", t.MainQueue).Str("dlq", t.DLQName).Msg("Topology declared successfully")
	return nil
}
