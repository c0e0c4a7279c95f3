package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/drluca/shopstream/auditservice/internal/contracts"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when the manager has already been closed.
var ErrClosed = errors.New("rabbitmq manager closed")

// brokerConnection is the subset of *amqp.Connection the manager drives after dialing.
type brokerConnection interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	Close() error
}

// RabbitMQManager owns the broker connection. Every consumer and publisher
// gets its own channel over that connection, so no two goroutine groups ever
// write frames on the same channel.
type RabbitMQManager struct {
	config          config.Config
	connection      brokerConnection
	notifyConnClose chan *amqp.Error

	mu        sync.Mutex
	consumers []*Consumer
	closed    bool
}

// NewRabbitMQManager dials the broker, retrying up to CONNECT_ATTEMPTS times.
func NewRabbitMQManager(cfg config.Config) (*RabbitMQManager, error) {
	conn, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	rmq := &RabbitMQManager{
		config:          cfg,
		connection:      conn,
		notifyConnClose: make(chan *amqp.Error, 1),
	}
	conn.NotifyClose(rmq.notifyConnClose)

	log.Info().Msg("RabbitMQ connected successfully")
	return rmq, nil
}

func dial(cfg config.Config) (*amqp.Connection, error) {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info().Int("attempt", attempt).Int("maxAttempts", attempts).Msg("Attempting to connect to RabbitMQ")
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("RabbitMQ connection attempt failed")
		if attempt < attempts {
			time.Sleep(cfg.ReconnectDelay)
		}
	}
	return nil, fmt.Errorf("failed to dial RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// DeclareTopology provisions exchanges, queues and bindings on a short-lived channel.
func (rmq *RabbitMQManager) DeclareTopology() error {
	ch, err := rmq.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return DeclareTopology(ch, TopologyFromConfig(rmq.config))
}

// StartConsuming opens a dedicated channel for queue and starts a worker
// pool feeding deliveries to handler.
func (rmq *RabbitMQManager) StartConsuming(ctx context.Context, name, queue string, handler contracts.MessageHandler) (*Consumer, error) {
	ch, err := rmq.channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(
		rmq.config.RabbitMQPrefetchCount, // prefetchCount
		0,                                // prefetchSize
		false,                            // global - false means per consumer
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS on %s channel: %w", name, err)
	}

	consumer := newConsumer(ch, name, queue, consumerTag(rmq.config.ConsumerTag, name))
	if err := consumer.start(ctx, rmq.config.ConsumerConcurrency, handler); err != nil {
		ch.Close()
		return nil, err
	}

	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	if rmq.closed {
		_ = consumer.Stop()
		return nil, ErrClosed
	}
	rmq.consumers = append(rmq.consumers, consumer)
	return consumer, nil
}

// NotifyClosed delivers the error that closed the connection. It is closed
// without a value after a graceful Close.
func (rmq *RabbitMQManager) NotifyClosed() <-chan *amqp.Error {
	return rmq.notifyConnClose
}

// StopConsuming cancels every consumer and waits for in-flight deliveries
// to settle. Channels are closed afterwards; the connection stays open.
func (rmq *RabbitMQManager) StopConsuming() error {
	rmq.mu.Lock()
	consumers := rmq.consumers
	rmq.consumers = nil
	rmq.mu.Unlock()

	var g errgroup.Group
	for _, c := range consumers {
		g.Go(c.Stop)
	}
	return g.Wait()
}

// Close stops all consumers, then closes the connection.
func (rmq *RabbitMQManager) Close() error {
	log.Info().Msg("Closing RabbitMQ manager...")

	err := rmq.StopConsuming()

	rmq.mu.Lock()
	rmq.closed = true
	rmq.mu.Unlock()

	if rmq.connection != nil && !rmq.connection.IsClosed() {
		log.Info().Msg("Closing RabbitMQ connection.")
		if cerr := rmq.connection.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close connection: %w", cerr))
		}
	}
	log.Info().Msg("RabbitMQ manager closed.")
	return err
}

func (rmq *RabbitMQManager) channel() (*amqp.Channel, error) {
	rmq.mu.Lock()
	closed := rmq.closed
	rmq.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ch, err := rmq.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}
