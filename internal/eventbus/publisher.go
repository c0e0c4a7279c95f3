package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const defaultPublishTimeout = 5 * time.Second

var (
	ErrPublishNacked  = errors.New("message published but not confirmed by broker")
	ErrPublishTimeout = errors.New("publish confirmation timeout")
)

type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends text messages on a dedicated confirm-mode channel.
type Publisher struct {
	mu            sync.Mutex
	ch            publishChannel
	notifyConfirm chan amqp.Confirmation
	timeout       time.Duration
	// published counts accepted publishes; the broker numbers confirms the same way, from 1.
	published uint64
}

// NewPublisher opens a channel in confirm mode.
func (rmq *RabbitMQManager) NewPublisher() (*Publisher, error) {
	ch, err := rmq.channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	notifyConfirm := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return newPublisher(ch, notifyConfirm, rmq.config.PublishTimeout), nil
}

func newPublisher(ch publishChannel, notifyConfirm chan amqp.Confirmation, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{ch: ch, notifyConfirm: notifyConfirm, timeout: timeout}
}

// Publish sends body as a persistent text message and waits for the broker
// confirmation. Calls are serialized; confirms left over from an earlier
// timed-out publish are discarded by delivery tag.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	messageID := uuid.NewString()
	err := p.ch.Publish(
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	p.published++
	expected := p.published

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-p.notifyConfirm:
			if !ok {
				return "", amqp.ErrClosed
			}
			if confirm.DeliveryTag < expected {
				log.Warn().Uint64("tag", confirm.DeliveryTag).Uint64("expected", expected).Bool("ack", confirm.Ack).Msg("Discarding late confirmation of an earlier publish")
				continue
			}
			if !confirm.Ack {
				log.Error().Uint64("tag", confirm.DeliveryTag).Str("messageId", messageID).Msg("Message published but not confirmed (Nacked by broker)")
				return "", ErrPublishNacked
			}
			log.Debug().Uint64("tag", confirm.DeliveryTag).Str("messageId", messageID).Msg("Message published and confirmed")
			return messageID, nil
		case <-timer.C:
			return "", ErrPublishTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
