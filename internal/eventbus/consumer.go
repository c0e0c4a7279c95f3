package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drluca/shopstream/auditservice/internal/contracts"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

// consumerChannel is the subset of *amqp.Channel a Consumer drives.
type consumerChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Consumer is one broker subscription on its own channel, served by a pool
// of handler goroutines.
type Consumer struct {
	name  string
	queue string
	tag   string
	ch    consumerChannel

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func newConsumer(ch consumerChannel, name, queue, tag string) *Consumer {
	return &Consumer{
		name:  name,
		queue: queue,
		tag:   tag,
		ch:    ch,
		done:  make(chan struct{}),
	}
}

func consumerTag(prefix, name string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, name, uuid.NewString())
}

// start registers the subscription with manual acknowledgement and spawns
// concurrency workers. Handlers receive a context that outlives the stop
// signal so in-flight deliveries always settle.
func (c *Consumer) start(ctx context.Context, concurrency int, handler contracts.MessageHandler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	msgs, err := c.ch.Consume(
		c.queue, // queue
		c.tag,   // consumer tag
		false,   // auto-ack (false means we manually ack/reject)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to register %s consumer on %s: %w", c.name, c.queue, err)
	}

	handlerCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for delivery := range msgs {
				handler(handlerCtx, delivery)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		log.Info().Str("consumer", c.name).Str("queue", c.queue).Msg("Delivery channel closed, consumer stopped.")
		close(c.done)
	}()

	log.Info().Str("consumer", c.name).Str("queue", c.queue).Str("tag", c.tag).Int("workers", concurrency).Msg("Consumer started, waiting for messages...")
	return nil
}

// Name identifies the consumer in logs.
func (c *Consumer) Name() string { return c.name }

// Done is closed once every worker has returned, whether after Stop or
// because the broker closed the channel.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Stop cancels the subscription, waits for in-flight deliveries to be
// handled, then closes the channel. It is safe to call more than once.
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() {
		log.Info().Str("consumer", c.name).Msg("Stopping consumer")

		var errs []error
		if err := c.ch.Cancel(c.tag, false); err != nil {
			// Without a cancel-ok the delivery channel only closes with the channel itself.
			if !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, fmt.Errorf("cancel %s consumer: %w", c.name, err))
			}
			if cerr := c.ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				errs = append(errs, fmt.Errorf("close %s channel: %w", c.name, cerr))
			}
			<-c.done
			c.stopErr = errors.Join(errs...)
			return
		}

		<-c.done
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s channel: %w", c.name, err))
		}
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}
