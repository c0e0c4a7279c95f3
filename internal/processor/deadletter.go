package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/drluca/shopstream/auditservice/internal/metrics"
	"github.com/drluca/shopstream/auditservice/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// DeadLetterProcessor drains the dead-letter queue. Every delivery is audited
// as reviewed and acked; the audit write never gates the ack.
type DeadLetterProcessor struct {
	recorder Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDeadLetter creates a DeadLetterProcessor writing reviewed records through recorder.
func NewDeadLetter(recorder Recorder, m *metrics.Metrics) *DeadLetterProcessor {
	return &DeadLetterProcessor{
		recorder: recorder,
		metrics:  m,
		now:      time.Now,
	}
}

// MessageHandler audits one dead-lettered delivery as reviewed and acks it.
func (p *DeadLetterProcessor) MessageHandler(ctx context.Context, delivery amqp.Delivery) {
	d := models.NewDelivery(delivery, p.now())
	logger := log.With().Str("consumer", metrics.ConsumerDeadLetter).Uint64("deliveryTag", d.DeliveryTag).Logger()
	defer p.metrics.ObserveHandler(metrics.ConsumerDeadLetter, d.ReceivedAt)

	logger.Info().Str("body", string(d.Body)).Msg("Received dead-lettered message")

	created, err := p.record(ctx, d)
	if err != nil {
		// Swallowed: the dead-letter queue must keep draining while the audit sink is down.
		logger.Error().Err(err).Msg("Failed to audit dead-lettered message, acknowledging anyway")
	} else {
		logger.Info().Bool("newField", created).Msg("Dead-lettered message reviewed")
	}

	if err := delivery.Ack(false); err != nil {
		p.metrics.DispositionFailed(metrics.ConsumerDeadLetter, metrics.DispositionAck)
		logger.Error().Err(err).Msg("Failed to ACK dead-lettered message")
		return
	}
	p.metrics.Disposition(metrics.ConsumerDeadLetter, metrics.DispositionAck)
}

func (p *DeadLetterProcessor) record(ctx context.Context, d models.Delivery) (created bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while recording audit: %v", r)
		}
	}()
	return p.recorder.Record(ctx, models.ReviewedRecord(d))
}
