package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/drluca/shopstream/auditservice/internal/contracts"
	"github.com/drluca/shopstream/auditservice/internal/metrics"
	"github.com/drluca/shopstream/auditservice/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// Recorder persists audit records and reports whether the field was new.
type Recorder interface {
	Record(ctx context.Context, rec models.AuditRecord) (bool, error)
}

// Processor handles deliveries from the main queue. Successful messages are
// audited then acked; failed ones are rejected without requeue so the broker
// dead-letters them.
type Processor struct {
	recorder Recorder
	marker   string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Processor that rejects messages containing failureMarker, ignoring case.
func New(recorder Recorder, failureMarker string, m *metrics.Metrics) *Processor {
	return &Processor{
		recorder: recorder,
		marker:   strings.ToLower(failureMarker),
		metrics:  m,
		now:      time.Now,
	}
}

// MessageHandler classifies, audits and settles one delivery. Any error on
// the way is fail-closed: the delivery is rejected with requeue=false.
func (p *Processor) MessageHandler(ctx context.Context, delivery amqp.Delivery) {
	d := models.NewDelivery(delivery, p.now())
	logger := log.With().Str("consumer", metrics.ConsumerMain).Uint64("deliveryTag", d.DeliveryTag).Logger()
	defer p.metrics.ObserveHandler(metrics.ConsumerMain, d.ReceivedAt)

	logger.Debug().Int("size", len(d.Body)).Msg("Received a message")

	if err := p.process(ctx, d, logger); err != nil {
		p.reject(delivery, err, logger)
		return
	}
	p.ack(delivery, logger)
}

func (p *Processor) process(ctx context.Context, d models.Delivery, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing delivery: %v", r)
		}
	}()

	text, err := Decode(d.Body)
	if err != nil {
		return err
	}
	if err := Classify(text, p.marker); err != nil {
		return err
	}

	created, err := p.recorder.Record(ctx, models.SuccessRecord(d, text))
	if err != nil {
		return fmt.Errorf("audit write failed: %w", err)
	}
	logger.Info().Bool("newField", created).Msg("Message processed and audited")
	return nil
}

func (p *Processor) ack(delivery amqp.Delivery, logger zerolog.Logger) {
	if err := delivery.Ack(false); err != nil {
		p.metrics.DispositionFailed(metrics.ConsumerMain, metrics.DispositionAck)
		logger.Error().Err(err).Msg("Failed to ACK message")
		return
	}
	p.metrics.Disposition(metrics.ConsumerMain, metrics.DispositionAck)
}

func (p *Processor) reject(delivery amqp.Delivery, cause error, logger zerolog.Logger) {
	if isPolicyReject(cause) {
		logger.Warn().Err(cause).Msg("Message failed, rejecting to dead-letter exchange")
	} else {
		logger.Error().Err(cause).Msg("Processing error, rejecting to dead-letter exchange")
	}

	if err := delivery.Reject(false); err != nil {
		p.metrics.DispositionFailed(metrics.ConsumerMain, metrics.DispositionReject)
		logger.Error().Err(err).Msg("Failed to REJECT message")
		return
	}
	p.metrics.Disposition(metrics.ConsumerMain, metrics.DispositionReject)
}

func isPolicyReject(err error) bool {
	return errors.Is(err, contracts.ErrFailureMarker)
}

// Decode interprets the body as UTF-8 text.
func Decode(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", contracts.ErrDecode
	}
	return string(body), nil
}

// Classify returns contracts.ErrFailureMarker when text contains marker,
// ignoring case. marker must already be lower-cased.
func Classify(text, marker string) error {
	if strings.Contains(strings.ToLower(text), marker) {
		return contracts.ErrFailureMarker
	}
	return nil
}
