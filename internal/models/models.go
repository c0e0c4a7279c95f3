package models

import (
	"strconv"
	"time"

	"github.com/streadway/amqp"
)

// Collection names the logical audit record collection.
type Collection string

const (
	SuccessDeliveries   Collection = "successDeliveries"
	ReviewedDeadLetters Collection = "reviewedDeadLetters"
)

// reviewedMarker tags dead-letter audit values.
const reviewedMarker = "DLQ REVIEWED: "

// --- Incoming RabbitMQ Message ---

// Delivery is one message instance received from the broker.
// DeliveryTag is only unique within the channel session that delivered it.
type Delivery struct {
	Body        []byte
	DeliveryTag uint64
	ReceivedAt  time.Time
}

// NewDelivery stamps an amqp delivery with its receipt time.
func NewDelivery(d amqp.Delivery, receivedAt time.Time) Delivery {
	return Delivery{
		Body:        d.Body,
		DeliveryTag: d.DeliveryTag,
		ReceivedAt:  receivedAt,
	}
}

// Field returns the audit field key for the delivery.
func (d Delivery) Field() string {
	return strconv.FormatUint(d.DeliveryTag, 10)
}

// --- Audit Store Record ---

// AuditRecord is one entry written to the audit store.
type AuditRecord struct {
	Collection Collection
	Field      string
	Value      string
}

// SuccessRecord builds the record written when the main consumer acks a delivery.
func SuccessRecord(d Delivery, text string) AuditRecord {
	return AuditRecord{
		Collection: SuccessDeliveries,
		Field:      d.Field(),
		Value:      stamp(d.ReceivedAt) + " - " + text,
	}
}

// ReviewedRecord builds the record written for every dead-lettered delivery.
func ReviewedRecord(d Delivery) AuditRecord {
	return AuditRecord{
		Collection: ReviewedDeadLetters,
		Field:      d.Field(),
		Value:      stamp(d.ReceivedAt) + " - " + reviewedMarker + string(d.Body),
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
