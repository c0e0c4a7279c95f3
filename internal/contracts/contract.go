package contracts

import (
	"context"
	"errors"

	"github.com/streadway/amqp"
)

// MessageHandler defines the signature for a function that processes a RabbitMQ delivery.
// It's the contract between the eventbus consumer and the message processor.
// The handler owns the disposition: it must ack or reject the delivery before returning.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery)

// ErrFailureMarker signals that the message text carries the failure marker.
// It is a policy outcome, not a processing fault.
var ErrFailureMarker = errors.New("message contains failure marker")

// ErrDecode signals that the delivery body could not be decoded as text.
var ErrDecode = errors.New("message body is not valid UTF-8 text")
