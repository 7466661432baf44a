// Package eventbus is the ordered, at-least-once channel between services.
//
// Every topic is a single ordered log. A consumer group sees entries in
// publish order, and an entry stays pending for the group until the consumer
// acknowledges it. Pending entries are handed out again before anything newer,
// so a handler failure never lets a later event for the same key overtake the
// failed one.
package eventbus

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("event bus closed")
)

// DeadLetterSuffix is appended to a topic to name its dead-letter topic.
const DeadLetterSuffix = ".dead"

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic, group, consumer string) (Stream, error)
}

type Bus interface {
	Publisher
	Subscriber
}

// Stream yields deliveries for one consumer of one group.
type Stream interface {
	// Next blocks until a delivery is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is one message handed to a consumer together with its ack handle.
type Delivery struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt int

	ack func(ctx context.Context) error
}

// NewDelivery builds a delivery whose Ack calls ack.
func NewDelivery(id, topic, key string, payload []byte, attempt int, ack func(ctx context.Context) error) Delivery {
	return Delivery{
		ID:      id,
		Topic:   topic,
		Key:     key,
		Payload: payload,
		Attempt: attempt,
		ack:     ack,
	}
}

// Ack marks the delivery processed. Unacknowledged deliveries are redelivered.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks a handler error as non-retryable. The processor
// dead-letters the delivery instead of waiting for redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}
