package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agentos-labs/agentos/pkg/trace"
)

// publisher is the slice of amqp.Channel the dispatcher needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dispatcher enqueues durable task messages.
type Dispatcher struct {
	pub publisher
}

// NewDispatcher creates a dispatcher on the broker channel.
func NewDispatcher(b *Broker) *Dispatcher {
	return &Dispatcher{pub: b.ch}
}

// NewDispatcherWithPublisher creates a dispatcher with a custom publisher.
func NewDispatcherWithPublisher(pub publisher) *Dispatcher {
	return &Dispatcher{pub: pub}
}

// Enqueue publishes one task message to its queue. The message is
// persistent and carries the trace ID from ctx.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, task string, args map[string]any) error {
	msg := Message{
		Task:       task,
		Args:       args,
		TraceID:    trace.ID(ctx),
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task, err)
	}

	err = d.pub.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.EnqueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task, err)
	}
	return nil
}
