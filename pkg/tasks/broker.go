// Package tasks is the durable background-task plane: an AMQP broker with
// per-queue dead-lettering, a dispatcher for enqueueing and a worker pool
// for consuming.
package tasks

import (
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue and task names.
const (
	QueueSales    = "sales"
	QueueDelivery = "delivery"

	TaskSyncBanking      = "sales.sync_banking"
	TaskInitiateDelivery = "sales.initiate_delivery"
	TaskAssignCourier    = "delivery.assign_courier"
)

// DLX is the dead-letter exchange; each queue gets its own bound DLQ.
const DLX = "agentos.dlx"

const retryCountHeader = "x-retry-count"

// Message is the wire format of one enqueued task.
type Message struct {
	Task       string         `json:"task"`
	Args       map[string]any `json:"args"`
	TraceID    string         `json:"trace_id,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// RetryPolicy bounds redelivery of a failing task.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Jitter         float64
}

// DefaultRetryPolicy is applied when a handler does not override it.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 30 * time.Second,
	Jitter:         0.2,
}

// Broker owns the AMQP connection and declared topology.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// ConnectBroker dials the broker and declares the task queues, the
// dead-letter exchange and one DLQ per queue.
func ConnectBroker(uri string) (*Broker, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to task broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}

	b := &Broker{conn: conn, ch: ch}
	if err := b.declareTopology(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	slog.Info("Task broker connected", "queues", []string{QueueSales, QueueDelivery})
	return b, nil
}

func (b *Broker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	for _, queue := range []string{QueueSales, QueueDelivery} {
		dlq := queue + ".dlq"
		if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", dlq, err)
		}
		if err := b.ch.QueueBind(dlq, queue, DLX, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", dlq, err)
		}
		if _, err := b.ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    DLX,
			"x-dead-letter-routing-key": queue,
		}); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}
	return nil
}

// Channel exposes the shared channel for the dispatcher and worker.
func (b *Broker) Channel() *amqp.Channel {
	return b.ch
}

// Health reports whether the connection is still open.
func (b *Broker) Health() error {
	if b.conn.IsClosed() {
		return fmt.Errorf("task broker connection closed")
	}
	return nil
}

// Close tears down the channel then the connection.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}
