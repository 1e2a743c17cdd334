package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agentos-labs/agentos/pkg/trace"
)

// Handler processes one task message. A nil return acks the delivery; an
// error triggers the retry policy.
type Handler func(ctx context.Context, msg Message) error

// Worker consumes the task queues and dispatches deliveries to registered
// handlers with bounded concurrency.
type Worker struct {
	broker   *Broker
	policy   RetryPolicy
	handlers map[string]Handler
	mu       sync.RWMutex

	concurrency int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWorker creates a worker with the given retry policy and concurrency
// limit.
func NewWorker(broker *Broker, policy RetryPolicy, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		broker:      broker,
		policy:      policy,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
	}
}

// Register binds a handler to a task name. Must be called before Start.
func (w *Worker) Register(task string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[task] = h
}

// Start begins consuming both queues. Each delivery is processed on a
// goroutine from a bounded pool so a retry backoff never stalls the queue.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	sem := make(chan struct{}, w.concurrency)

	for _, queue := range []string{QueueSales, QueueDelivery} {
		deliveries, err := w.broker.ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to consume %s: %w", queue, err)
		}

		w.wg.Add(1)
		go func(queue string, deliveries <-chan amqp.Delivery) {
			defer w.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					select {
					case sem <- struct{}{}:
					case <-runCtx.Done():
						_ = d.Nack(false, true)
						return
					}
					w.wg.Add(1)
					go func(d amqp.Delivery) {
						defer w.wg.Done()
						defer func() { <-sem }()
						w.process(runCtx, queue, d)
					}(d)
				}
			}
		}(queue, deliveries)
	}

	slog.Info("Task worker started", "concurrency", w.concurrency)
	return nil
}

// Stop cancels consumption and waits for in-flight handlers.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, queue string, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("Dropping malformed task message", "queue", queue, "error", err)
		_ = d.Nack(false, false)
		return
	}

	w.mu.RLock()
	handler, ok := w.handlers[msg.Task]
	w.mu.RUnlock()
	if !ok {
		slog.Error("No handler for task, dead-lettering", "task", msg.Task, "queue", queue)
		_ = d.Nack(false, false)
		return
	}

	taskCtx := ctx
	if msg.TraceID != "" {
		var done context.CancelFunc
		taskCtx, done = trace.WithContext(ctx, trace.FromID(msg.TraceID))
		defer done()
	}

	start := time.Now()
	err := handler(taskCtx, msg)
	if err == nil {
		slog.Info("Task completed",
			"task", msg.Task, "queue", queue,
			"trace_id", msg.TraceID, "duration_ms", time.Since(start).Milliseconds())
		_ = d.Ack(false)
		return
	}

	w.retry(ctx, queue, d, msg, err)
}

// retry republishes a failed delivery with an incremented retry header
// after a jittered exponential backoff, dead-lettering once the attempt
// budget is spent.
func (w *Worker) retry(ctx context.Context, queue string, d amqp.Delivery, msg Message, taskErr error) {
	attempts := retryCount(d.Headers) + 1
	if attempts >= int64(w.policy.MaxAttempts) {
		slog.Error("Task exhausted retries, dead-lettering",
			"task", msg.Task, "queue", queue, "attempts", attempts, "error", taskErr)
		_ = d.Nack(false, false)
		return
	}

	wait := backoffDelay(w.policy, attempts)
	slog.Warn("Task failed, scheduling retry",
		"task", msg.Task, "queue", queue, "attempt", attempts, "wait", wait, "error", taskErr)

	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	case <-time.After(wait):
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = attempts

	err := w.broker.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		slog.Error("Failed to republish task, requeueing original",
			"task", msg.Task, "error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retryCount reads the retry header, tolerating the integer widths AMQP
// clients use.
func retryCount(headers amqp.Table) int64 {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// backoffDelay computes InitialBackoff * 2^(attempt-1), jittered by the
// policy's jitter fraction.
func backoffDelay(p RetryPolicy, attempt int64) time.Duration {
	base := float64(p.InitialBackoff) * float64(int64(1)<<(attempt-1))
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		base *= 1 + spread
	}
	return time.Duration(base)
}
