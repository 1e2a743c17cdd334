package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/agentos-labs/agentos/pkg/models"
)

const stopTimeout = 5 * time.Second

// Broadcaster subscribes to the cache pub/sub patterns and forwards every
// decoded event envelope to the local ConnectionManager. It reconnects
// forever with capped exponential backoff; missed events during an outage
// are not replayed.
type Broadcaster struct {
	client   *redis.Client
	manager  *ConnectionManager
	patterns []string

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBroadcaster creates a broadcaster for the given subscription patterns.
func NewBroadcaster(client *redis.Client, manager *ConnectionManager, patterns []string, reconnectInitial, reconnectMax time.Duration) *Broadcaster {
	return &Broadcaster{
		client:           client,
		manager:          manager,
		patterns:         patterns,
		reconnectInitial: reconnectInitial,
		reconnectMax:     reconnectMax,
	}
}

// Start launches the subscribe loop.
func (b *Broadcaster) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.run(runCtx)
	}()

	slog.Info("Event broadcaster started", "patterns", b.patterns)
}

// Stop terminates the subscribe loop and waits for it to exit, bounded by
// stopTimeout.
func (b *Broadcaster) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()

	select {
	case <-b.done:
	case <-time.After(stopTimeout):
		slog.Warn("Event broadcaster did not stop in time")
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.reconnectInitial
	bo.MaxInterval = b.reconnectMax
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		if b.consume(ctx) {
			// A healthy session existed; start the next reconnect cold.
			bo.Reset()
		}

		wait := bo.NextBackOff()
		slog.Warn("Cache subscription lost, reconnecting", "wait", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// consume runs one pub/sub session until it fails or the context ends.
// Returns true if at least one message was received.
func (b *Broadcaster) consume(ctx context.Context) bool {
	pubsub := b.client.PSubscribe(ctx, b.patterns...)
	defer func() { _ = pubsub.Close() }()

	received := false
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return received
		case msg, ok := <-ch:
			if !ok {
				return received
			}
			received = true
			b.dispatch(msg)
		}
	}
}

func (b *Broadcaster) dispatch(msg *redis.Message) {
	var event models.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		slog.Warn("Dropping malformed event payload", "channel", msg.Channel, "error", err)
		return
	}
	if event.Channel == "" {
		event.Channel = msg.Channel
	}
	b.manager.Route(event)
}
