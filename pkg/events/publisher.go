// Package events is the fan-out plane: a cache-backed pub/sub publisher, a
// websocket connection manager and the broadcaster bridging the two.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentos-labs/agentos/pkg/models"
)

const publishTimeout = 2 * time.Second

// Well-known channels and groups.
const (
	ChannelAudit        = "system.audit"
	GroupSalesDashboard = "sales_dashboard"
)

// Publisher publishes event envelopes to cache pub/sub channels. Publishing
// is best-effort: a failed publish is logged and never propagated to the
// caller, so a cache outage cannot fail a committed business operation.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a publisher on the shared cache client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish stamps and emits one event envelope on its channel.
func (p *Publisher) Publish(ctx context.Context, event models.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.Target == "" {
		event.Target = models.TargetAll
	}

	payload, err := json.Marshal(event)
	if err != nil {
		// Replace unserializable data with type placeholders and retry,
		// so the envelope itself still goes out.
		event.Data = placeholderData(event.Data)
		payload, err = json.Marshal(event)
		if err != nil {
			slog.Warn("Event dropped: payload not serializable",
				"channel", event.Channel, "event_type", event.EventType, "error", err)
			return
		}
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.client.Publish(pubCtx, event.Channel, payload).Err(); err != nil {
		slog.Warn("Event publish failed",
			"channel", event.Channel, "event_type", event.EventType, "error", err)
	}
}

// PublishAudit emits a trimmed audit notification on the audit channel so
// dashboards can follow the action stream without reading audit_log.
func (p *Publisher) PublishAudit(ctx context.Context, rec *models.AuditRecord) {
	p.Publish(ctx, models.Event{
		Channel:   ChannelAudit,
		Target:    models.TargetAll,
		EventType: "audit.recorded",
		TraceID:   rec.TraceID,
		Data: map[string]any{
			"action":      rec.Action,
			"actor_id":    rec.ActorID,
			"entity_type": rec.EntityType,
			"entity_id":   rec.EntityID,
			"success":     rec.Success,
		},
	})
}

// placeholderData replaces every value that fails JSON marshaling with a
// "<type>" placeholder, keeping the serializable ones.
func placeholderData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprintf("<%T>", v)
			continue
		}
		out[k] = v
	}
	return out
}
