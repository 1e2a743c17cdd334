// Package audit records every gateway action into the audit_log collection.
// Audit writes are best-effort: a failed write is logged and never fails
// the action that produced it.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/masking"
	"github.com/agentos-labs/agentos/pkg/models"
)

const writeTimeout = 3 * time.Second

// Writer persists a single audit record.
type Writer interface {
	InsertAuditRecord(ctx context.Context, rec *models.AuditRecord) error
}

// storeWriter adapts the document store to the Writer interface.
type storeWriter struct {
	store *database.Store
}

func (w *storeWriter) InsertAuditRecord(ctx context.Context, rec *models.AuditRecord) error {
	_, err := w.store.AuditLog().InsertOne(ctx, rec)
	return err
}

// Notifier broadcasts a recorded action, best-effort.
type Notifier interface {
	PublishAudit(ctx context.Context, rec *models.AuditRecord)
}

// Sink sanitizes and persists action records.
type Sink struct {
	writer    Writer
	sanitizer *masking.Sanitizer
	notifier  Notifier
}

// NewSink creates a sink backed by the document store.
func NewSink(store *database.Store, sanitizer *masking.Sanitizer) *Sink {
	return &Sink{writer: &storeWriter{store: store}, sanitizer: sanitizer}
}

// NewSinkWithWriter creates a sink with a custom writer.
func NewSinkWithWriter(writer Writer, sanitizer *masking.Sanitizer) *Sink {
	return &Sink{writer: writer, sanitizer: sanitizer}
}

// SetNotifier attaches an optional broadcast hook invoked after every
// persisted record.
func (s *Sink) SetNotifier(n Notifier) {
	s.notifier = n
}

// Entry is the raw, unsanitized input to Record.
type Entry struct {
	TraceID    string
	ActorID    string
	Roles      []string
	Action     string
	EntityType string
	EntityID   string
	Success    bool
	Params     map[string]any
	Result     any
	Err        error
	Duration   time.Duration
}

// Record sanitizes the entry and persists it. The write uses a detached
// context so a cancelled request cannot lose its own audit record.
func (s *Sink) Record(ctx context.Context, e Entry) {
	rec := &models.AuditRecord{
		TraceID:    e.TraceID,
		Timestamp:  time.Now().UTC(),
		ActorID:    e.ActorID,
		Roles:      e.Roles,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Success:    e.Success,
		Params:     s.sanitizer.SanitizeMap(e.Params),
		Result:     s.sanitizer.Sanitize(e.Result),
		DurationMS: e.Duration.Milliseconds(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.writer.InsertAuditRecord(writeCtx, rec); err != nil {
		slog.Warn("Audit record write failed",
			"action", e.Action,
			"trace_id", e.TraceID,
			"error", err)
	}

	if s.notifier != nil {
		s.notifier.PublishAudit(writeCtx, rec)
	}
}
