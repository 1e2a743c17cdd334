package models

import "time"

// AuditRecord is one sanitized action record in the audit_log collection.
// Params and Result have already been through the masking sanitizer by the
// time a record is constructed.
type AuditRecord struct {
	TraceID    string         `bson:"trace_id" json:"trace_id"`
	Timestamp  time.Time      `bson:"timestamp" json:"timestamp"`
	ActorID    string         `bson:"actor_id" json:"actor_id"`
	Roles      []string       `bson:"roles,omitempty" json:"roles,omitempty"`
	Action     string         `bson:"action" json:"action"`
	EntityType string         `bson:"entity_type,omitempty" json:"entity_type,omitempty"`
	EntityID   string         `bson:"entity_id,omitempty" json:"entity_id,omitempty"`
	Success    bool           `bson:"success" json:"success"`
	Params     map[string]any `bson:"params,omitempty" json:"params,omitempty"`
	Result     any            `bson:"result,omitempty" json:"result,omitempty"`
	Error      string         `bson:"error,omitempty" json:"error,omitempty"`
	DurationMS int64          `bson:"duration_ms" json:"duration_ms"`
}
