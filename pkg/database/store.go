// Package database owns the document-store connection, index bootstrap and
// the transaction helper shared by the services.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	CollSales        = "sales"
	CollProducts     = "products"
	CollProfiles     = "profiles"
	CollDeliveries   = "deliveries"
	CollChatMessages = "chat_messages"
	CollAuditLog     = "audit_log"
)

const connectTimeout = 10 * time.Second

// Store wraps the document-store client and exposes typed collection
// accessors. A single Store is shared by all services.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect establishes the store connection and verifies it with a ping.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("document store ping failed: %w", err)
	}

	slog.Info("Document store connected", "database", dbName)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Health pings the primary. Used by the readiness endpoint.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Collection returns a raw collection handle by name.
func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) Sales() *mongo.Collection        { return s.db.Collection(CollSales) }
func (s *Store) Products() *mongo.Collection     { return s.db.Collection(CollProducts) }
func (s *Store) Profiles() *mongo.Collection     { return s.db.Collection(CollProfiles) }
func (s *Store) Deliveries() *mongo.Collection   { return s.db.Collection(CollDeliveries) }
func (s *Store) ChatMessages() *mongo.Collection { return s.db.Collection(CollChatMessages) }
func (s *Store) AuditLog() *mongo.Collection     { return s.db.Collection(CollAuditLog) }

// WithTransaction runs fn inside a multi-document transaction and commits
// it if fn returns nil. Requires a replica-set deployment.
func (s *Store) WithTransaction(ctx context.Context, fn func(sc mongo.SessionContext) (any, error)) (any, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	return session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return fn(sc)
	})
}

// EnsureIndexes creates every index the services rely on. Index creation
// is idempotent and runs once at startup before the server accepts traffic.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := []struct {
		coll   string
		models []mongo.IndexModel
	}{
		{
			coll: CollProducts,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "sku", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
			},
		},
		{
			coll: CollSales,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}},
				},
				{
					// Duplicate-sale window scans per (agent, client).
					Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}},
				},
				{
					Keys: bson.D{{Key: "status", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
					Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{
						{Key: "idempotency_key", Value: bson.D{{Key: "$exists", Value: true}}},
					}),
				},
			},
		},
		{
			coll: CollProfiles,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "email", Value: 1}},
					Options: options.Index().SetUnique(true).SetSparse(true),
				},
				{
					Keys:    bson.D{{Key: "whatsapp_id", Value: 1}},
					Options: options.Index().SetUnique(true).SetSparse(true),
				},
				{
					Keys:    bson.D{{Key: "user_id", Value: 1}},
					Options: options.Index().SetUnique(true).SetSparse(true),
				},
				{
					Keys: bson.D{{Key: "type", Value: 1}, {Key: "active", Value: 1}},
				},
			},
		},
		{
			coll: CollDeliveries,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "sale_id", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "courier_profile_id", Value: 1}, {Key: "current_status", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "current_status", Value: 1}},
				},
				{
					Keys:    bson.D{{Key: "expire_at", Value: 1}},
					Options: options.Index().SetExpireAfterSeconds(0),
				},
			},
		},
		{
			coll: CollChatMessages,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}},
				},
				{
					Keys: bson.D{{Key: "timestamp", Value: -1}},
				},
			},
		},
		{
			coll: CollAuditLog,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "trace_id", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "timestamp", Value: -1}},
				},
				{
					Keys: bson.D{{Key: "timestamp", Value: -1}},
				},
			},
		},
	}

	for _, spec := range specs {
		if _, err := s.db.Collection(spec.coll).Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", spec.coll, err)
		}
	}

	slog.Info("Document store indexes ensured")
	return nil
}
