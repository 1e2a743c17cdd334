// Package memory keeps conversation history per chat: the durable record
// lives in the document store, a capped recent window is cached in Redis
// for cheap prompt assembly.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/models"
)

// Service stores and serves chat messages.
type Service struct {
	store      *database.Store
	cache      *redis.Client
	maxHistory int64
	ttl        time.Duration
}

// NewService creates the chat memory service. maxHistory bounds the cached
// window per chat; ttl expires idle chat caches.
func NewService(store *database.Store, cache *redis.Client, maxHistory int, ttl time.Duration) *Service {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, cache: cache, maxHistory: int64(maxHistory), ttl: ttl}
}

func cacheKey(chatID string) string {
	return "chat_memory:" + chatID
}

// Append persists a message and pushes it onto the cached window. Cache
// failures are logged; the durable write decides success.
func (s *Service) Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	if msg.ChatID == "" {
		return nil, fmt.Errorf("chat_id is required")
	}
	msg.ID = primitive.NewObjectID().Hex()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if _, err := s.store.ChatMessages().InsertOne(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist chat message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err == nil {
		key := cacheKey(msg.ChatID)
		pipe := s.cache.TxPipeline()
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, s.maxHistory-1)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("Chat cache update failed", "chat_id", msg.ChatID, "error", err)
		}
	}

	return &msg, nil
}

// Recent returns the newest messages of a chat, oldest first. Served from
// the cache when warm, falling back to the store.
func (s *Service) Recent(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || int64(limit) > s.maxHistory {
		limit = int(s.maxHistory)
	}

	cached, err := s.cache.LRange(ctx, cacheKey(chatID), 0, int64(limit)-1).Result()
	if err == nil && len(cached) > 0 {
		out := make([]models.ChatMessage, 0, len(cached))
		// The list is newest-first; walk it backwards.
		for i := len(cached) - 1; i >= 0; i-- {
			var msg models.ChatMessage
			if err := json.Unmarshal([]byte(cached[i]), &msg); err != nil {
				slog.Warn("Dropping malformed cached chat message", "chat_id", chatID, "error", err)
				continue
			}
			out = append(out, msg)
		}
		return out, nil
	}
	if err != nil {
		slog.Warn("Chat cache read failed, falling back to store", "chat_id", chatID, "error", err)
	}

	return s.recentFromStore(ctx, chatID, limit)
}

func (s *Service) recentFromStore(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.store.ChatMessages().Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer cursor.Close(ctx)

	var newestFirst []models.ChatMessage
	if err := cursor.All(ctx, &newestFirst); err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}

	out := make([]models.ChatMessage, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}
