package models

import "time"

// ChatMessage is one message in a delivery (or support) conversation.
// Recent messages are additionally cached in Redis per chat for cheap
// history reads; Mongo is the durable record.
type ChatMessage struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	ChatID    string    `bson:"chat_id" json:"chat_id"`
	SenderID  string    `bson:"sender_id" json:"sender_id"`
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
