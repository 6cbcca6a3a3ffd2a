package storage

import (
	"context"
	"time"
)

// ===== 消息模型 =====

// MessageType 业务枚举：text/image/voice/file/video
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
	MessageVideo MessageType = "video"
)

// Valid reports whether t is one of the known message kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVoice, MessageFile, MessageVideo:
		return true
	}
	return false
}

// Message 会话消息的持久化记录。
// The relay never owns this storage; it only reads/writes through
// MessageStore and keeps no authoritative copy beyond the current
// send/ack round-trip.
type Message struct {
	ID             string      `bson:"_id" json:"id"`
	TempID         string      `bson:"temp_id,omitempty" json:"tempId,omitempty"` // 客户端幂等ID
	Content        string      `bson:"content" json:"content"`
	SenderID       string      `bson:"sender_id" json:"senderId"`
	ReceiverID     string      `bson:"receiver_id,omitempty" json:"receiverId,omitempty"`
	ConversationID string      `bson:"conversation_id,omitempty" json:"conversationId,omitempty"`
	MessageType    MessageType `bson:"message_type" json:"messageType"`
	MediaURL       string      `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	Read           bool        `bson:"read" json:"read"`
	CreatedAt      time.Time   `bson:"created_at" json:"createdAt"`
}

// ===== 外部存储契约 =====

// MessageStore is the durable-store collaborator consumed by the relay.
// Idempotent creation is the relay's responsibility (token lookup before
// Create); the store only needs at-least-once-safe semantics.
//
// Lookups that find nothing return (nil, nil), not an error.
type MessageStore interface {
	// FindByTokenOrID matches on the idempotency token first and falls
	// back to the final identifier when the token misses.
	FindByTokenOrID(ctx context.Context, token, id string) (*Message, error)
	Create(ctx context.Context, m *Message) (*Message, error)
	MarkRead(ctx context.Context, id string) (*Message, error)
	FindByID(ctx context.Context, id string) (*Message, error)
}
