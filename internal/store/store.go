package store

import (
	"context"
	"errors"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one persisted chat message.
type Message struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Sender          Sender    `json:"sender"`
	OwnerID         string    `json:"owner_id"`
	ConversationRef string    `json:"conversation_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConversationSummary is the latest message of one conversation.
type ConversationSummary struct {
	ConversationRef string    `json:"conversation_ref"`
	LastMessage     string    `json:"last_message"`
	CreatedAt       time.Time `json:"created_at"`
}

var (
	// ErrNotFound is returned when the referenced message does not exist.
	ErrNotFound = errors.New("store: message not found")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("store: not owner")
	// ErrNotEditable is returned when editing a message not authored by the user.
	ErrNotEditable = errors.New("store: only user messages can be edited")
)

// Store is the persistence gateway for chat messages.
type Store interface {
	InsertMessage(ctx context.Context, content string, sender Sender, ownerID, conversationRef string) (Message, error)
	// Messages returns the owner's messages in chronological order,
	// optionally filtered by conversation ref, newest page first.
	Messages(ctx context.Context, ownerID, conversationRef string, limit, offset int) ([]Message, error)
	UpdateMessage(ctx context.Context, id, ownerID, content string) (Message, error)
	DeleteMessage(ctx context.Context, id, ownerID string) error
	DeleteConversation(ctx context.Context, conversationRef, ownerID string) error
	DeleteAllConversations(ctx context.Context, ownerID string) error
	Conversations(ctx context.Context, ownerID string) ([]ConversationSummary, error)
	Close() error
}
