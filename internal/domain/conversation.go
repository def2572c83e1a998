package domain

import (
	"context"
	"time"
)

// Conversation is the persisted per-customer state the pipeline reads and
// writes. BotActive is authoritative in the store: a human operator may flip
// it at any moment, so callers must re-read it rather than caching.
type Conversation struct {
	ID            string
	Phone         string
	BusinessID    string
	BotActive     bool
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// SenderType tags who authored a persisted message.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is a persisted message row.
type Message struct {
	ID             int64
	ConversationID string
	SenderType     string
	Content        string
	CreatedAt      time.Time
}

// ConversationStore is the persistence collaborator.
type ConversationStore interface {
	GetByPhone(ctx context.Context, phone, businessID string) (*Conversation, error)
	Create(ctx context.Context, conv Conversation) error
	SetBotActive(ctx context.Context, id string, active bool) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	SaveMessage(ctx context.Context, msg Message) error
	Close() error
}

// Responder is the AI responder collaborator.
type Responder interface {
	Generate(ctx context.Context, conversationID, text string) (string, error)
}

// Notifier delivers an out-of-band operator alert. Implementations must not
// block the message pipeline; the trigger dispatches them asynchronously.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// Alert describes a bot reply that needs human follow-up.
type Alert struct {
	ConversationID string
	Phone          string
	BusinessName   string
	TriggeringText string
	Rule           string
	At             time.Time
}
