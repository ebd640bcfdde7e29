// Package memory provides conversation persistence for chat sessions.
//
// Supported backends:
// - Memory: For development and testing (default)
// - Gorm: For relational production deployments (postgres)
// - Redis: For distributed production deployments
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/mekai/workforce/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("conversation not found")
	ErrAlreadyExists = errors.New("conversation already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeGorm   StoreType = "gorm"
	StoreTypeRedis  StoreType = "redis"
)

// DefaultMaxHistory is the retained non-system message count per conversation.
const DefaultMaxHistory = 20

// Conversation is a chat session between one user and one employee.
// UserID may be empty for anonymous sessions.
type Conversation struct {
	ID           string         `json:"id"`
	EmployeeID   string         `json:"employee_id"`
	UserID       string         `json:"user_id,omitempty"`
	OrgID        string         `json:"org_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	MessageCount int            `json:"message_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StoredMessage is a persisted conversation message. Seq preserves
// insertion order across backends.
type StoredMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Role           types.Role     `json:"role"`
	Content        string         `json:"content"`
	TokenCount     int            `json:"token_count,omitempty"`
	Model          string         `json:"model,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TurnMeta tags the persisted messages of one chat turn: the user
// message carries the prompt token count, the assistant message the
// completion token count and the model name that produced it.
type TurnMeta struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	Metadata         map[string]any
}

// apply stamps the meta onto a freshly stored message by role.
func (m TurnMeta) apply(stored *StoredMessage) {
	switch stored.Role {
	case types.RoleUser:
		stored.TokenCount = m.PromptTokens
	case types.RoleAssistant:
		stored.TokenCount = m.CompletionTokens
		stored.Model = m.Model
		stored.Metadata = m.Metadata
	}
}

// ToModelMessage converts a stored message to the wire message type.
func (m *StoredMessage) ToModelMessage() types.Message {
	return types.Message{
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

// Store persists conversations and their messages.
//
// Implementations serialize writes per conversation: concurrent appends to
// the same conversation never interleave partially, and appends to
// different conversations do not block each other.
type Store interface {
	// Create registers a new conversation. The ID must be unique.
	Create(ctx context.Context, conv *Conversation) error

	// Get returns the conversation by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// AppendMessage appends one message and applies the trim policy.
	AppendMessage(ctx context.Context, conversationID string, msg types.Message) (*StoredMessage, error)

	// AppendPair atomically appends a user message and the assistant reply,
	// tagged with the turn's model and token accounting. Either both
	// messages are persisted or neither is.
	AppendPair(ctx context.Context, conversationID string, user, assistant types.Message, meta TurnMeta) (*StoredMessage, *StoredMessage, error)

	// History returns the last limit messages in insertion order.
	// limit <= 0 returns all retained messages.
	History(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error)

	// ModelMessages returns the last limit messages converted for model input.
	ModelMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)

	// Delete removes the conversation and all its messages.
	Delete(ctx context.Context, conversationID string) error

	// List returns the user's conversations sorted by updated_at descending.
	List(ctx context.Context, userID string) ([]Conversation, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// trimMessages applies the retention policy to an ordered message slice:
// system messages are always kept, and at most maxHistory non-system
// messages survive, dropping oldest first.
func trimMessages(msgs []StoredMessage, maxHistory int) []StoredMessage {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	nonSystem := 0
	for _, m := range msgs {
		if m.Role != types.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= maxHistory {
		return msgs
	}

	drop := nonSystem - maxHistory
	out := make([]StoredMessage, 0, len(msgs)-drop)
	for _, m := range msgs {
		if m.Role != types.RoleSystem && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}

// tailMessages returns the last limit entries, preserving order.
func tailMessages(msgs []StoredMessage, limit int) []StoredMessage {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
