package harnessports

import (
	"context"
	"time"
)

// ConversationTurn is one user/assistant exchange. Either side may be empty.
type ConversationTurn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserText       string    `json:"user_text,omitempty"`
	AssistantText  string    `json:"assistant_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnStore persists conversation turns.
type TurnStore interface {
	// ListTurns returns every turn of the conversation ordered by creation time.
	ListTurns(ctx context.Context, conversationID string) ([]ConversationTurn, error)
	AppendTurn(ctx context.Context, turn ConversationTurn) error
}
