package service

import (
	"context"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// DefaultShortTermK is the number of most recent messages kept verbatim.
const DefaultShortTermK = 5

// TurnsToMessages flattens turns into messages, user before assistant. Empty sides are skipped.
func TurnsToMessages(turns []ports.ConversationTurn) []ports.PromptMessage {
	msgs := make([]ports.PromptMessage, 0, len(turns)*2)
	for _, t := range turns {
		if t.UserText != "" {
			msgs = append(msgs, ports.PromptMessage{Role: ports.RoleUser, Content: t.UserText})
		}
		if t.AssistantText != "" {
			msgs = append(msgs, ports.PromptMessage{Role: ports.RoleAssistant, Content: t.AssistantText})
		}
	}
	return msgs
}

// LastK returns a copy of the last k messages.
func LastK(msgs []ports.PromptMessage, k int) []ports.PromptMessage {
	if k <= 0 || len(msgs) == 0 {
		return nil
	}
	if k > len(msgs) {
		k = len(msgs)
	}
	out := make([]ports.PromptMessage, k)
	copy(out, msgs[len(msgs)-k:])
	return out
}

// ShortTermMemory serves the most recent messages of a conversation.
type ShortTermMemory struct {
	turns *TurnCache
	k     int
}

// NewShortTermMemory creates a short-term window of k messages over turns.
func NewShortTermMemory(turns *TurnCache, k int) *ShortTermMemory {
	if k <= 0 {
		k = DefaultShortTermK
	}
	return &ShortTermMemory{turns: turns, k: k}
}

// Window returns the configured window size.
func (m *ShortTermMemory) Window() int { return m.k }

// Get returns the last k messages; k <= 0 uses the configured window.
func (m *ShortTermMemory) Get(ctx context.Context, conversationID string, k int) ([]ports.PromptMessage, error) {
	if k <= 0 {
		k = m.k
	}
	turns, err := m.turns.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return LastK(TurnsToMessages(turns), k), nil
}
