package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// MemoryTurnStore keeps turns in process memory. It backs the CLI when no
// database is configured and doubles as a test fixture.
type MemoryTurnStore struct {
	mu    sync.RWMutex
	turns map[string][]ports.ConversationTurn
	now   func() time.Time
}

func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{
		turns: make(map[string][]ports.ConversationTurn),
		now:   time.Now,
	}
}

func (s *MemoryTurnStore) AppendTurn(ctx context.Context, turn ports.ConversationTurn) error {
	if turn.ConversationID == "" {
		return fmt.Errorf("append turn: empty conversation id")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	list := append(s.turns[turn.ConversationID], turn)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	s.turns[turn.ConversationID] = list
	return nil
}

func (s *MemoryTurnStore) ListTurns(ctx context.Context, conversationID string) ([]ports.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.turns[conversationID]
	out := make([]ports.ConversationTurn, len(list))
	copy(out, list)
	return out, nil
}

var _ ports.TurnStore = (*MemoryTurnStore)(nil)
