package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"golang.org/x/sync/singleflight"
)

// DefaultTurnCacheTTL bounds how long fetched turns are served from memory.
const DefaultTurnCacheTTL = 30 * time.Second

// TurnCache reads conversation turns through to the TurnStore at most once per TTL.
type TurnCache struct {
	store   ports.TurnStore
	entries *StateStore[CachedTurns]
	group   singleflight.Group
	metrics *Metrics
	now     func() time.Time

	// fetches tracks conversations with a store read in flight. An invalidation bumps the
	// conversation's epoch so a read that straddles it is not cached.
	mu      sync.Mutex
	fetches map[string]*fetchState
}

type fetchState struct {
	epoch   uint64
	pending int
}

// NewTurnCache creates a cache over store. entries must have a fixed (non-sliding) TTL.
func NewTurnCache(store ports.TurnStore, entries *StateStore[CachedTurns], metrics *Metrics) *TurnCache {
	if entries == nil {
		entries = NewStateStore[CachedTurns](StateStoreOptions{TTL: DefaultTurnCacheTTL})
	}
	return &TurnCache{
		store:   store,
		entries: entries,
		metrics: metrics,
		now:     time.Now,
		fetches: make(map[string]*fetchState),
	}
}

// Get returns the conversation's turns ordered by creation time. Store errors propagate.
func (c *TurnCache) Get(ctx context.Context, conversationID string) ([]ports.ConversationTurn, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversationID
	}

	if cached, ok := c.entries.Get(conversationID); ok {
		c.metrics.RecordCache("turns", true)
		return cached.Turns, nil
	}
	c.metrics.RecordCache("turns", false)

	v, err, _ := c.group.Do(conversationID, func() (any, error) {
		state, start := c.beginFetch(conversationID)
		turns, err := c.store.ListTurns(ctx, conversationID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err == nil && state.epoch == start {
			c.entries.Put(conversationID, CachedTurns{
				ConversationID: conversationID,
				Turns:          turns,
				FetchedAt:      c.now(),
			})
		}
		if state.pending--; state.pending == 0 {
			delete(c.fetches, conversationID)
		}
		if err != nil {
			return nil, err
		}
		return turns, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list turns for %s: %w", conversationID, err)
	}
	return v.([]ports.ConversationTurn), nil
}

// Invalidate forces the next Get to refetch. A read already in flight for the same
// conversation still returns its turns but does not populate the cache.
func (c *TurnCache) Invalidate(conversationID string) {
	c.mu.Lock()
	if state, ok := c.fetches[conversationID]; ok {
		state.epoch++
	}
	c.mu.Unlock()

	c.group.Forget(conversationID)
	c.entries.Delete(conversationID)
}

func (c *TurnCache) beginFetch(conversationID string) (*fetchState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.fetches[conversationID]
	if !ok {
		state = &fetchState{}
		c.fetches[conversationID] = state
	}
	state.pending++
	return state, state.epoch
}
