package service

import (
	"time"

	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/adapters"
)

// StateStoreOptions bound a StateStore.
type StateStoreOptions struct {
	MaxEntries int           // <= 0 is unbounded
	TTL        time.Duration // <= 0 never expires
	Sliding    bool          // reads push the expiry forward
}

// StateStore holds one kind of per-conversation state behind a bounded LRU.
// It is safe for concurrent use; different conversations only share the map lock.
type StateStore[T any] struct {
	lru  *adapters.LRU[T]
	opts StateStoreOptions
}

// NewStateStore creates an empty store.
func NewStateStore[T any](opts StateStoreOptions) *StateStore[T] {
	return &StateStore[T]{
		lru:  adapters.NewLRU[T](opts.MaxEntries, opts.TTL),
		opts: opts,
	}
}

// Get returns the live state for a conversation.
func (s *StateStore[T]) Get(conversationID string) (T, bool) {
	v, ok := s.lru.Get(conversationID)
	if ok && s.opts.Sliding && s.opts.TTL > 0 {
		s.lru.Set(conversationID, v)
	}
	return v, ok
}

// GetOrCreate returns the live state, creating it with create when absent.
func (s *StateStore[T]) GetOrCreate(conversationID string, create func() T) T {
	v := s.lru.GetOrCreate(conversationID, create)
	if s.opts.Sliding && s.opts.TTL > 0 {
		s.lru.Set(conversationID, v)
	}
	return v
}

// Put stores state with a fresh TTL.
func (s *StateStore[T]) Put(conversationID string, v T) {
	s.lru.Set(conversationID, v)
}

// Delete drops a conversation's state.
func (s *StateStore[T]) Delete(conversationID string) {
	s.lru.Delete(conversationID)
}

// Len returns the number of conversations held.
func (s *StateStore[T]) Len() int {
	return s.lru.Len()
}

// SetClock replaces the time source used for TTLs.
func (s *StateStore[T]) SetClock(now func() time.Time) {
	s.lru.SetClock(now)
}

// Close drops all state.
func (s *StateStore[T]) Close() {
	s.lru.Purge()
}
