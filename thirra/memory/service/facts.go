package service

import (
	"strings"
	"sync"

	radix "github.com/armon/go-radix"
)

// DefaultMaxFacts is the per-conversation fact cap.
const DefaultMaxFacts = 50

// FactStore keeps per-conversation key/value facts. Keys are normalized (trim, lowercase);
// the last write wins and, past the cap, the oldest inserted key is evicted.
type FactStore struct {
	states   *StateStore[*factSet]
	maxFacts int
}

type factSet struct {
	mu    sync.Mutex
	tree  *radix.Tree // key -> value
	order []string    // insertion order
}

// NewFactStore creates a fact store whose per-conversation state is bounded by opts.
func NewFactStore(opts StateStoreOptions, maxFacts int) *FactStore {
	if maxFacts <= 0 {
		maxFacts = DefaultMaxFacts
	}
	return &FactStore{states: NewStateStore[*factSet](opts), maxFacts: maxFacts}
}

// NormalizeFactKey trims and lowercases a key.
func NormalizeFactKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Upsert merges facts into the conversation. Entries with an empty key or value are skipped.
func (s *FactStore) Upsert(conversationID string, facts []Fact) {
	if conversationID == "" || len(facts) == 0 {
		return
	}
	set := s.states.GetOrCreate(conversationID, func() *factSet {
		return &factSet{tree: radix.New()}
	})

	set.mu.Lock()
	defer set.mu.Unlock()

	for _, f := range facts {
		key := NormalizeFactKey(f.Key)
		value := strings.TrimSpace(f.Value)
		if key == "" || value == "" {
			continue
		}
		if _, updated := set.tree.Insert(key, value); updated {
			continue
		}
		set.order = append(set.order, key)
		for len(set.order) > s.maxFacts {
			set.tree.Delete(set.order[0])
			set.order = set.order[1:]
		}
	}
}

// Text renders the facts as "k1=v1; k2=v2" in insertion order.
func (s *FactStore) Text(conversationID string) string {
	facts := s.List(conversationID)
	parts := make([]string, len(facts))
	for i, f := range facts {
		parts[i] = f.Key + "=" + f.Value
	}
	return strings.Join(parts, "; ")
}

// List returns the facts in insertion order.
func (s *FactStore) List(conversationID string) []Fact {
	set, ok := s.states.Get(conversationID)
	if !ok {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	out := make([]Fact, 0, len(set.order))
	for _, k := range set.order {
		if v, ok := set.tree.Get(k); ok {
			out = append(out, Fact{Key: k, Value: v.(string)})
		}
	}
	return out
}

// Lookup returns facts whose key starts with prefix, in key order. Namespaced keys
// ("db.host", "db.port") can be read together with the prefix "db.".
func (s *FactStore) Lookup(conversationID, prefix string) []Fact {
	set, ok := s.states.Get(conversationID)
	if !ok {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	var out []Fact
	set.tree.WalkPrefix(NormalizeFactKey(prefix), func(k string, v any) bool {
		out = append(out, Fact{Key: k, Value: v.(string)})
		return false
	})
	return out
}

// Clear removes all facts of the conversation.
func (s *FactStore) Clear(conversationID string) {
	s.states.Delete(conversationID)
}
