package service

import (
	"context"
	"errors"
	"time"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// ErrEmptyConversationID is returned by layers that key state by conversation.
var ErrEmptyConversationID = errors.New("empty conversation id")

// Summarizer folds newly older messages into a running summary.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// SummaryRequest carries one incremental summarization pass.
type SummaryRequest struct {
	ConversationID string
	PriorSummary   string                // empty on the first pass
	Messages       []ports.PromptMessage // only messages not yet folded in
	Instruction    string                // user standing instruction, may be empty
	MaxChars       int
}

// CachedTurns is one TurnCache entry.
type CachedTurns struct {
	ConversationID string
	Turns          []ports.ConversationTurn
	FetchedAt      time.Time
}

// Fact is one remembered key/value assignment. Key is trimmed and lowercased.
type Fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SummaryEntry is the cached long-term summary of a conversation.
type SummaryEntry struct {
	ConversationID           string
	SummaryText              string
	TurnCountAtSummarization int // message count when generated
	FoldedCount              int // older messages already folded into SummaryText
	GeneratedAt              time.Time
}

// IndexedChunk is one embedded slice of conversation or file text.
type IndexedChunk struct {
	ID        uint64 // digest of the normalized text
	Text      string
	Embedding []float64
}

// RetrievalResult is a chunk scored against a query.
type RetrievalResult struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// Retrieval is the top-K result of one query.
type Retrieval struct {
	Results       []RetrievalResult `json:"results"`
	MaxSimilarity float64           `json:"max_similarity"`
}

// EphemeralFile is file content attached to a single turn.
type EphemeralFile struct {
	Name    string
	Content string
}

// Category is a query cost tier.
type Category string

const (
	CategoryCoding  Category = "coding"
	CategoryGeneral Category = "general"
	CategoryHeavy   Category = "heavy"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCoding, CategoryGeneral, CategoryHeavy:
		return true
	}
	return false
}

// RoutingMethod records how a category was decided.
type RoutingMethod string

const (
	MethodClassifier RoutingMethod = "classifier"
	MethodKeywords   RoutingMethod = "keywords"
	MethodCache      RoutingMethod = "cache"
)

// RoutingDecision is the router's answer for one query.
type RoutingDecision struct {
	ModelID   string        `json:"model_id"`
	Category  Category      `json:"category"`
	Reasoning string        `json:"reasoning"`
	Latency   time.Duration `json:"latency"`
	Method    RoutingMethod `json:"method"`
}
