package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

var errBoom = errors.New("boom")

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// countingStore is a TurnStore that counts reads and can fail or block on demand.
type countingStore struct {
	mu      sync.Mutex
	turns   map[string][]ports.ConversationTurn
	calls   int
	err     error
	started chan struct{} // closed on the first read when set
	release chan struct{} // reads block until closed when set
}

func newCountingStore() *countingStore {
	return &countingStore{turns: make(map[string][]ports.ConversationTurn)}
}

func (s *countingStore) ListTurns(ctx context.Context, conversationID string) ([]ports.ConversationTurn, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	err := s.err
	list := make([]ports.ConversationTurn, len(s.turns[conversationID]))
	copy(list, s.turns[conversationID])
	started, release := s.started, s.release
	s.mu.Unlock()

	if first && started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *countingStore) AppendTurn(ctx context.Context, turn ports.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ConversationID] = append(s.turns[turn.ConversationID], turn)
	return nil
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// addPairs appends n user/assistant turns numbered from the current length.
func (s *countingStore) addPairs(conversationID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset := len(s.turns[conversationID])
	for i := 0; i < n; i++ {
		idx := offset + i
		s.turns[conversationID] = append(s.turns[conversationID], ports.ConversationTurn{
			ID:             fmt.Sprintf("%s-%d", conversationID, idx),
			ConversationID: conversationID,
			UserText:       fmt.Sprintf("question %d", idx),
			AssistantText:  fmt.Sprintf("answer %d", idx),
			CreatedAt:      baseTime.Add(time.Duration(idx) * time.Second),
		})
	}
}

// vocabEmbedder embeds text as word counts over a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string

	mu         sync.Mutex
	batchCalls int
	failBatch  error
	failQuery  error
}

func newVocabEmbedder(vocab ...string) *vocabEmbedder {
	return &vocabEmbedder{vocab: vocab}
}

func (e *vocabEmbedder) vector(text string) []float64 {
	v := make([]float64, len(e.vocab))
	for _, w := range tokenize(text) {
		for i, term := range e.vocab {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	err := e.failQuery
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	e.mu.Lock()
	e.batchCalls++
	err := e.failBatch
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *vocabEmbedder) BatchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchCalls
}

// MockProvider is a testify mock of the chat provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	args := m.Called(ctx, in, opts)
	return args.Get(0).(ports.Completion), args.Error(1)
}

func (m *MockProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	args := m.Called(ctx, in, opts)
	ch, _ := args.Get(0).(<-chan ports.CompletionChunk)
	return ch, args.Error(1)
}

// stubSummarizer records requests and answers "summary vN".
type stubSummarizer struct {
	mu       sync.Mutex
	requests []SummaryRequest
	reply    func(n int, req SummaryRequest) (string, error)
}

func (s *stubSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	if s.reply != nil {
		return s.reply(n, req)
	}
	return fmt.Sprintf("summary v%d", n), nil
}

func (s *stubSummarizer) Requests() []SummaryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SummaryRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func testTiers() config.TiersConfig {
	return config.TiersConfig{
		Cheap:   config.TierConfig{Model: "cheap-model", CostPer1KTokens: 0.0005},
		Quality: config.TierConfig{Model: "quality-model", CostPer1KTokens: 0.003},
		Premium: config.TierConfig{Model: "premium-model", CostPer1KTokens: 0.015},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{BatchSize: 8},
		Memory: config.MemoryConfig{
			ShortTermK:               5,
			TurnCacheTTL:             30 * time.Second,
			SummaryTTL:               120 * time.Second,
			SummaryDriftThreshold:    2,
			SummaryMaxChars:          600,
			MaxFacts:                 50,
			ChunkSize:                1000,
			ChunkOverlap:             150,
			MaxChunksPerConversation: 2000,
			RelativeThreshold:        0.8,
			ComplexityThreshold:      0.6,
			EmbedConcurrency:         2,
			IndexAssistantText:       true,
			RetrievalMaxContextChars: 4000,
			MaxConversations:         100,
			StateIdleTTL:             time.Hour,
		},
		Router: config.RouterConfig{Tiers: testTiers()},
	}
}
