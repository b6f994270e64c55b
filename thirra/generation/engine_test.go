package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/adapters"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/memory/service"
)

var (
	errStore = errors.New("store unavailable")
	baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

type failingStore struct{}

func (failingStore) ListTurns(context.Context, string) ([]ports.ConversationTurn, error) {
	return nil, errStore
}

func (failingStore) AppendTurn(context.Context, ports.ConversationTurn) error { return errStore }

// wordEmbedder counts vocabulary words; texts without any get a zero vector.
type wordEmbedder struct {
	vocab []string
}

func (e wordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, len(e.vocab))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,?!")
		for i, v := range e.vocab {
			if w == v {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type streamProvider struct {
	chunks []ports.CompletionChunk
	models []string
}

func (p *streamProvider) Complete(context.Context, ports.PromptInput, ports.Options) (ports.Completion, error) {
	return ports.Completion{}, errors.New("not used")
}

func (p *streamProvider) Stream(_ context.Context, in ports.PromptInput, _ ports.Options) (<-chan ports.CompletionChunk, error) {
	p.models = append(p.models, in.Model)
	ch := make(chan ports.CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
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
		Router: config.RouterConfig{Tiers: config.TiersConfig{
			Cheap:   config.TierConfig{Model: "cheap-model", CostPer1KTokens: 0.0005},
			Quality: config.TierConfig{Model: "quality-model", CostPer1KTokens: 0.003},
			Premium: config.TierConfig{Model: "premium-model", CostPer1KTokens: 0.015},
		}},
	}
}

type engineOptions struct {
	store    ports.TurnStore
	embedder ports.Embedder
	provider ports.Provider
	budget   harness.BudgetParams
	parser   *harness.OutputParser
}

func newTestEngine(t *testing.T, opts engineOptions) *Engine {
	t.Helper()
	if opts.store == nil {
		opts.store = adapters.NewMemoryTurnStore()
	}
	if opts.budget == (harness.BudgetParams{}) {
		opts.budget = harness.DefaultBudgetParams()
	}

	ms, err := service.NewMemorySystem(service.MemorySystemConfig{
		Config:   testConfig(),
		Store:    opts.store,
		Embedder: opts.embedder,
		Registry: prometheus.NewRegistry(),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })

	var orchestrator *harness.Orchestrator
	if opts.provider != nil {
		orchestrator = harness.NewOrchestrator(opts.provider, nil, nil, nil, nil, zerolog.Nop())
	}

	engine, err := NewEngine(EngineConfig{
		Memory:       ms,
		Store:        opts.store,
		Orchestrator: orchestrator,
		Parser:       opts.parser,
		Budget:       opts.budget,
		ExpectTitle:  true,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine
}

func addPairs(t *testing.T, store ports.TurnStore, conversationID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendTurn(context.Background(), ports.ConversationTurn{
			ConversationID: conversationID,
			UserText:       fmt.Sprintf("question %d", i),
			AssistantText:  fmt.Sprintf("answer %d", i),
			CreatedAt:      baseTime.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestNewEngine_RequiresMemoryAndStore(t *testing.T) {
	_, err := NewEngine(EngineConfig{Store: adapters.NewMemoryTurnStore()})
	assert.Error(t, err)

	ms, err := service.NewMemorySystem(service.MemorySystemConfig{
		Config: testConfig(),
		Store:  adapters.NewMemoryTurnStore(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	_, err = NewEngine(EngineConfig{Memory: ms})
	assert.Error(t, err)
}

func TestEngine_AssembleContext_ShortTermAndSummary(t *testing.T) {
	store := adapters.NewMemoryTurnStore()
	addPairs(t, store, "c1", 6)
	engine := newTestEngine(t, engineOptions{store: store})

	got, err := engine.AssembleContext(context.Background(), "c1", "what next?", "")
	require.NoError(t, err)

	require.Len(t, got.HistoryMessages, 6, "summary plus five short-term messages")
	summary := got.HistoryMessages[0]
	assert.True(t, harness.IsSummaryMessage(summary))
	assert.Contains(t, summary.Content, "question 0")
	assert.Contains(t, summary.Content, "question 3")
	assert.NotContains(t, summary.Content, "answer 3")

	short := got.HistoryMessages[1:]
	assert.Equal(t, ports.RoleAssistant, short[0].Role)
	assert.Equal(t, "answer 3", short[0].Content)
	assert.Equal(t, "answer 5", short[4].Content)

	assert.False(t, got.ExpectTitle)
	assert.Empty(t, got.ContextText, "recall is off without an embedder")
	assert.Zero(t, got.Budget.OverBudgetBy)
	assert.Positive(t, got.Budget.TokenEstimate)
}

func TestEngine_AssembleContext_FactsAndRouting(t *testing.T) {
	engine := newTestEngine(t, engineOptions{})

	engine.RecordFactsFromText("c1", "x=90")
	engine.RecordFactsFromText("c1", "set x to 42")

	got, err := engine.AssembleContext(context.Background(), "c1", "debug my python function", "reply tersely")
	require.NoError(t, err)

	assert.Equal(t, "x=42", got.FactsText)
	assert.Equal(t, service.CategoryCoding, got.Routing.Category)
	assert.Equal(t, service.MethodKeywords, got.Routing.Method)
	assert.Equal(t, "quality-model", got.Routing.ModelID)
	assert.Contains(t, got.SystemPrompt, "Known facts (key=value): x=42")
	assert.Contains(t, got.SystemPrompt, "reply tersely")
	assert.True(t, got.ExpectTitle, "first turn of a conversation asks for a title")
	assert.Empty(t, got.HistoryMessages)
}

func TestEngine_AssembleContext_Recall(t *testing.T) {
	store := adapters.NewMemoryTurnStore()
	require.NoError(t, store.AppendTurn(context.Background(), ports.ConversationTurn{
		ConversationID: "c1", UserText: "we deploy with docker", AssistantText: "noted", CreatedAt: baseTime,
	}))
	require.NoError(t, store.AppendTurn(context.Background(), ports.ConversationTurn{
		ConversationID: "c1", UserText: "postgres is the database", AssistantText: "noted", CreatedAt: baseTime.Add(time.Second),
	}))
	engine := newTestEngine(t, engineOptions{
		store:    store,
		embedder: wordEmbedder{vocab: []string{"deploy", "docker", "postgres"}},
	})

	got, err := engine.AssembleContext(context.Background(), "c1", "how do we deploy docker?", "")
	require.NoError(t, err)

	assert.Equal(t, "we deploy with docker", got.ContextText)
	assert.Contains(t, got.SystemPrompt, "we deploy with docker")
}

func TestEngine_AssembleContext_Errors(t *testing.T) {
	engine := newTestEngine(t, engineOptions{store: failingStore{}})

	_, err := engine.AssembleContext(context.Background(), "c1", "hello", "")
	assert.ErrorIs(t, err, errStore)

	_, err = engine.AssembleContext(context.Background(), "", "hello", "")
	assert.ErrorIs(t, err, service.ErrEmptyConversationID)
}

func TestEngine_AssembleContext_ReportsOverflow(t *testing.T) {
	store := adapters.NewMemoryTurnStore()
	addPairs(t, store, "c1", 2)
	engine := newTestEngine(t, engineOptions{
		store:  store,
		budget: harness.BudgetParams{MaxPromptChars: 50},
	})

	got, err := engine.AssembleContext(context.Background(), "c1", "hello", "")
	require.NoError(t, err)

	assert.Positive(t, got.Budget.OverBudgetBy)
	assert.Contains(t, got.Budget.Stages, harness.StageOverBudget)
	assert.Len(t, got.HistoryMessages, 4, "overflow is reported, never hidden by dropping turns")
}

func TestEngine_ParseModelOutput(t *testing.T) {
	engine := newTestEngine(t, engineOptions{})

	parsed := engine.ParseModelOutput("{{{{title}}}}T{{{{/title}}}}\n{{{{summary}}}}S{{{{/summary}}}}\n{{{{response}}}}R{{{{/response}}}}", true)
	assert.Equal(t, "T", parsed.Title)
	assert.Equal(t, "S", parsed.Summary)
	assert.Equal(t, "R", parsed.Response)

	plain := engine.ParseModelOutput("plain text, no blocks", false)
	assert.Equal(t, "plain text, no blocks", plain.Response)
}

func TestEngine_PromptStatesParserCaps(t *testing.T) {
	engine := newTestEngine(t, engineOptions{parser: harness.NewOutputParser(40, 200)})

	assembled, err := engine.AssembleContext(context.Background(), "conv-caps", "hello", "")
	require.NoError(t, err)
	require.True(t, assembled.ExpectTitle)
	assert.Contains(t, assembled.SystemPrompt, "title (at most 40 characters)")
	assert.Contains(t, assembled.SystemPrompt, "answer (at most 200 characters)")
}

func TestEngine_RunTurnAndCommit(t *testing.T) {
	store := adapters.NewMemoryTurnStore()
	provider := &streamProvider{chunks: []ports.CompletionChunk{
		{DeltaText: "{{{{title}}}}Go{{{{/title}}}}"},
		{DeltaText: "{{{{summary}}}}About go.{{{{/summary}}}}"},
		{DeltaText: "{{{{response}}}}Use channels.{{{{/response}}}}"},
		{Done: true, Usage: &ports.Usage{TotalTokens: 2000}},
	}}
	engine := newTestEngine(t, engineOptions{store: store, provider: provider})

	var deltas int
	out, err := engine.RunTurn(context.Background(), TurnInput{
		ConversationID: "c1",
		Query:          "hello there, remember port=8080",
	}, func(harness.Delta) { deltas++ })
	require.NoError(t, err)

	assert.Equal(t, 3, deltas)
	assert.Equal(t, []string{"cheap-model"}, provider.models)
	assert.Equal(t, "Go", out.Result.Parsed.Title)
	assert.Equal(t, "Use channels.", out.Result.Parsed.Response)
	assert.Equal(t, service.CategoryGeneral, out.Savings.Category)
	assert.InDelta(t, 0.029, out.Savings.Savings, 1e-12)
	require.Len(t, out.Facts, 1)
	assert.Equal(t, service.Fact{Key: "port", Value: "8080"}, out.Facts[0])

	require.NoError(t, engine.CommitTurn(context.Background(), "c1", "hello there", out.Result.Parsed.Response))

	next, err := engine.AssembleContext(context.Background(), "c1", "and then?", "")
	require.NoError(t, err)
	assert.False(t, next.ExpectTitle)
	require.Len(t, next.HistoryMessages, 2)
	assert.Equal(t, "Use channels.", next.HistoryMessages[1].Content)
}

func TestEngine_RunTurnModelOverride(t *testing.T) {
	provider := &streamProvider{chunks: []ports.CompletionChunk{{DeltaText: "hi"}, {Done: true}}}
	engine := newTestEngine(t, engineOptions{provider: provider})

	_, err := engine.RunTurn(context.Background(), TurnInput{ConversationID: "c1", Query: "hi", Model: "pinned"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned"}, provider.models)
}

func TestEngine_RunTurnWithoutProvider(t *testing.T) {
	engine := newTestEngine(t, engineOptions{})

	_, err := engine.RunTurn(context.Background(), TurnInput{ConversationID: "c1", Query: "hi"}, nil)
	assert.ErrorIs(t, err, harness.ErrNoProvider)
}

func TestEngine_CommitTurn(t *testing.T) {
	engine := newTestEngine(t, engineOptions{})

	assert.ErrorIs(t, engine.CommitTurn(context.Background(), "", "q", "a"), service.ErrEmptyConversationID)
	assert.NoError(t, engine.CommitTurn(context.Background(), "c1", " ", ""))

	failing := newTestEngine(t, engineOptions{store: failingStore{}})
	assert.ErrorIs(t, failing.CommitTurn(context.Background(), "c1", "q", "a"), errStore)
}

func TestEngine_ForgetConversation(t *testing.T) {
	engine := newTestEngine(t, engineOptions{})
	engine.RecordFactsFromText("c1", "x=1")

	engine.ForgetConversation("c1")

	got, err := engine.AssembleContext(context.Background(), "c1", "hi", "")
	require.NoError(t, err)
	assert.Empty(t, got.FactsText)
}
