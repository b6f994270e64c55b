package service

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/adapters"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

func keywordRouter() *QueryRouter {
	return NewQueryRouter(config.RouterConfig{Tiers: testTiers()}, nil, nil, nil, zerolog.Nop())
}

func classifierRouter(provider ports.Provider, cache ports.Cache) *QueryRouter {
	cfg := config.RouterConfig{
		ClassifierEnabled: true,
		ClassifierModel:   "classifier-model",
		Tiers:             testTiers(),
	}
	return NewQueryRouter(cfg, provider, cache, nil, zerolog.Nop())
}

func TestKeywordCategory(t *testing.T) {
	tests := []struct {
		query string
		want  Category
	}{
		{"Why does my Python function throw an exception?", CategoryCoding},
		{"Write a comprehensive research essay on economic history", CategoryHeavy},
		{"What's the weather like today?", CategoryGeneral},
		{"debug the research pipeline", CategoryCoding},
		{"fix this SQL query", CategoryCoding},
		{"", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordCategory(tt.query))
		})
	}
}

func TestKeywordCategory_ListsAreDisjoint(t *testing.T) {
	codingKeywords.tree.Walk(func(k string, _ any) bool {
		_, found := heavyKeywords.tree.Get(k)
		assert.False(t, found, "keyword %q is in both lists", k)
		return false
	})
}

func TestQueryRouter_SelectModel(t *testing.T) {
	router := keywordRouter()

	assert.Equal(t, "quality-model", router.SelectModel(CategoryCoding).ModelID)
	assert.Equal(t, "cheap-model", router.SelectModel(CategoryGeneral).ModelID)
	assert.Equal(t, "premium-model", router.SelectModel(CategoryHeavy).ModelID)
	assert.Contains(t, router.SelectModel(CategoryHeavy).Reasoning, "premium")
}

func TestQueryRouter_RouteIsDeterministicWithoutClassifier(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	router := NewQueryRouter(config.RouterConfig{Tiers: testTiers()}, nil, nil, metrics, zerolog.Nop())

	first := router.Route(context.Background(), "refactor this golang code", nil)
	second := router.Route(context.Background(), "refactor this golang code", nil)

	assert.Equal(t, CategoryCoding, first.Category)
	assert.Equal(t, MethodKeywords, first.Method)
	assert.Equal(t, "quality-model", first.ModelID)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.ModelID, second.ModelID)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.routingDecisions.WithLabelValues("coding", "keywords")))
}

func TestQueryRouter_ClassifierAndCache(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, mock.MatchedBy(func(in ports.PromptInput) bool {
		return in.Model == "classifier-model"
	}), mock.Anything).Return(ports.Completion{
		Text: "Sure! {\"category\": \"heavy\", \"reasoning\": \"needs depth\"}",
	}, nil).Once()

	router := classifierRouter(provider, adapters.NewLRUCache(16))

	decision := router.Route(context.Background(), "tell me about rivers", nil)
	assert.Equal(t, CategoryHeavy, decision.Category)
	assert.Equal(t, MethodClassifier, decision.Method)
	assert.Equal(t, "premium-model", decision.ModelID)
	assert.Contains(t, decision.Reasoning, "needs depth")

	cached := router.Route(context.Background(), "tell me about rivers", nil)
	assert.Equal(t, CategoryHeavy, cached.Category)
	assert.Equal(t, MethodCache, cached.Method)

	provider.AssertNumberOfCalls(t, "Complete", 1)
}

func TestQueryRouter_ClassifierSeesLastTwoMessages(t *testing.T) {
	var prompt string
	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			prompt = args.Get(1).(ports.PromptInput).Messages[0].Content
		}).
		Return(ports.Completion{Text: `{"category": "general"}`}, nil)

	router := classifierRouter(provider, nil)
	history := []ports.PromptMessage{
		{Role: ports.RoleUser, Content: "oldest"},
		{Role: ports.RoleAssistant, Content: "middle"},
		{Role: ports.RoleUser, Content: "newest"},
	}

	category, _, method := router.Classify(context.Background(), "and then?", history)

	assert.Equal(t, CategoryGeneral, category)
	assert.Equal(t, MethodClassifier, method)
	assert.NotContains(t, prompt, "oldest")
	assert.Contains(t, prompt, "assistant: middle")
	assert.Contains(t, prompt, "user: newest")
	assert.True(t, strings.HasSuffix(prompt, "and then?"))
}

func TestQueryRouter_ClassifierFallsBackToKeywords(t *testing.T) {
	tests := []struct {
		name  string
		reply ports.Completion
		err   error
	}{
		{"call fails", ports.Completion{}, errBoom},
		{"no json", ports.Completion{Text: "I think this is coding"}, nil},
		{"unknown category", ports.Completion{Text: `{"category": "poetry"}`}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockProvider)
			provider.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			router := classifierRouter(provider, adapters.NewLRUCache(16))
			category, _, method := router.Classify(context.Background(), "debug my python script", nil)

			assert.Equal(t, CategoryCoding, category)
			assert.Equal(t, MethodKeywords, method)
		})
	}
}

func TestQueryRouter_EstimateCostSavings(t *testing.T) {
	router := keywordRouter()

	general := router.EstimateCostSavings(CategoryGeneral, 2000)
	assert.InDelta(t, 0.001, general.ModelCost, 1e-12)
	assert.InDelta(t, 0.03, general.BaselineCost, 1e-12)
	assert.InDelta(t, 0.029, general.Savings, 1e-12)
	assert.InDelta(t, 96.6667, general.SavingsPercent, 1e-3)

	heavy := router.EstimateCostSavings(CategoryHeavy, 2000)
	assert.InDelta(t, 0, heavy.Savings, 1e-12)
}

func TestQueryRouter_SetTiers(t *testing.T) {
	router := keywordRouter()

	tiers := testTiers()
	tiers.Quality.Model = "quality-v2"
	router.SetTiers(tiers)

	assert.Equal(t, "quality-v2", router.SelectModel(CategoryCoding).ModelID)
}

func TestQueryRouter_ClassifierDisabledWithoutProvider(t *testing.T) {
	router := classifierRouter(nil, nil)

	_, _, method := router.Classify(context.Background(), "hello", nil)
	assert.Equal(t, MethodKeywords, method)
}

func TestShortTermMemory_Get(t *testing.T) {
	store := newCountingStore()
	store.addPairs("c1", 6)
	mem := NewShortTermMemory(NewTurnCache(store, nil, nil), 0)

	msgs, err := mem.Get(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, DefaultShortTermK)
	assert.Equal(t, ports.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "answer 3", msgs[0].Content)
	assert.Equal(t, "answer 5", msgs[4].Content)

	msgs, err = mem.Get(context.Background(), "c1", 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestTurnsToMessages(t *testing.T) {
	msgs := TurnsToMessages([]ports.ConversationTurn{
		{UserText: "hi", AssistantText: "hello"},
		{UserText: "only user"},
		{AssistantText: "only assistant"},
		{},
	})

	assert.Equal(t, []ports.PromptMessage{
		{Role: ports.RoleUser, Content: "hi"},
		{Role: ports.RoleAssistant, Content: "hello"},
		{Role: ports.RoleUser, Content: "only user"},
		{Role: ports.RoleAssistant, Content: "only assistant"},
	}, msgs)
}

func TestLastK(t *testing.T) {
	msgs := []ports.PromptMessage{{Content: "a"}, {Content: "b"}, {Content: "c"}}

	assert.Equal(t, []ports.PromptMessage{{Content: "b"}, {Content: "c"}}, LastK(msgs, 2))
	assert.Len(t, LastK(msgs, 10), 3)
	assert.Nil(t, LastK(msgs, 0))

	out := LastK(msgs, 1)
	out[0].Content = "changed"
	assert.Equal(t, "c", msgs[2].Content)
}
