package service

import (
	"fmt"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// MemorySystem is the main entry point for the memory subsystem.
// It owns every per-conversation store and tears them down on Close.
type MemorySystem struct {
	config *config.Config

	// Memory layers
	Turns     *TurnCache
	ShortTerm *ShortTermMemory
	Summaries *SummaryCache
	Facts     *FactStore
	Index     *SemanticIndex
	Retriever *Retriever

	// Routing
	Router *QueryRouter

	// Infrastructure
	Metrics  *Metrics
	embedder ports.Embedder
	logger   zerolog.Logger
}

// MemorySystemConfig holds everything needed to initialize the memory system.
type MemorySystemConfig struct {
	Config *config.Config
	Store  ports.TurnStore

	// Optional collaborators
	Provider ports.Provider        // nil: extractive summaries, keyword routing
	Embedder ports.Embedder        // nil: semantic recall disabled
	Cache    ports.Cache           // classification memoization
	Registry prometheus.Registerer // nil: metrics are kept but not exported
	Logger   zerolog.Logger
}

// NewMemorySystem creates a fully configured memory system.
func NewMemorySystem(cfg MemorySystemConfig) (*MemorySystem, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("turn store is required")
	}

	mem := cfg.Config.Memory
	logger := cfg.Logger.With().Str("component", "memory").Logger()
	metrics := NewMetrics(cfg.Registry)

	idle := StateStoreOptions{
		MaxEntries: mem.MaxConversations,
		TTL:        mem.StateIdleTTL,
		Sliding:    true,
	}

	ttl := mem.TurnCacheTTL
	if ttl <= 0 {
		ttl = DefaultTurnCacheTTL
	}
	turns := NewTurnCache(cfg.Store, NewStateStore[CachedTurns](StateStoreOptions{
		MaxEntries: mem.MaxConversations,
		TTL:        ttl,
	}), metrics)

	var summarizer Summarizer = ExtractiveSummarizer{}
	if cfg.Provider != nil {
		summarizer = NewLLMSummarizer(cfg.Provider, cfg.Config.Router.Tiers.Cheap.Model, ports.Options{
			MaxNewTokens: 400,
			Temperature:  0.2,
			TimeoutMs:    int(cfg.Config.LLM.Timeout.Milliseconds()),
		})
	}

	index := NewSemanticIndex(idle, SemanticIndexOptions{
		ChunkSize:          mem.ChunkSize,
		ChunkOverlap:       mem.ChunkOverlap,
		MaxChunks:          mem.MaxChunksPerConversation,
		BatchSize:          cfg.Config.Embedding.BatchSize,
		Concurrency:        mem.EmbedConcurrency,
		IndexAssistantText: mem.IndexAssistantText,
	}, metrics, logger)

	ms := &MemorySystem{
		config:    cfg.Config,
		Turns:     turns,
		ShortTerm: NewShortTermMemory(turns, mem.ShortTermK),
		Summaries: NewSummaryCache(turns, NewStateStore[SummaryEntry](idle), summarizer, SummaryCacheOptions{
			Window:         mem.ShortTermK,
			TTL:            mem.SummaryTTL,
			DriftThreshold: mem.SummaryDriftThreshold,
			MaxChars:       mem.SummaryMaxChars,
		}, metrics, logger),
		Facts: NewFactStore(idle, mem.MaxFacts),
		Index: index,
		Retriever: NewRetriever(index, RetrieverOptions{
			ComplexityThreshold: mem.ComplexityThreshold,
			RelativeThreshold:   mem.RelativeThreshold,
			MinSimilarity:       mem.RetrievalMinSimilarity,
			MaxContextChars:     mem.RetrievalMaxContextChars,
		}, metrics, logger),
		Router:   NewQueryRouter(cfg.Config.Router, cfg.Provider, cfg.Cache, metrics, logger),
		Metrics:  metrics,
		embedder: cfg.Embedder,
		logger:   logger,
	}

	logger.Info().
		Int("short_term_k", ms.ShortTerm.Window()).
		Bool("semantic_recall", cfg.Embedder != nil).
		Bool("llm_summaries", cfg.Provider != nil).
		Msg("memory system ready")

	return ms, nil
}

// Embedder returns the embedder used for semantic recall, or nil.
func (ms *MemorySystem) Embedder() ports.Embedder {
	return ms.embedder
}

// Forget drops every piece of state held for the conversation.
func (ms *MemorySystem) Forget(conversationID string) {
	ms.Turns.Invalidate(conversationID)
	ms.Summaries.Forget(conversationID)
	ms.Facts.Clear(conversationID)
	ms.Index.Forget(conversationID)
}

// Close releases all per-conversation state.
func (ms *MemorySystem) Close() error {
	ms.Turns.entries.Close()
	ms.Summaries.entries.Close()
	ms.Facts.states.Close()
	ms.Index.Close()
	ms.logger.Info().Msg("memory system closed")
	return nil
}
