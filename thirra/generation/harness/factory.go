package harness

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/adapters"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/models"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for the turn store
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator around provider.
func (f *Factory) CreateOrchestrator(provider ports.Provider) *Orchestrator {
	return NewOrchestrator(
		provider,
		f.CreateParser(),
		f.CreateRateLimiter(),
		f.CreateTracer(),
		f.CreatePolicy(),
		f.logger,
	)
}

// CreateProvider builds the chat provider. It returns ErrNoProvider when the provider is
// disabled or has no credentials, which callers treat as offline mode.
func (f *Factory) CreateProvider() (ports.Provider, error) {
	llm := f.cfg.LLM
	switch strings.ToLower(llm.Provider) {
	case "", "none":
		return nil, ErrNoProvider
	case "openai":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llm.Provider)
	}

	p, err := adapters.NewOpenAIProvider(f.openAIConfig(), f.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProvider, err)
	}
	return p, nil
}

// CreateEmbedder builds the embedding provider, wrapped in the query embedding cache.
// A nil embedder with nil error means semantic recall is disabled.
func (f *Factory) CreateEmbedder() (ports.Embedder, error) {
	emb := f.cfg.Embedding

	var base ports.Embedder
	switch strings.ToLower(emb.Provider) {
	case "", "none":
		return nil, nil
	case "openai":
		e, err := adapters.NewOpenAIEmbedder(f.openAIConfig(), emb.Model, emb.Dims, emb.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		base = e
	case "hugot":
		e, err := models.NewHugotEmbedder(emb.ModelPath, emb.BatchSize, f.logger)
		if err != nil {
			return nil, fmt.Errorf("hugot embedder: %w", err)
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", emb.Provider)
	}

	if emb.CacheCapacity > 0 {
		return models.NewCachedEmbedder(base, emb.Provider+"/"+emb.Model, emb.CacheCapacity), nil
	}
	return base, nil
}

// CreateCache creates the classification memo cache.
func (f *Factory) CreateCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}

	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger)
}

// CreateTurnStore creates the turn store: libsql when a database is open, memory otherwise.
func (f *Factory) CreateTurnStore() ports.TurnStore {
	if f.db == nil {
		return adapters.NewMemoryTurnStore()
	}

	return adapters.NewLibSQLTurnStore(f.db)
}

// CreateParser creates an output parser with the configured caps.
func (f *Factory) CreateParser() *OutputParser {
	return NewOutputParser(f.cfg.Parser.TitleMaxChars, f.cfg.Parser.SummaryMaxChars)
}

// CreateBudgetParams maps the budget section, falling back to defaults for unset values.
func (f *Factory) CreateBudgetParams() BudgetParams {
	p := DefaultBudgetParams()
	b := f.cfg.Budget
	if b.MaxPromptChars > 0 {
		p.MaxPromptChars = b.MaxPromptChars
	}
	if b.MaxHistoryChars > 0 {
		p.MaxHistoryChars = b.MaxHistoryChars
	}
	if b.CompressedMessageChars > 0 {
		p.CompressedMessageChars = b.CompressedMessageChars
	}
	if b.SummaryCapChars > 0 {
		p.SummaryCapChars = b.SummaryCapChars
	}
	return p
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	h := f.cfg.Harness
	policy := &Policy{
		RetryCount:   h.RetryCount,
		RetryBackoff: h.RetryBackoff,
		StreamBuffer: h.StreamBuffer,
	}

	if policy.RetryCount < 0 {
		policy.RetryCount = 0
		f.logger.Warn().Int("retry_count", h.RetryCount).Msg("RetryCount clamped to minimum of 0")
	}
	if policy.RetryCount > 5 {
		policy.RetryCount = 5
		f.logger.Warn().Int("retry_count", h.RetryCount).Msg("RetryCount clamped to maximum of 5")
	}
	if policy.StreamBuffer < 1 {
		policy.StreamBuffer = DefaultPolicy().StreamBuffer
	}

	return policy
}

// ProviderOptions maps the llm section onto per-call options.
func (f *Factory) ProviderOptions() ports.Options {
	return ports.Options{
		MaxNewTokens: f.cfg.LLM.MaxNewTokens,
		Temperature:  f.cfg.LLM.Temperature,
		TopP:         f.cfg.LLM.TopP,
		TimeoutMs:    int(f.cfg.LLM.Timeout.Milliseconds()),
	}
}

func (f *Factory) openAIConfig() adapters.OpenAIConfig {
	return adapters.OpenAIConfig{
		APIKey:     f.cfg.LLM.APIKey,
		BaseURL:    f.cfg.LLM.BaseURL,
		Timeout:    f.cfg.LLM.Timeout,
		MaxRetries: f.cfg.LLM.MaxRetries,
		StreamBuf:  f.cfg.Harness.StreamBuffer,
	}
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
