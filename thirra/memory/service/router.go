package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/models"
	"github.com/rs/zerolog"
)

const (
	DefaultClassifierTimeout = 3 * time.Second
	DefaultRouterCacheTTL    = 10 * time.Minute

	classifierHistory = 2
)

const classifierPrompt = `Classify the user's latest message into exactly one category:
- coding: programming, debugging, code review, software tooling, data formats
- heavy: long-form research, deep analysis, strategy, proofs, expert-domain reasoning
- general: everything else, including casual chat and short factual questions

Reply with JSON only: {"category": "coding|general|heavy", "reasoning": "<one short sentence>"}`

const classificationSchema = `{
	"type": "object",
	"required": ["category"],
	"properties": {
		"category": {"type": "string", "enum": ["coding", "general", "heavy"]},
		"reasoning": {"type": "string"}
	}
}`

// Coding and heavy keywords are disjoint. Prefix entries cover inflections.
var (
	codingKeywords = newKeywordSet(
		[]string{
			"code", "coding", "function", "debug", "compil", "refactor", "python", "javascript",
			"typescript", "golang", "java", "rust", "algorithm", "exception", "syntax", "script",
			"variable", "deploy", "docker", "kubernet", "endpoint", "stacktrace", "segfault",
			"program", "implement", "regex", "databas", "repositor", "framework", "librar",
		},
		[]string{"c++", "c#", "js", "ts", "sql", "api", "bug", "bugs", "git", "css", "html", "json", "yaml", "npm", "pip", "cli"},
	)
	heavyKeywords = newKeywordSet(
		[]string{
			"research", "essay", "thesis", "dissertation", "proof", "theorem", "philosoph",
			"strateg", "comprehensive", "exhaustive", "detailed", "analy", "evaluat", "critique",
			"whitepaper", "report", "econom", "legal", "medic", "diagnos", "financ", "invest",
			"literatur", "histor",
		},
		[]string{"deep", "depth"},
	)
)

// ModelChoice is the model picked for a category.
type ModelChoice struct {
	ModelID   string `json:"model_id"`
	Reasoning string `json:"reasoning"`
}

// CostSavings compares a routed model against always using the premium tier.
type CostSavings struct {
	Category       Category `json:"category"`
	Tokens         int      `json:"tokens"`
	ModelCost      float64  `json:"model_cost"`
	BaselineCost   float64  `json:"baseline_cost"`
	Savings        float64  `json:"savings"`
	SavingsPercent float64  `json:"savings_percent"`
}

type classification struct {
	Category  Category `json:"category"`
	Reasoning string   `json:"reasoning"`
}

// QueryRouter classifies queries into cost tiers and picks a model per tier.
type QueryRouter struct {
	provider  ports.Provider // nil disables the classifier
	cache     ports.Cache
	parser    *harness.OutputParser
	validator *harness.JSONValidator
	metrics   *Metrics
	logger    zerolog.Logger

	classifierEnabled bool
	classifierModel   string
	timeout           time.Duration
	cacheTTL          time.Duration

	mu    sync.RWMutex
	tiers config.TiersConfig
}

// NewQueryRouter creates a router. provider and cache may be nil.
func NewQueryRouter(
	cfg config.RouterConfig,
	provider ports.Provider,
	cache ports.Cache,
	metrics *Metrics,
	logger zerolog.Logger,
) *QueryRouter {
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = DefaultClassifierTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultRouterCacheTTL
	}
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = cfg.Tiers.Cheap.Model
	}
	return &QueryRouter{
		provider:          provider,
		cache:             cache,
		parser:            harness.NewOutputParser(0, 0),
		validator:         harness.NewJSONValidator(),
		metrics:           metrics,
		logger:            logger.With().Str("component", "query_router").Logger(),
		classifierEnabled: cfg.ClassifierEnabled && provider != nil,
		classifierModel:   cfg.ClassifierModel,
		timeout:           cfg.ClassifierTimeout,
		cacheTTL:          cfg.CacheTTL,
		tiers:             cfg.Tiers,
	}
}

// SetTiers swaps the model table, e.g. after a config reload.
func (r *QueryRouter) SetTiers(tiers config.TiersConfig) {
	r.mu.Lock()
	r.tiers = tiers
	r.mu.Unlock()
}

// Route classifies query and selects its model.
func (r *QueryRouter) Route(ctx context.Context, query string, history []ports.PromptMessage) RoutingDecision {
	start := time.Now()

	category, why, method := r.Classify(ctx, query, history)
	choice := r.SelectModel(category)

	r.metrics.RecordRouting(category, method)
	decision := RoutingDecision{
		ModelID:   choice.ModelID,
		Category:  category,
		Reasoning: strings.TrimSpace(why + " " + choice.Reasoning),
		Latency:   time.Since(start),
		Method:    method,
	}
	r.logger.Debug().
		Str("category", string(category)).
		Str("method", string(method)).
		Str("model", choice.ModelID).
		Dur("latency", decision.Latency).
		Msg("routed query")
	return decision
}

// Classify returns the query's category, a short reason and how it was decided.
// Classifier failures fall back to KeywordCategory.
func (r *QueryRouter) Classify(ctx context.Context, query string, history []ports.PromptMessage) (Category, string, RoutingMethod) {
	if !r.classifierEnabled {
		return KeywordCategory(query), "keyword match", MethodKeywords
	}

	recent := LastK(history, classifierHistory)
	key := classificationKey(query, recent)

	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var c classification
			if err := json.Unmarshal(raw, &c); err == nil && c.Category.Valid() {
				return c.Category, c.Reasoning, MethodCache
			}
		}
	}

	c, raw, err := r.classify(ctx, query, recent)
	if err != nil {
		r.logger.Debug().Err(err).Msg("classifier unavailable, using keywords")
		return KeywordCategory(query), "keyword match", MethodKeywords
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, raw, int(r.cacheTTL.Seconds())); err != nil {
			r.logger.Debug().Err(err).Msg("classification cache write failed")
		}
	}
	return c.Category, c.Reasoning, MethodClassifier
}

func (r *QueryRouter) classify(ctx context.Context, query string, recent []ports.PromptMessage) (classification, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest message:\n")
	b.WriteString(query)

	out, err := r.provider.Complete(ctx, ports.PromptInput{
		System:   classifierPrompt,
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: b.String()}},
		Model:    r.classifierModel,
		Meta:     map[string]string{"purpose": "classification"},
	}, ports.Options{MaxNewTokens: 120})
	if err != nil {
		return classification{}, nil, fmt.Errorf("classifier call: %w", err)
	}

	raw, err := r.parser.ParseJSONOutput(out.Text)
	if err != nil {
		return classification{}, nil, err
	}
	if err := r.validator.Validate(raw, []byte(classificationSchema)); err != nil {
		return classification{}, nil, err
	}

	var c classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return classification{}, nil, fmt.Errorf("decode classification: %w", err)
	}
	return c, raw, nil
}

// KeywordCategory classifies query by keyword hits alone. Coding wins ties.
func KeywordCategory(query string) Category {
	words := tokenize(query)
	coding := codingKeywords.hits(words)
	heavy := heavyKeywords.hits(words)

	switch {
	case coding > 0 && coding >= heavy:
		return CategoryCoding
	case heavy > 0:
		return CategoryHeavy
	default:
		return CategoryGeneral
	}
}

// SelectModel maps a category onto its tier's configured model.
func (r *QueryRouter) SelectModel(category Category) ModelChoice {
	tier := TierFor(category)
	return ModelChoice{
		ModelID:   r.tierConfig(tier).Model,
		Reasoning: fmt.Sprintf("%s query routed to %s tier", category, tier),
	}
}

// EstimateCostSavings compares the category's model against the premium tier for tokens.
func (r *QueryRouter) EstimateCostSavings(category Category, tokens int) CostSavings {
	tier := r.tierConfig(TierFor(category))
	premium := r.tierConfig(models.TierPremium)

	out := CostSavings{
		Category:     category,
		Tokens:       tokens,
		ModelCost:    models.Cost(tokens, tier.CostPer1KTokens),
		BaselineCost: models.Cost(tokens, premium.CostPer1KTokens),
	}
	out.Savings = out.BaselineCost - out.ModelCost
	if out.BaselineCost > 0 {
		out.SavingsPercent = out.Savings / out.BaselineCost * 100
	}
	return out
}

// TierFor maps coding to quality, heavy to premium and everything else to cheap.
func TierFor(category Category) models.Tier {
	switch category {
	case CategoryCoding:
		return models.TierQuality
	case CategoryHeavy:
		return models.TierPremium
	default:
		return models.TierCheap
	}
}

func (r *QueryRouter) tierConfig(tier models.Tier) config.TierConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return tier.Model(r.tiers)
}

func classificationKey(query string, recent []ports.PromptMessage) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	for _, m := range recent {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return "route:" + hex.EncodeToString(h.Sum(nil))
}
