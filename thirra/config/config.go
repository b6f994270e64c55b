package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/opestro/Thirra-ai-sub000/thirra"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App       AppSettings     `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Router    RouterConfig    `mapstructure:"router"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Harness   HarnessConfig   `mapstructure:"harness"`
}

// AppSettings stores process-level settings.
type AppSettings struct {
	LogLevel    string `mapstructure:"log_level"`    // zerolog level name
	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables the /metrics listener
}

// DatabaseConfig stores turn store connection details.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn"`
	Type          string `mapstructure:"type"`            // "libsql" or "memory"
	AutoMigrate   bool   `mapstructure:"auto_migrate"`    // run goose migrations on connect
	LibSQLDataDir string `mapstructure:"libsql_data_dir"` // Directory for database files
}

// LLMConfig stores chat completion provider settings.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // "openai" or "none"
	BaseURL      string        `mapstructure:"base_url"` // any OpenAI-compatible endpoint
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	MaxNewTokens int           `mapstructure:"max_new_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
}

// EmbeddingConfig stores embedding provider settings.
type EmbeddingConfig struct {
	Provider      string `mapstructure:"provider"`       // "openai", "hugot" or "none"
	Model         string `mapstructure:"model"`          // remote model name
	ModelPath     string `mapstructure:"model_path"`     // local ONNX model directory (hugot)
	Dims          int    `mapstructure:"dims"`           // requested dimensions, 0 keeps the model default
	BatchSize     int    `mapstructure:"batch_size"`     // texts per embedding call
	CacheCapacity int    `mapstructure:"cache_capacity"` // query embedding cache entries
}

// MemoryConfig stores the per-conversation memory layers configuration.
type MemoryConfig struct {
	ShortTermK int `mapstructure:"short_term_k"` // messages kept verbatim

	TurnCacheTTL time.Duration `mapstructure:"turn_cache_ttl"`

	// Long-term summary
	SummaryTTL            time.Duration `mapstructure:"summary_ttl"`
	SummaryDriftThreshold int           `mapstructure:"summary_drift_threshold"` // regenerate after this many new messages
	SummaryMaxChars       int           `mapstructure:"summary_max_chars"`

	// Facts
	MaxFacts int `mapstructure:"max_facts"`

	// Semantic index
	ChunkSize                int     `mapstructure:"chunk_size"`
	ChunkOverlap             int     `mapstructure:"chunk_overlap"`
	MaxChunksPerConversation int     `mapstructure:"max_chunks_per_conversation"`
	RelativeThreshold        float64 `mapstructure:"relative_threshold"`
	ComplexityThreshold      float64 `mapstructure:"complexity_threshold"`
	EmbedConcurrency         int     `mapstructure:"embed_concurrency"`
	IndexAssistantText       bool    `mapstructure:"index_assistant_text"`
	RetrievalMinSimilarity   float64 `mapstructure:"retrieval_min_similarity"`
	RetrievalMaxContextChars int     `mapstructure:"retrieval_max_context_chars"`

	// State store bounds
	MaxConversations int           `mapstructure:"max_conversations"` // per state store
	StateIdleTTL     time.Duration `mapstructure:"state_idle_ttl"`
}

// BudgetConfig stores the character budget enforced on every prompt.
type BudgetConfig struct {
	MaxPromptChars         int `mapstructure:"max_prompt_chars"`
	MaxHistoryChars        int `mapstructure:"max_history_chars"`
	CompressedMessageChars int `mapstructure:"compressed_message_chars"`
	SummaryCapChars        int `mapstructure:"summary_cap_chars"`
}

// TierConfig binds a model to its blended price.
type TierConfig struct {
	Model           string  `mapstructure:"model"`
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens"`
}

// TiersConfig lists the three model tiers the router chooses from.
type TiersConfig struct {
	Cheap   TierConfig `mapstructure:"cheap"`
	Quality TierConfig `mapstructure:"quality"`
	Premium TierConfig `mapstructure:"premium"`
}

// RouterConfig stores query classification and model selection settings.
type RouterConfig struct {
	ClassifierEnabled bool          `mapstructure:"classifier_enabled"`
	ClassifierModel   string        `mapstructure:"classifier_model"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	Tiers             TiersConfig   `mapstructure:"tiers"`
}

// ParserConfig stores structured output limits.
type ParserConfig struct {
	TitleMaxChars   int  `mapstructure:"title_max_chars"`
	SummaryMaxChars int  `mapstructure:"summary_max_chars"`
	ExpectTitle     bool `mapstructure:"expect_title"`
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled  bool `mapstructure:"cache_enabled"`  // classification memoization
	CacheCapacity int  `mapstructure:"cache_capacity"` // LRU cache capacity

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Streaming
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	StreamBuffer int           `mapstructure:"stream_buffer"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

var (
	AppConfig Config

	loaderMu sync.Mutex
	loader   *viper.Viper
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.api_key becomes LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file on the search path; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	loaderMu.Lock()
	loader = v
	AppConfig = cfg
	loaderMu.Unlock()

	return &cfg, nil
}

// WatchConfig reloads the config file on change and hands the decoded result to onChange.
// It is a no-op when LoadConfig has not found a config file.
func WatchConfig(onChange func(*Config, fsnotify.Event)) bool {
	loaderMu.Lock()
	v := loader
	loaderMu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		loaderMu.Lock()
		AppConfig = cfg
		loaderMu.Unlock()
		if onChange != nil {
			onChange(&cfg, e)
		}
	})
	v.WatchConfig()
	return true
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.metrics_addr", "")

	v.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("database.type", internal.DefaultDatabaseType)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.libsql_data_dir", internal.DefaultDatabaseDir)

	// LLM defaults (any OpenAI-compatible endpoint)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.max_new_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.9)

	// Embedding defaults
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.model_path", "")
	v.SetDefault("embedding.dims", 0)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.cache_capacity", 512)

	// Memory defaults
	v.SetDefault("memory.short_term_k", 5)
	v.SetDefault("memory.turn_cache_ttl", "30s")
	v.SetDefault("memory.summary_ttl", "120s")
	v.SetDefault("memory.summary_drift_threshold", 2)
	v.SetDefault("memory.summary_max_chars", 600)
	v.SetDefault("memory.max_facts", 50)
	v.SetDefault("memory.chunk_size", 1000)
	v.SetDefault("memory.chunk_overlap", 150)
	v.SetDefault("memory.max_chunks_per_conversation", 2000)
	v.SetDefault("memory.relative_threshold", 0.8)
	v.SetDefault("memory.complexity_threshold", 0.6)
	v.SetDefault("memory.embed_concurrency", 4)
	v.SetDefault("memory.index_assistant_text", true)
	v.SetDefault("memory.retrieval_min_similarity", 0.0)
	v.SetDefault("memory.retrieval_max_context_chars", 4000)
	v.SetDefault("memory.max_conversations", 1000)
	v.SetDefault("memory.state_idle_ttl", "1h")

	// Budget defaults (characters, roughly 4 per token)
	v.SetDefault("budget.max_prompt_chars", 24000)
	v.SetDefault("budget.max_history_chars", 12000)
	v.SetDefault("budget.compressed_message_chars", 240)
	v.SetDefault("budget.summary_cap_chars", 600)

	// Router defaults
	v.SetDefault("router.classifier_enabled", true)
	v.SetDefault("router.classifier_model", "gpt-4o-mini")
	v.SetDefault("router.classifier_timeout", "5s")
	v.SetDefault("router.cache_ttl", "10m")
	v.SetDefault("router.tiers.cheap.model", "gpt-4o-mini")
	v.SetDefault("router.tiers.cheap.cost_per_1k_tokens", 0.0006)
	v.SetDefault("router.tiers.quality.model", "gpt-4.1")
	v.SetDefault("router.tiers.quality.cost_per_1k_tokens", 0.008)
	v.SetDefault("router.tiers.premium.model", "o3")
	v.SetDefault("router.tiers.premium.cost_per_1k_tokens", 0.04)

	// Parser defaults
	v.SetDefault("parser.title_max_chars", 120)
	v.SetDefault("parser.summary_max_chars", 500)
	v.SetDefault("parser.expect_title", false)

	// Harness defaults
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 1000)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.retry_count", 2)
	v.SetDefault("harness.retry_backoff", "250ms")
	v.SetDefault("harness.stream_buffer", 64)
	v.SetDefault("harness.enable_tracing", true)
}
