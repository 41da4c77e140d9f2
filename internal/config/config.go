package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	EmbedLLM  LLMConfig       `yaml:"embed_llm"`
	InferLLM  LLMConfig       `yaml:"infer_llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Quota     QuotaConfig     `yaml:"quota"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Intent    IntentConfig    `yaml:"intent"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// ChunkingConfig holds the defaults applied when a store or index request
// leaves chunking parameters unset.
type ChunkingConfig struct {
	Strategy          string `yaml:"strategy"`
	MaxTokensPerChunk int    `yaml:"max_tokens_per_chunk"`
	MaxOverlapTokens  int    `yaml:"max_overlap_tokens"`
}

type QuotaConfig struct {
	// EmbeddingOverheadFactor estimates embedding storage as a multiple of
	// raw bytes. Inferred from upstream docs, not measured; keep it tunable.
	EmbeddingOverheadFactor int64 `yaml:"embedding_overhead_factor"`
	DefaultQuotaBytes       int64 `yaml:"default_quota_bytes"`
}

type RetrievalConfig struct {
	// OversamplingFactor widens the candidate fetch to survive
	// post-retrieval metadata filtering.
	OversamplingFactor int `yaml:"oversampling_factor"`
	EmbedTimeoutSecs   int `yaml:"embed_timeout_secs"`
}

type IntentConfig struct {
	LLMTimeoutSecs int        `yaml:"llm_timeout_secs"`
	Vocabulary     Vocabulary `yaml:"vocabulary"`
}

// Vocabulary drives the deterministic fallback parser. Category entries are
// matched in order, so put the more specific keywords first.
type Vocabulary struct {
	Categories   []CategoryKeywords `yaml:"categories"`
	RelativeDays map[string]int     `yaml:"relative_days"`
}

type CategoryKeywords struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

const (
	defaultMaxTokensPerChunk       = 512
	defaultMaxOverlapTokens        = 50
	defaultEmbeddingOverheadFactor = 3
	defaultQuotaBytes              = 1 << 30 // 1 GiB
	defaultOversamplingFactor      = 3
	defaultEmbedTimeoutSecs        = 30
	defaultLLMTimeoutSecs          = 30
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields in place.
func (c *Config) ApplyDefaults() {
	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = "auto"
	}
	if c.Chunking.MaxTokensPerChunk == 0 {
		c.Chunking.MaxTokensPerChunk = defaultMaxTokensPerChunk
	}
	if c.Chunking.MaxOverlapTokens == 0 {
		c.Chunking.MaxOverlapTokens = defaultMaxOverlapTokens
	}
	if c.Quota.EmbeddingOverheadFactor == 0 {
		c.Quota.EmbeddingOverheadFactor = defaultEmbeddingOverheadFactor
	}
	if c.Quota.DefaultQuotaBytes == 0 {
		c.Quota.DefaultQuotaBytes = defaultQuotaBytes
	}
	if c.Retrieval.OversamplingFactor == 0 {
		c.Retrieval.OversamplingFactor = defaultOversamplingFactor
	}
	if c.Retrieval.EmbedTimeoutSecs == 0 {
		c.Retrieval.EmbedTimeoutSecs = defaultEmbedTimeoutSecs
	}
	if c.Intent.LLMTimeoutSecs == 0 {
		c.Intent.LLMTimeoutSecs = defaultLLMTimeoutSecs
	}
	if len(c.Intent.Vocabulary.Categories) == 0 {
		// Order matters: "nosql" must match before "sql".
		c.Intent.Vocabulary.Categories = []CategoryKeywords{
			{Category: "nosql", Keywords: []string{"nosql", "mongo", "mongodb", "document database"}},
			{Category: "sql", Keywords: []string{"sql", "postgres", "postgresql", "relational"}},
		}
	}
	if len(c.Intent.Vocabulary.RelativeDays) == 0 {
		c.Intent.Vocabulary.RelativeDays = map[string]int{
			"last week":      7,
			"past week":      7,
			"last fortnight": 14,
		}
	}
}
