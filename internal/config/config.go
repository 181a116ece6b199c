package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`

	RerankEndpoint string        `envconfig:"RERANK_ENDPOINT"`
	RerankTimeout  time.Duration `envconfig:"RERANK_TIMEOUT" default:"3s"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"lumora-snapshots"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Chunking. Section limits are tunable, not invariants; the defaults sit
	// inside the 300-500 word window that keeps sections coherent.
	MaxSectionWords   int     `envconfig:"MAX_SECTION_WORDS" default:"400"`
	TLDRMaxWords      int     `envconfig:"TLDR_MAX_WORDS" default:"60"`
	CorrectedPriority float64 `envconfig:"CORRECTED_PRIORITY" default:"10"`

	// Retrieval fusion.
	RRFK           int     `envconfig:"RRF_K" default:"60"`
	SemanticWeight float64 `envconfig:"SEMANTIC_WEIGHT" default:"1.0"`
	LexicalWeight  float64 `envconfig:"LEXICAL_WEIGHT" default:"0.85"`

	// Token budgets.
	TokenEncoding      string  `envconfig:"TOKEN_ENCODING" default:"cl100k_base"`
	TotalContextBudget int     `envconfig:"TOTAL_CONTEXT_BUDGET" default:"3000"`
	PrimaryBudgetShare float64 `envconfig:"PRIMARY_BUDGET_SHARE" default:"0.6"`

	// Dispatch throttling.
	DispatchMinDelay time.Duration `envconfig:"DISPATCH_MIN_DELAY" default:"10s"`
	DispatchMaxDelay time.Duration `envconfig:"DISPATCH_MAX_DELAY" default:"60s"`
	DispatchSpacing  time.Duration `envconfig:"DISPATCH_SPACING" default:"3s"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	WorkerBatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`

	// Feature flags.
	FlagCacheTTL  time.Duration `envconfig:"FLAG_CACHE_TTL" default:"30s"`
	FlagCacheSize int           `envconfig:"FLAG_CACHE_SIZE" default:"1024"`

	PipelineVersion string `envconfig:"PIPELINE_VERSION" default:"v2"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LUMORA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxSectionWords <= 0 {
		return fmt.Errorf("MAX_SECTION_WORDS must be positive")
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("RRF_K must be positive")
	}
	if c.DispatchMinDelay > c.DispatchMaxDelay {
		return fmt.Errorf("DISPATCH_MIN_DELAY cannot exceed DISPATCH_MAX_DELAY")
	}
	if c.PrimaryBudgetShare <= 0 || c.PrimaryBudgetShare > 1 {
		return fmt.Errorf("PRIMARY_BUDGET_SHARE must be in (0, 1]")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasReranker() bool {
	return c.RerankEndpoint != ""
}
