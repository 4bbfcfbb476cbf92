// Package config loads Fasal Rakshak settings from YAML, environment and .env.
package config

import (
	"fmt"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
)

// NoRetries as max_retries turns retries off. 0 selects the default.
const NoRetries = -1

// Retries returns the number of retries a validated max_retries stands for.
func Retries(maxRetries int) uint64 {
	if maxRetries < 0 {
		return 0
	}
	return uint64(maxRetries)
}

// Config is the root configuration.
type Config struct {
	Log         LogConfig      `koanf:"log"`
	RAG         RAGConfig      `koanf:"rag"`
	Embedder    EmbedderConfig `koanf:"embedder"`
	LLM         LLMConfig      `koanf:"llm"`
	Weather     WeatherConfig  `koanf:"weather"`
	Telegram    TelegramConfig `koanf:"telegram"`
	Server      ServerConfig   `koanf:"server"`
	PersonaFile string         `koanf:"persona_file"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RAGConfig controls chunking, persistence and retrieval.
type RAGConfig struct {
	DocsDir      string       `koanf:"docs_dir"`
	PersistDir   string       `koanf:"persist_dir"`
	Backend      string       `koanf:"backend"`
	ChunkSize    int          `koanf:"chunk_size"`
	ChunkOverlap int          `koanf:"chunk_overlap"`
	TopK         int          `koanf:"top_k"`
	Metric       string       `koanf:"metric"`
	Milvus       MilvusConfig `koanf:"milvus"`
	// RemoteURL makes retrieval go to another fasal server instead of the
	// local index.
	RemoteURL string `koanf:"remote_url"`
}

type MilvusConfig struct {
	Address    string `koanf:"address"`
	Collection string `koanf:"collection"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
}

// EmbedderConfig selects the embedding capability pinned to the index.
type EmbedderConfig struct {
	Provider   string        `koanf:"provider"`
	Model      string        `koanf:"model"`
	Dimension  int           `koanf:"dimension"`
	APIKey     string        `koanf:"api_key"`
	BaseURL    string        `koanf:"base_url"`
	CacheDir   string        `koanf:"cache_dir"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

type LLMConfig struct {
	Provider      string  `koanf:"provider"`
	Model         string  `koanf:"model"`
	Temperature   float32 `koanf:"temperature"`
	APIKey        string  `koanf:"api_key"`
	BaseURL       string  `koanf:"base_url"`
	MaxToolRounds int     `koanf:"max_tool_rounds"`
	MaxHistory    int     `koanf:"max_history"`
}

type WeatherConfig struct {
	APIKey        string        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxRetries    int           `koanf:"max_retries"`
	RatePerMinute int           `koanf:"rate_per_minute"`
}

type TelegramConfig struct {
	Token          string `koanf:"token"`
	AdminUserIDs   string `koanf:"admin_user_ids"`
	AllowedUserIDs string `koanf:"allowed_user_ids"`
}

type ServerConfig struct {
	Addr       string `koanf:"addr"`
	AdminToken string `koanf:"admin_token"`
}

const (
	BackendLocal  = "local"
	BackendMilvus = "milvus"

	MetricCosine = "cosine"
	MetricL2     = "l2"

	EmbedderHash      = "hash"
	EmbedderFastEmbed = "fastembed"
	EmbedderOpenAI    = "openai"
	EmbedderGemini    = "gemini"

	LLMGemini = "gemini"
	LLMOpenAI = "openai"

	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	DefaultWeatherURL    = "http://api.openweathermap.org/data/2.5/weather"
)

// embedderDefaults holds model and dimension per provider.
var embedderDefaults = map[string]struct {
	model string
	dim   int
}{
	EmbedderHash:      {"hash-fnv1a", 384},
	EmbedderFastEmbed: {"all-MiniLM-L6-v2", 384},
	EmbedderOpenAI:    {"text-embedding-3-small", 1536},
	EmbedderGemini:    {"text-embedding-004", 768},
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.RAG.DocsDir == "" {
		c.RAG.DocsDir = "documents"
	}
	if c.RAG.PersistDir == "" {
		c.RAG.PersistDir = "./fasal_index"
	}
	if c.RAG.Backend == "" {
		c.RAG.Backend = BackendLocal
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 1000
		if c.RAG.ChunkOverlap == 0 {
			c.RAG.ChunkOverlap = 100
		}
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 4
	}
	if c.RAG.Metric == "" {
		c.RAG.Metric = MetricCosine
	}
	if c.RAG.Milvus.Address == "" {
		c.RAG.Milvus.Address = "localhost:19530"
	}
	if c.RAG.Milvus.Collection == "" {
		c.RAG.Milvus.Collection = "fasal_knowledge"
	}

	if c.Embedder.Provider == "" {
		c.Embedder.Provider = EmbedderHash
	}
	if d, ok := embedderDefaults[c.Embedder.Provider]; ok {
		if c.Embedder.Model == "" {
			c.Embedder.Model = d.model
		}
		if c.Embedder.Dimension == 0 {
			c.Embedder.Dimension = d.dim
		}
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30 * time.Second
	}
	if c.Embedder.MaxRetries == 0 {
		c.Embedder.MaxRetries = 3
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = LLMGemini
	}
	if c.LLM.Model == "" {
		if c.LLM.Provider == LLMOpenAI {
			c.LLM.Model = "meta-llama/llama-3-70b-instruct"
		} else {
			c.LLM.Model = "gemini-1.5-flash"
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.Provider == LLMOpenAI && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultOpenRouterURL
	}
	if c.LLM.MaxToolRounds == 0 {
		c.LLM.MaxToolRounds = 5
	}
	if c.LLM.MaxHistory == 0 {
		c.LLM.MaxHistory = 40
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = DefaultWeatherURL
	}
	if c.Weather.Timeout == 0 {
		c.Weather.Timeout = 10 * time.Second
	}
	if c.Weather.MaxRetries == 0 {
		c.Weather.MaxRetries = 2
	}
	if c.Weather.RatePerMinute == 0 {
		c.Weather.RatePerMinute = 60
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize < 1 {
		return fmt.Errorf("%w: rag.chunk_size must be positive, got %d", core.ErrInvalidConfig, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: rag.chunk_overlap must be in [0, %d), got %d",
			core.ErrInvalidConfig, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("%w: rag.top_k must be at least 1, got %d", core.ErrInvalidConfig, c.RAG.TopK)
	}
	switch c.RAG.Backend {
	case BackendLocal, BackendMilvus:
	default:
		return fmt.Errorf("%w: unknown rag.backend %q", core.ErrInvalidConfig, c.RAG.Backend)
	}
	switch c.RAG.Metric {
	case MetricCosine, MetricL2:
	default:
		return fmt.Errorf("%w: unknown rag.metric %q", core.ErrInvalidConfig, c.RAG.Metric)
	}
	if _, ok := embedderDefaults[c.Embedder.Provider]; !ok {
		return fmt.Errorf("%w: unknown embedder.provider %q", core.ErrInvalidConfig, c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 1 {
		return fmt.Errorf("%w: embedder.dimension must be positive, got %d", core.ErrInvalidConfig, c.Embedder.Dimension)
	}
	switch c.LLM.Provider {
	case LLMGemini, LLMOpenAI:
	default:
		return fmt.Errorf("%w: unknown llm.provider %q", core.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.MaxToolRounds < 1 {
		return fmt.Errorf("%w: llm.max_tool_rounds must be at least 1", core.ErrInvalidConfig)
	}
	if err := checkCallBounds("embedder", c.Embedder.Timeout, c.Embedder.MaxRetries); err != nil {
		return err
	}
	return checkCallBounds("weather", c.Weather.Timeout, c.Weather.MaxRetries)
}

// checkCallBounds keeps a network client's deadline and retry budget finite.
func checkCallBounds(section string, timeout time.Duration, maxRetries int) error {
	if timeout < 0 {
		return fmt.Errorf("%w: %s.timeout must not be negative, got %s", core.ErrInvalidConfig, section, timeout)
	}
	if maxRetries < NoRetries {
		return fmt.Errorf("%w: %s.max_retries must be -1 (no retries) or more, got %d",
			core.ErrInvalidConfig, section, maxRetries)
	}
	return nil
}
