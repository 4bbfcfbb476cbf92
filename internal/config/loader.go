package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: FASAL_RAG__CHUNK_SIZE -> rag.chunk_size.
const EnvPrefix = "FASAL_"

// Load reads configuration in order: .env, the YAML file at path (if any),
// FASAL_* environment overrides, well-known provider variables, defaults.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyWellKnownEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// applyWellKnownEnv fills credentials from the variable names the provider
// SDKs and deployment docs use, without overriding explicit settings.
func (c *Config) applyWellKnownEnv() {
	setIfEmpty(&c.Weather.APIKey, "OPENWEATHERMAP_API_KEY")
	setIfEmpty(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN", "TG_BOT_TOKEN")
	setIfEmpty(&c.Telegram.AdminUserIDs, "ADMIN_USER_IDS")
	setIfEmpty(&c.Telegram.AllowedUserIDs, "ALLOWED_USER_IDS")

	switch c.LLM.Provider {
	case LLMOpenAI:
		setIfEmpty(&c.LLM.APIKey, "OPENROUTER_API_KEY", "OPENAI_API_KEY")
	case LLMGemini, "":
		setIfEmpty(&c.LLM.APIKey, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	}

	switch c.Embedder.Provider {
	case EmbedderOpenAI:
		setIfEmpty(&c.Embedder.APIKey, "OPENAI_API_KEY")
	case EmbedderGemini:
		setIfEmpty(&c.Embedder.APIKey, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	}
}

func setIfEmpty(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}
