package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	Corpus  CorpusConfig  `mapstructure:"corpus"`
	Index   IndexConfig   `mapstructure:"index"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Log     LogConfig     `mapstructure:"log"`
}

// LLMConfig configures the generative model provider.
type LLMConfig struct {
	Provider          string  `mapstructure:"provider"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
}

// EmbedConfig configures the embedding provider. When Provider is empty the
// generation provider also serves embeddings. The same embedding model must
// be used at index-build and query time; the index records its identity.
type EmbedConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// CorpusConfig locates the QA corpus file.
type CorpusConfig struct {
	Path string `mapstructure:"path"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	// Backend is "local" (on-disk, default) or "qdrant".
	Backend string `mapstructure:"backend"`
	// Path is the local index directory.
	Path string `mapstructure:"path"`
	// TopK is the retrieval depth per query.
	TopK int `mapstructure:"top_k"`

	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant backend.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	HistoryWindow int    `mapstructure:"history_window"`
}

// AuthConfig configures API token verification.
type AuthConfig struct {
	// Tokens is a comma-separated list of accepted API tokens. Usually
	// supplied via secrets (ASKDOC_API_TOKENS) rather than the config file.
	Tokens string `mapstructure:"tokens"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.Index.TopK < 0 {
		warnings = append(warnings, fmt.Sprintf("index top_k %d is negative", c.Index.TopK))
	}

	if c.Index.Backend == "qdrant" && c.Index.Qdrant.Collection == "" {
		warnings = append(warnings, "qdrant backend selected but no collection configured")
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ASKDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("corpus.path", "data/medical_data.json")
	v.SetDefault("index.backend", "local")
	v.SetDefault("index.path", "vector_store")
	v.SetDefault("index.top_k", 3)
	v.SetDefault("index.qdrant.host", "localhost")
	v.SetDefault("index.qdrant.port", 6334)
	v.SetDefault("index.qdrant.collection", "askdoc")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.history_window", 6)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
