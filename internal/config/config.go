// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/spetr/mcp-chunkgraph/pkg/provider"
)

// DirName is the per-project state directory.
const DirName = ".mcp-chunkgraph"

// Config represents the complete configuration.
type Config struct {
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" yaml:"vectorstore"`
	Index       IndexConfig       `mapstructure:"index" yaml:"index"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	MCP         MCPConfig         `mapstructure:"mcp" yaml:"mcp"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string  `mapstructure:"provider" yaml:"provider"`                       // ollama, openai, hash, plugin
	Model             string  `mapstructure:"model" yaml:"model"`                             // model name
	Endpoint          string  `mapstructure:"endpoint" yaml:"endpoint"`                       // API endpoint
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`                         // API key, OPENAI_API_KEY if empty
	BatchSize         int     `mapstructure:"batch_size" yaml:"batch_size"`                   // documents per batch
	Dimensions        int     `mapstructure:"dimensions" yaml:"dimensions"`                   // 0 = provider default
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Plugin            string  `mapstructure:"plugin" yaml:"plugin"`                           // plugin binary for provider "plugin"
}

// ChunkingConfig contains chunk boundary configuration.
type ChunkingConfig struct {
	MaxLines      int     `mapstructure:"max_lines" yaml:"max_lines"`           // upper chunk size in lines
	MinProportion float64 `mapstructure:"min_proportion" yaml:"min_proportion"` // fraction of max_lines treated as too small
	Overlap       int     `mapstructure:"overlap" yaml:"overlap"`               // extra lines around returned chunk text
}

// RetrievalConfig contains search and expansion limits.
type RetrievalConfig struct {
	MaxResults     int `mapstructure:"max_results" yaml:"max_results"`
	MaxChunks      int `mapstructure:"max_chunks" yaml:"max_chunks"`
	MaxReferenced  int `mapstructure:"max_referenced" yaml:"max_referenced"`
	MaxReferencing int `mapstructure:"max_referencing" yaml:"max_referencing"`
}

// VectorStoreConfig contains vector store configuration.
type VectorStoreConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlitevec, memory
}

// IndexConfig contains indexing configuration.
type IndexConfig struct {
	Ignore        []string      `mapstructure:"ignore" yaml:"ignore"`                 // glob patterns skipped by the walk
	MaxFileSize   string        `mapstructure:"max_file_size" yaml:"max_file_size"`   // e.g. "1MB"
	Embed         bool          `mapstructure:"embed" yaml:"embed"`                   // embed chunks after indexing
	EmbedWorkers  int           `mapstructure:"embed_workers" yaml:"embed_workers"`   // concurrent embedding batches
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"` // quiet period before re-indexing
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// MCPConfig contains MCP server configuration.
type MCPConfig struct {
	Name string `mapstructure:"name" yaml:"name"` // server name announced to clients
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Chunking: ChunkingConfig{
			MaxLines:      100,
			MinProportion: 0.2,
			Overlap:       0,
		},
		Retrieval: RetrievalConfig{
			MaxResults:     10,
			MaxChunks:      3,
			MaxReferenced:  1,
			MaxReferencing: 1,
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlitevec",
		},
		Index: IndexConfig{
			Ignore: []string{
				".git", DirName, "**/node_modules/**", "**/vendor/**",
				"**/dist/**", "**/build/**", "**/target/**", "**/__pycache__/**",
				"**/*.min.js", "**/*.min.css", "**/*.lock", "**/go.sum",
				"**/package-lock.json", "**/pnpm-lock.yaml",
			},
			MaxFileSize:   "1MB",
			Embed:         true,
			EmbedWorkers:  4,
			WatchDebounce: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			Name: "mcp-chunkgraph",
		},
	}
}

// ConfigDir returns the path to the .mcp-chunkgraph directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// IndexDBPath returns the path to index.db.
func IndexDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "index.db")
}

// PluginsDir returns the directory searched for plugin binaries.
func PluginsDir(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "plugins")
}

// Load loads configuration from file, falling back to defaults.
// A .env file in projectRoot is loaded first without overriding the
// environment. Warnings describe defaults that were applied.
func Load(projectRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	envPath := filepath.Join(projectRoot, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to load %s: %v", envPath, err))
		}
	}

	configPath := ConfigPath(projectRoot)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		cfg.applyEnv()
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Ollama defaults do not carry over to another provider.
	if cfg.Embedding.Provider != "ollama" {
		if !v.IsSet("embedding.model") {
			cfg.Embedding.Model = ""
		}
		if !v.IsSet("embedding.endpoint") {
			cfg.Embedding.Endpoint = ""
		}
		if !v.IsSet("embedding.batch_size") {
			cfg.Embedding.BatchSize = 0
		}
	}

	warnings = append(warnings, cfg.applyDefaults()...)
	cfg.applyEnv()
	return cfg, warnings, nil
}

// applyDefaults fills zero values an explicit config may have left behind.
func (c *Config) applyDefaults() []string {
	var warnings []string
	def := DefaultConfig()

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
		warnings = append(warnings, "Using default embedding provider: "+def.Embedding.Provider)
	}
	if c.Embedding.Provider == "ollama" {
		if c.Embedding.Model == "" {
			c.Embedding.Model = def.Embedding.Model
		}
		if c.Embedding.Endpoint == "" {
			c.Embedding.Endpoint = def.Embedding.Endpoint
		}
		if c.Embedding.BatchSize == 0 {
			c.Embedding.BatchSize = def.Embedding.BatchSize
		}
	}

	if c.Chunking.MaxLines == 0 {
		c.Chunking.MaxLines = def.Chunking.MaxLines
	}
	if c.Chunking.MinProportion == 0 {
		c.Chunking.MinProportion = def.Chunking.MinProportion
	}

	if c.Retrieval.MaxResults == 0 {
		c.Retrieval.MaxResults = def.Retrieval.MaxResults
	}
	if c.Retrieval.MaxChunks == 0 {
		c.Retrieval.MaxChunks = def.Retrieval.MaxChunks
	}

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = def.VectorStore.Provider
	}
	if c.Index.MaxFileSize == "" {
		c.Index.MaxFileSize = def.Index.MaxFileSize
	}
	if c.Index.EmbedWorkers == 0 {
		c.Index.EmbedWorkers = def.Index.EmbedWorkers
	}
	if c.Index.WatchDebounce == 0 {
		c.Index.WatchDebounce = def.Index.WatchDebounce
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.MCP.Name == "" {
		c.MCP.Name = def.MCP.Name
	}
	return warnings
}

func (c *Config) applyEnv() {
	if c.Embedding.APIKey == "" && c.Embedding.Provider == "openai" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	// API keys stay in the environment
	embedding := cfg.Embedding
	embedding.APIKey = ""

	v.Set("embedding", embedding)
	v.Set("chunking", cfg.Chunking)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("vectorstore", cfg.VectorStore)
	v.Set("index", cfg.Index)
	v.Set("logging", cfg.Logging)
	v.Set("mcp", cfg.MCP)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	validEmbeddingProviders := map[string]bool{
		"ollama": true, "openai": true, "hash": true, "plugin": true,
	}
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s (valid: ollama, openai, hash, plugin)", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Provider == "plugin" && cfg.Embedding.Plugin == "" {
		errs = append(errs, errors.New("embedding.plugin is required when embedding.provider is plugin"))
	}
	if cfg.Embedding.BatchSize < 0 || cfg.Embedding.Dimensions < 0 || cfg.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embedding batch_size, dimensions and requests_per_second must not be negative"))
	}

	if cfg.Chunking.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("chunking.max_lines must be at least 1, got %d", cfg.Chunking.MaxLines))
	}
	if cfg.Chunking.MinProportion < 0 || cfg.Chunking.MinProportion >= 1 {
		errs = append(errs, fmt.Errorf("chunking.min_proportion must be in [0, 1), got %g", cfg.Chunking.MinProportion))
	}
	if cfg.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Errorf("chunking.overlap must not be negative, got %d", cfg.Chunking.Overlap))
	}

	r := cfg.Retrieval
	if r.MaxResults < 1 || r.MaxChunks < 1 {
		errs = append(errs, errors.New("retrieval.max_results and retrieval.max_chunks must be at least 1"))
	}
	if r.MaxReferenced < 0 || r.MaxReferencing < 0 {
		errs = append(errs, errors.New("retrieval.max_referenced and retrieval.max_referencing must not be negative"))
	}

	validStores := map[string]bool{"sqlitevec": true, "memory": true}
	if !validStores[cfg.VectorStore.Provider] {
		errs = append(errs, fmt.Errorf("invalid vector store: %s (valid: sqlitevec, memory)", cfg.VectorStore.Provider))
	}

	if _, err := ParseSize(cfg.Index.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("index.max_file_size: %w", err))
	}
	if cfg.Index.EmbedWorkers < 0 {
		errs = append(errs, fmt.Errorf("index.embed_workers must not be negative, got %d", cfg.Index.EmbedWorkers))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true, "": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s (valid: text, json)", cfg.Logging.Format))
	}

	return errs
}

// ParseSize parses a size string like "512KB" or "1MB" to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return value * multiplier, nil
}

// EmbeddingProviderConfig converts the embedding section for the provider registry.
func (c *Config) EmbeddingProviderConfig(projectRoot string) provider.EmbeddingConfig {
	return provider.EmbeddingConfig{
		Provider:          c.Embedding.Provider,
		Model:             c.Embedding.Model,
		Endpoint:          c.Embedding.Endpoint,
		APIKey:            c.Embedding.APIKey,
		BatchSize:         c.Embedding.BatchSize,
		Dimensions:        c.Embedding.Dimensions,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		PluginName:        c.Embedding.Plugin,
		PluginDir:         PluginsDir(projectRoot),
	}
}

// Hash returns a hash of configuration that affects indexing.
// Used for detecting when reindexing is needed.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%d:%d:%g:%s:%s",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Embedding.Dimensions,
		c.Chunking.MaxLines,
		c.Chunking.MinProportion,
		c.Index.MaxFileSize,
		strings.Join(c.Index.Ignore, ","),
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config.
func (c *Config) Copy() *Config {
	cp := *c
	if c.Index.Ignore != nil {
		cp.Index.Ignore = append([]string(nil), c.Index.Ignore...)
	}
	return &cp
}
