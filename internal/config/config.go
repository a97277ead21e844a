// Package config loads semanticd configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/quillnote/semanticd/internal/chunker"
	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/index"
	"github.com/quillnote/semanticd/internal/logging"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

// Config is the complete semanticd configuration.
type Config struct {
	Server    ServerConfig                `koanf:"server"`
	Logging   logging.Config              `koanf:"logging"`
	Chunking  chunker.Config              `koanf:"chunking"`
	Embedding embeddings.Config           `koanf:"embedding"`
	Store     vectorstore.FactoryConfig   `koanf:"store"`
	Cache     embeddings.QueryCacheConfig `koanf:"cache"`
	Index     index.Config                `koanf:"index"`
	Search    SearchConfig                `koanf:"search"`
	Usage     UsageConfig                 `koanf:"usage"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8743"
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitRPS throttles requests per second per instance. Zero disables
	// throttling.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
}

// SearchConfig holds search defaults applied when a request omits them.
type SearchConfig struct {
	// DefaultK is the result count when a request gives none. Default: 10
	DefaultK int `koanf:"default_k"`

	// DefaultThreshold is the minimum similarity when a request gives none.
	DefaultThreshold float64 `koanf:"default_threshold"`
}

// UsageConfig selects the usage recorder backend.
type UsageConfig struct {
	// Backend is "log", "sql", or "none". Default: "log"
	Backend string `koanf:"backend"`

	// DSN is the database connection string for the sql backend.
	DSN string `koanf:"dsn"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8743"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	c.Logging.ApplyDefaults()
	c.Chunking.ApplyDefaults()
	c.Embedding.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Cache.ApplyDefaults()
	c.Index.ApplyDefaults()
	if c.Search.DefaultK == 0 {
		c.Search.DefaultK = 10
	}
	if c.Usage.Backend == "" {
		c.Usage.Backend = "log"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if c.Search.DefaultK < 0 {
		return fmt.Errorf("search: default_k must not be negative")
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search: default_threshold must be within [0, 1]")
	}
	switch c.Usage.Backend {
	case "log", "none":
	case "sql":
		if c.Usage.DSN == "" {
			return fmt.Errorf("usage: sql backend requires a dsn")
		}
	default:
		return fmt.Errorf("usage: unknown backend %q", c.Usage.Backend)
	}
	return nil
}
