// Package config provides configuration loading for groundsqld.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then GROUNDSQL_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/logging"
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/store"
)

// Config holds the complete groundsqld configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Tenancy    TenancyConfig    `koanf:"tenancy"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects and configures the item store backend.
type StoreConfig struct {
	Provider string        `koanf:"provider"` // memory, chromem or qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds settings for the embedded chromem backend.
type ChromemConfig struct {
	Path       string `koanf:"path"` // empty means in-memory
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds settings for the remote Qdrant backend.
type QdrantConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Collection   string        `koanf:"collection"`
	UseTLS       bool          `koanf:"use_tls"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // tei or deterministic
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	Dimension int    `koanf:"dimension"`
}

// TenancyConfig holds the multi-tenancy policy settings.
type TenancyConfig struct {
	Enabled         bool     `koanf:"enabled"`
	DefaultTenant   string   `koanf:"default_tenant"`
	AllowedTenants  []string `koanf:"allowed_tenants"`
	SharedKnowledge bool     `koanf:"shared_knowledge"`
	StrictIsolation bool     `koanf:"strict_isolation"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// StorageConfig maps the loaded settings onto the store factory config.
func (c *Config) StorageConfig() store.Config {
	return store.Config{
		Provider: c.Store.Provider,
		Chromem: store.ChromemConfig{
			Path:       c.Store.Chromem.Path,
			Compress:   c.Store.Chromem.Compress,
			Collection: c.Store.Chromem.Collection,
		},
		Qdrant: store.QdrantConfig{
			Host:         c.Store.Qdrant.Host,
			Port:         c.Store.Qdrant.Port,
			Collection:   c.Store.Qdrant.Collection,
			VectorSize:   uint64(c.Embeddings.Dimension),
			UseTLS:       c.Store.Qdrant.UseTLS,
			MaxRetries:   c.Store.Qdrant.MaxRetries,
			RetryBackoff: c.Store.Qdrant.RetryBackoff,
		},
	}
}

// EmbeddingsProviderConfig maps the loaded settings onto the embeddings
// factory config.
func (c *Config) EmbeddingsProviderConfig() embeddings.Config {
	return embeddings.Config{
		Provider:  c.Embeddings.Provider,
		BaseURL:   c.Embeddings.BaseURL,
		Model:     c.Embeddings.Model,
		Dimension: c.Embeddings.Dimension,
	}
}

// Policy maps the tenancy settings onto the retrieval policy.
func (c *Config) Policy() policy.Policy {
	return policy.Policy{
		MultiTenantEnabled:     c.Tenancy.Enabled,
		DefaultTenantID:        c.Tenancy.DefaultTenant,
		AllowedTenants:         c.Tenancy.AllowedTenants,
		SharedKnowledgeEnabled: c.Tenancy.SharedKnowledge,
		StrictIsolation:        c.Tenancy.StrictIsolation,
	}
}

// LoggingConfig maps the log settings onto the logger config.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
	}
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	switch c.Store.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("store.provider: unknown provider %q", c.Store.Provider)
	}
	switch c.Embeddings.Provider {
	case "tei", "deterministic":
	default:
		return fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url is required for the tei provider")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive")
	}
	if c.Store.Provider == "qdrant" && c.Store.Qdrant.Collection == "" {
		return fmt.Errorf("store.qdrant.collection is required for the qdrant provider")
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("tenancy: %w", err)
	}
	return nil
}
