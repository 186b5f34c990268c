package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix namespaces groundsqld environment variables.
const envPrefix = "GROUNDSQL_"

// defaultsYAML is the built-in base layer. Every key a deployment may
// override appears here with its default, so the env transformer always has
// a matching path.
const defaultsYAML = `
server:
  host: localhost
  port: 8080
  shutdown_timeout: 10s
store:
  provider: memory
  chromem:
    path: ""
    compress: false
    collection: groundsql_training
  qdrant:
    host: localhost
    port: 6334
    collection: groundsql_training
    use_tls: false
    max_retries: 3
    retry_backoff: 100ms
embeddings:
  provider: deterministic
  base_url: ""
  model: ""
  dimension: 64
tenancy:
  enabled: false
  default_tenant: ""
  allowed_tenants: []
  shared_knowledge: true
  strict_isolation: false
log:
  level: info
  format: json
`

// Load builds the configuration from built-in defaults, an optional YAML
// file, and GROUNDSQL_* environment variables, in that order of increasing
// precedence.
//
// Environment variables map section-first:
//
//	GROUNDSQL_STORE_PROVIDER       -> store.provider
//	GROUNDSQL_EMBEDDINGS_BASE_URL  -> embeddings.base_url
//	GROUNDSQL_TENANCY_ENABLED      -> tenancy.enabled
//
// An empty configPath skips the file layer.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// transformEnv maps GROUNDSQL_SECTION_FIELD_NAME to section.field_name.
// The first underscore after the prefix separates the section; remaining
// underscores stay in the field name.
func transformEnv(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile reads the YAML file with a size cap, using the opened
// descriptor for the stat to avoid a check-then-read race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
