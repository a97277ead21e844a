package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces semanticd environment variables.
const envPrefix = "SEMANTICD_"

// Load reads configuration from the YAML file at configPath, then overrides
// with environment variables, then fills remaining gaps with defaults.
//
// Precedence (highest to lowest):
//  1. Environment variables (SEMANTICD_SERVER_ADDR, SEMANTICD_EMBEDDING_MODEL, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty configPath skips the file and uses environment plus defaults only.
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	SEMANTICD_SERVER_ADDR          -> server.addr
//	SEMANTICD_EMBEDDING_BASE_URL   -> embedding.base_url
//	SEMANTICD_STORE_PROVIDER       -> store.provider
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// SEMANTICD_SERVER_ADDR -> server.addr: the first underscore
		// separates the section, later ones stay in the field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
