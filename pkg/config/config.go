// Package config loads the deskmesh process configuration: listen addresses
// and endpoint URLs for each agent and the tool collaborator, each
// overridable independently via YAML file or DESKMESH_* environment
// variables, with fixed defaults when no override is present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// DESKMESH_ROUTER_URL overrides router.url.
const EnvPrefix = "DESKMESH_"

// AgentConfig holds the addressing for one agent process.
type AgentConfig struct {
	// Listen is the host:port the agent binds when served locally.
	Listen string `koanf:"listen"`

	// URL is the base URL remote callers use to reach this agent.
	URL string `koanf:"url"`
}

// ToolServerConfig holds the data collaborator's addressing and storage.
type ToolServerConfig struct {
	Listen string `koanf:"listen"`
	URL    string `koanf:"url"`
	DBPath string `koanf:"db_path"`
}

// RouterConfig holds orchestration tuning for the router agent.
type RouterConfig struct {
	AgentConfig `koanf:",squash"`

	// CallTimeout bounds each individual specialist round-trip.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// Config is the full process configuration.
type Config struct {
	LogLevel string `koanf:"log_level"`

	Router     RouterConfig     `koanf:"router"`
	Data       AgentConfig      `koanf:"data"`
	Support    AgentConfig      `koanf:"support"`
	Billing    AgentConfig      `koanf:"billing"`
	ToolServer ToolServerConfig `koanf:"tool_server"`
}

// defaults mirrors the fixed local-development port layout.
func defaults() map[string]any {
	return map[string]any{
		"log_level":           "info",
		"router.listen":       "0.0.0.0:8010",
		"router.url":          "http://localhost:8010",
		"router.call_timeout": "30s",
		"data.listen":         "0.0.0.0:8011",
		"data.url":            "http://localhost:8011",
		"support.listen":      "0.0.0.0:8012",
		"support.url":         "http://localhost:8012",
		"billing.listen":      "0.0.0.0:8013",
		"billing.url":         "http://localhost:8013",
		"tool_server.listen":  "0.0.0.0:8000",
		"tool_server.url":     "http://localhost:8000",
		"tool_server.db_path": "./deskmesh.sqlite",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// DESKMESH_* environment overrides, in increasing precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// DESKMESH_TOOL_SERVER_URL -> tool_server.url, DESKMESH_ROUTER_URL ->
	// router.url, etc. Only the final segment uses a dot so multi-word
	// sections keep their underscore.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Router.CallTimeout <= 0 {
		cfg.Router.CallTimeout = 30 * time.Second
	}

	return &cfg, nil
}

// sections known to the key mapper; everything after a matching section
// prefix becomes the nested key.
var envSections = []string{"router", "data", "support", "billing", "tool_server"}

func envKeyMapper(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}
