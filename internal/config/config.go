package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// ErrConfig marks a missing or invalid invocation configuration. It is
// raised before any network I/O happens.
var ErrConfig = errors.New("invalid configuration")

const DefaultStatePath = "ps_client_state.json"

// AppConfig is the immutable per-invocation configuration. Values come
// from an optional YAML file, then the environment on top, then flags on
// top of that (applied by the CLI).
type AppConfig struct {
	WebsocketURI string `yaml:"websocket_uri"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	LoginURL     string `yaml:"login_url"`

	StatePath     string `yaml:"state_path"`
	StateRedisURL string `yaml:"state_redis_url"`
	StateRedisKey string `yaml:"state_redis_key"`

	DatabaseURL string `yaml:"database_url"`
}

// Load builds the configuration from SHOWDOWN_CONFIG (if set) and the
// environment. Required fields are not checked here: identity and address
// may still be filled in from persisted state or flags before Validate.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		StatePath:     DefaultStatePath,
		StateRedisKey: "showdown:session",
	}

	if path := strings.TrimSpace(os.Getenv("SHOWDOWN_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file: %v", ErrConfig, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %v", ErrConfig, err)
		}
	}

	applyEnv(&cfg.WebsocketURI, "SHOWDOWN_WEBSOCKET_URI")
	applyEnv(&cfg.Username, "SHOWDOWN_USERNAME")
	applyEnv(&cfg.Password, "SHOWDOWN_PASSWORD")
	applyEnv(&cfg.LoginURL, "SHOWDOWN_LOGIN_URL")
	applyEnv(&cfg.StatePath, "SHOWDOWN_STATE_PATH")
	applyEnv(&cfg.StateRedisURL, "STATE_REDIS_URL")
	applyEnv(&cfg.StateRedisKey, "STATE_REDIS_KEY")
	applyEnv(&cfg.DatabaseURL, "DATABASE_URL")

	return cfg, nil
}

// ResolveFromState backfills identity and address from a persisted state
// blob, mirroring how previous invocations stored them.
func (c *AppConfig) ResolveFromState(state map[string]any) {
	if c.Username == "" {
		c.Username = stateString(state, "ps_username")
	}
	if c.Password == "" {
		c.Password = stateString(state, "ps_password")
	}
	if c.WebsocketURI == "" {
		c.WebsocketURI = stateString(state, "websocket_uri")
	}
}

// Validate checks the fields every operation needs before touching the
// network.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("%w: username is required (flag, env or state)", ErrConfig)
	}
	if strings.TrimSpace(c.WebsocketURI) == "" {
		return fmt.Errorf("%w: websocket uri is required (flag, env or state)", ErrConfig)
	}
	return nil
}

func applyEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func stateString(state map[string]any, key string) string {
	if state == nil {
		return ""
	}
	if v, ok := state[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
