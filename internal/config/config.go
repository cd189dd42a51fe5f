// Package config loads process configuration from environment
// variables and an optional .env file (CLI flags are applied on top by
// cmd/cuaocd, not here), following the teacher's
// viper/godotenv wiring (cmd/config.go in the reference CLI pack) rather
// than a bespoke os.Getenv reader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CUA"

var validate = validator.New()

// Config holds process-wide defaults (spec.md §6 "Environment"). An
// EnvSnapshot scoped to a single adapter call can override the provider
// API keys per request; no other field is overridden that way. Config
// itself is read once at startup and never mutated afterward.
type Config struct {
	ModelName     string        `mapstructure:"model_name" validate:"required"`
	ContainerName string        `mapstructure:"container_name"`
	APIKey        string        `mapstructure:"api_key"`

	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port" validate:"min=1,max=65535"`

	PoolSize    int           `mapstructure:"pool_size" validate:"min=1"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	SaveTrajectoryDir string `mapstructure:"save_trajectory_dir"`

	ProviderKeys map[string]string `mapstructure:"-"`
}

// Load reads .env (if present), then CUA_-prefixed environment
// variables, applying defaults for anything unset. A missing .env file
// is not an error — it is optional, exactly as the teacher's InitConfig
// tolerates a missing project config file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("model_name", "anthropic/claude-3-5-sonnet-20241022")
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8080)
	v.SetDefault("pool_size", 5)
	v.SetDefault("idle_timeout", 300*time.Second)

	_ = v.BindEnv("model_name", "CUA_MODEL_NAME")
	_ = v.BindEnv("container_name", "CUA_CONTAINER_NAME")
	_ = v.BindEnv("api_key", "CUA_API_KEY")

	cfg := &Config{
		ModelName:     v.GetString("model_name"),
		ContainerName: v.GetString("container_name"),
		APIKey:        v.GetString("api_key"),
		HTTPHost:      v.GetString("http_host"),
		HTTPPort:      v.GetInt("http_port"),
		PoolSize:      v.GetInt("pool_size"),
		IdleTimeout:   v.GetDuration("idle_timeout"),
		ProviderKeys:  providerKeysFromEnv(),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// providerKeysFromEnv collects the per-provider API keys spec.md §6
// names (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...) without assuming a
// closed set of providers: any <PROVIDER>_API_KEY variable is picked
// up, matching the open-ended model-string provider grammar in
// internal/llm.
func providerKeysFromEnv() map[string]string {
	keys := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, val := parts[0], parts[1]
		if strings.HasSuffix(name, "_API_KEY") && name != "CUA_API_KEY" {
			provider := strings.ToLower(strings.TrimSuffix(name, "_API_KEY"))
			keys[provider] = val
		}
	}
	return keys
}

// EnvSnapshot is a per-request environment override scoped to a single
// adapter call (spec.md §6). It is threaded explicitly through the call
// stack rather than mutating process-global environment.
type EnvSnapshot struct {
	base      *Config
	overrides map[string]string
}

// NewEnvSnapshot layers overrides on top of base without mutating
// either.
func NewEnvSnapshot(base *Config, overrides map[string]string) EnvSnapshot {
	snap := EnvSnapshot{base: base, overrides: make(map[string]string, len(overrides))}
	for k, v := range overrides {
		snap.overrides[k] = v
	}
	return snap
}

// Lookup resolves key, preferring the request-scoped override, falling
// back to the process-wide provider keys, then to os.LookupEnv for
// anything config.Load didn't capture.
func (s EnvSnapshot) Lookup(key string) (string, bool) {
	if v, ok := s.overrides[key]; ok {
		return v, true
	}
	if s.base != nil {
		if strings.HasSuffix(key, "_API_KEY") {
			provider := strings.ToLower(strings.TrimSuffix(key, "_API_KEY"))
			if v, ok := s.base.ProviderKeys[provider]; ok {
				return v, true
			}
		}
	}
	return os.LookupEnv(key)
}
