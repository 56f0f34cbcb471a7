package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/agent2allow/gateway/internal/apiauth"
	"github.com/agent2allow/gateway/internal/audit"
	"github.com/agent2allow/gateway/internal/rbac"
)

// Config is the root configuration, constructed once at startup and
// passed into each component's constructor.
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Policy   PolicyConfig     `mapstructure:"policy"`
	GitHub   GitHubConfig     `mapstructure:"github"`
	Audit    audit.SinkConfig `mapstructure:"audit_sink"`
	RBAC     rbac.Config      `mapstructure:"approval_rbac"`
	APIAuth  apiauth.Config   `mapstructure:"approval_api_auth"`
	Log      LogConfig        `mapstructure:"log"`
}

// ServerConfig holds the gateway HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds the sqlite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PolicyConfig holds the policy document location.
type PolicyConfig struct {
	Path string `mapstructure:"path"`
}

// GitHubConfig holds upstream connector settings.
type GitHubConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	RetryAttempts  int    `mapstructure:"retry_attempts"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LogConfig holds application logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "data/agent2allow.db",
		},
		Policy: PolicyConfig{
			Path: "config/default-policy.yml",
		},
		GitHub: GitHubConfig{
			BaseURL:        "http://127.0.0.1:8081",
			RetryAttempts:  3,
			RetryBackoffMS: 200,
			TimeoutSeconds: 10,
		},
		Audit: audit.SinkConfig{
			Type:           "none",
			SyslogNetwork:  "udp",
			SyslogFacility: "local0",
			SyslogTag:      "a2a-audit",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads config from an optional JSON file with A2A_* env
// overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("A2A")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Policy.Path) == "" {
		return fmt.Errorf("policy.path is required")
	}
	if strings.TrimSpace(c.GitHub.BaseURL) == "" {
		return fmt.Errorf("github.base_url is required")
	}
	if c.GitHub.RetryAttempts < 1 {
		return fmt.Errorf("github.retry_attempts must be at least 1, got %d", c.GitHub.RetryAttempts)
	}
	if c.GitHub.RetryBackoffMS < 0 {
		return fmt.Errorf("github.retry_backoff_ms must not be negative")
	}
	return nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}
