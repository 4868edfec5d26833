// Package config provides configuration for the import agent.
//
// Configuration is loaded from:
// 1. a config.yaml file (optional, path overridable via --config)
// 2. environment variables (TRACKER_API_TOKEN, BACKEND_MOCK, AI_API_KEY, ...)
// 3. built-in defaults
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MarkerPrefix is the versioned envelope that opens every approval-request
// comment. Only v2 markers are recognized; v1 markers are ignored.
const MarkerPrefix = "[BOT:user-upload:approval-request:v2]"

// DefaultJQL selects open user-upload candidates when no query is configured.
const DefaultJQL = `status = "Open" AND (summary ~ "user upload" OR summary ~ "user import" OR labels = user-upload) ORDER BY created ASC`

// Config is the root configuration structure. It is built once at startup
// and threaded read-only through every component.
type Config struct {
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Backend  BackendConfig  `mapstructure:"backend"`
	AI       AIConfig       `mapstructure:"ai"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Team     TeamConfig     `mapstructure:"team"`

	JQL                 string `mapstructure:"jql"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	AttachmentMaxBytes  int64  `mapstructure:"attachment_max_bytes"`
	MetricsAddr         string `mapstructure:"metrics_addr"`
	LogLevel            string `mapstructure:"log_level"`
	LogFormat           string `mapstructure:"log_format"`
}

// TrackerConfig contains issue-tracker credentials and bot identity.
type TrackerConfig struct {
	Domain   string `mapstructure:"domain"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`

	// Bot-authored comments are identified by account id or display name;
	// either match suffices. The marker prefix is the definitive signal.
	BotAccountID   string `mapstructure:"bot_account_id"`
	BotAccountName string `mapstructure:"bot_account_name"`
}

// BackendConfig contains identity-backend endpoints.
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	BaseAltURL string `mapstructure:"base_alt_url"`
	Mock       bool   `mapstructure:"mock"`
}

// AIConfig contains LLM settings.
type AIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// VaultConfig contains secret-vault CLI integration settings.
type VaultConfig struct {
	Binary        string `mapstructure:"binary"`
	VaultName     string `mapstructure:"vault_name"`
	EmailTemplate string `mapstructure:"email_template"`
	PreloadAll    bool   `mapstructure:"preload_all"`
}

// ApprovalConfig contains approval-contract settings.
type ApprovalConfig struct {
	MarkerPrefix string `mapstructure:"marker_prefix"`
}

// TeamConfig contains team-creation defaults.
type TeamConfig struct {
	DefaultEscalationMinutes int `mapstructure:"default_escalation_minutes"`
}

// PollInterval returns the watch-mode poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ServiceAccountEmail renders the tenant's service-account email from the
// configured template, e.g. customersolutions+acme@example.io.
func (c *Config) ServiceAccountEmail(tenant string) string {
	return fmt.Sprintf(c.Vault.EmailTemplate, tenant)
}

// ServiceDomain returns the domain part of the service-account email
// template. Used by the tenant resolver's last-resort pattern.
func (c *Config) ServiceDomain() string {
	if i := strings.LastIndex(c.Vault.EmailTemplate, "@"); i >= 0 {
		return c.Vault.EmailTemplate[i+1:]
	}
	return ""
}

// Load reads configuration from the given file (optional) and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/importbot")
	}

	// Maps nested config: tracker.api_token -> TRACKER_API_TOKEN.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if path != "" {
				return nil, fmt.Errorf("read config: %w", err)
			}
			// Config file is optional when no explicit path was given.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for critical configuration errors. Failing here halts the
// run before any ticket is touched (ConfigError semantics).
func (c *Config) Validate() error {
	if c.Tracker.Domain == "" {
		return fmt.Errorf("config: tracker.domain must not be empty")
	}
	if c.Tracker.Email == "" || c.Tracker.APIToken == "" {
		return fmt.Errorf("config: tracker.email and tracker.api_token are required")
	}
	if !c.Backend.Mock && c.Backend.BaseURL == "" {
		return fmt.Errorf("config: backend.base_url is required unless backend.mock is set")
	}
	if strings.Count(c.Vault.EmailTemplate, "%s") != 1 {
		return fmt.Errorf("config: vault.email_template must contain exactly one %%s placeholder")
	}
	if c.Approval.MarkerPrefix != MarkerPrefix {
		return fmt.Errorf("config: approval.marker_prefix is fixed to %q", MarkerPrefix)
	}
	if c.AttachmentMaxBytes <= 0 {
		return fmt.Errorf("config: attachment_max_bytes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jql", DefaultJQL)
	v.SetDefault("poll_interval_seconds", 300)
	v.SetDefault("attachment_max_bytes", 31457280) // 30 MiB
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("backend.mock", false)

	v.SetDefault("ai.model", "gpt-4o-mini")

	v.SetDefault("vault.binary", "op")
	v.SetDefault("vault.vault_name", "Customer Solutions")
	v.SetDefault("vault.email_template", "customersolutions+%s@example.io")
	v.SetDefault("vault.preload_all", false)

	v.SetDefault("approval.marker_prefix", MarkerPrefix)
	v.SetDefault("team.default_escalation_minutes", 180)
}
