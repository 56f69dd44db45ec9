// Package config provides YAML and environment based configuration loading for Minno.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment modes.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config is the top-level Minno configuration, loaded from minno.yaml and
// the process environment. Environment variables win over the file.
type Config struct {
	Env                   string          `yaml:"env"`
	Service               string          `yaml:"service"`
	Port                  int             `yaml:"port"`
	DatabaseURL           string          `yaml:"database_url"`
	RedisURL              string          `yaml:"redis_url"`
	APIKey                string          `yaml:"api_key"`
	TokenEncryptionKey    string          `yaml:"token_encryption_key"`
	InsecureSkipTLSVerify bool            `yaml:"insecure_skip_tls_verify"`
	Slack                 SlackConfig     `yaml:"slack"`
	Notion                NotionConfig    `yaml:"notion"`
	Ingest                IngestConfig    `yaml:"ingest"`
	Retention             RetentionConfig `yaml:"retention"`
}

// SlackConfig holds Slack app credentials.
type SlackConfig struct {
	SigningSecret string   `yaml:"signing_secret"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
}

// NotionConfig holds Notion public integration credentials.
type NotionConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// IngestConfig sizes the webhook delivery queue.
type IngestConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	DedupTTL  time.Duration `yaml:"dedup_ttl"`
}

// RetentionConfig controls session archival and purge.
type RetentionConfig struct {
	Schedule           string        `yaml:"schedule"`
	ArchiveIdleAfter   time.Duration `yaml:"archive_idle_after"`
	PurgeArchivedAfter time.Duration `yaml:"purge_archived_after"`
	PurgeEmptyAfter    time.Duration `yaml:"purge_empty_after"`
}

// DefaultSlackScopes are requested when slack.scopes is empty.
var DefaultSlackScopes = []string{
	"app_mentions:read",
	"channels:history",
	"chat:write",
	"files:write",
	"groups:history",
	"reactions:write",
	"users:read",
}

// Error reports every configuration problem found during validation.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// Load reads an optional YAML config file from path, applies environment
// overrides and returns a validated Config. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return ParseWithEnv(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return ParseWithEnv(data, func(string) (string, bool) { return "", false })
}

// ParseWithEnv unmarshals YAML bytes, overlays values found through lookup
// and validates the result.
func ParseWithEnv(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.Env, "MINNO_ENV")
	str(&c.DatabaseURL, "DATABASE_URL")
	str(&c.RedisURL, "REDIS_URL")
	str(&c.APIKey, "MINNO_API_KEY")
	str(&c.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")
	str(&c.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	str(&c.Slack.ClientID, "SLACK_CLIENT_ID")
	str(&c.Slack.ClientSecret, "SLACK_CLIENT_SECRET")
	str(&c.Slack.RedirectURL, "SLACK_REDIRECT_URI")
	str(&c.Notion.ClientID, "NOTION_CLIENT_ID")
	str(&c.Notion.ClientSecret, "NOTION_CLIENT_SECRET")
	str(&c.Notion.RedirectURL, "NOTION_REDIRECT_URI")

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &Error{Problems: []string{fmt.Sprintf("PORT %q is not a number", v)}}
		}
		c.Port = port
	}
	if v, ok := lookup("MINNO_INSECURE_SKIP_TLS_VERIFY"); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			c.InsecureSkipTLSVerify = true
		case "0", "false", "no", "off":
			c.InsecureSkipTLSVerify = false
		default:
			return &Error{Problems: []string{fmt.Sprintf("MINNO_INSECURE_SKIP_TLS_VERIFY %q is not a boolean", v)}}
		}
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if c.Service == "" {
		c.Service = "minno"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.DatabaseURL == "" && c.Env != EnvProduction {
		c.DatabaseURL = "sqlite://minno.db"
	}
	if len(c.Slack.Scopes) == 0 {
		c.Slack.Scopes = append([]string(nil), DefaultSlackScopes...)
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.QueueSize <= 0 {
		c.Ingest.QueueSize = 256
	}
	if c.Ingest.DedupTTL <= 0 {
		c.Ingest.DedupTTL = 10 * time.Minute
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "0 3 * * *"
	}
	if c.Retention.ArchiveIdleAfter == 0 {
		c.Retention.ArchiveIdleAfter = 30 * 24 * time.Hour
	}
	if c.Retention.PurgeArchivedAfter == 0 {
		c.Retention.PurgeArchivedAfter = 90 * 24 * time.Hour
	}
	if c.Retention.PurgeEmptyAfter == 0 {
		c.Retention.PurgeEmptyAfter = 24 * time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("env %q must be one of development, test, production", c.Env))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "database_url is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if c.InsecureSkipTLSVerify && c.Env == EnvProduction {
		errs = append(errs, "insecure_skip_tls_verify is not allowed in production")
	}
	if (c.Slack.ClientID == "") != (c.Slack.ClientSecret == "") {
		errs = append(errs, "slack.client_id and slack.client_secret must be set together")
	}
	if (c.Notion.ClientID == "") != (c.Notion.ClientSecret == "") {
		errs = append(errs, "notion.client_id and notion.client_secret must be set together")
	}
	if c.Retention.ArchiveIdleAfter < 0 || c.Retention.PurgeArchivedAfter < 0 || c.Retention.PurgeEmptyAfter < 0 {
		errs = append(errs, "retention durations must not be negative")
	}
	if len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

// RequireServer checks the settings that only the HTTP server needs. The
// server must not start serving traffic when this fails.
func (c *Config) RequireServer() error {
	var errs []string
	if c.Slack.SigningSecret == "" {
		errs = append(errs, "slack.signing_secret (SLACK_SIGNING_SECRET) is required")
	}
	if c.TokenEncryptionKey == "" {
		errs = append(errs, "token_encryption_key (TOKEN_ENCRYPTION_KEY) is required")
	} else if len(c.TokenEncryptionKey) < 16 {
		errs = append(errs, "token_encryption_key must be at least 16 characters")
	}
	if c.Env == EnvProduction && c.APIKey != "" && len(c.APIKey) < 24 {
		errs = append(errs, "api_key must be at least 24 characters in production")
	}
	if len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

// IsProduction reports whether destructive operations must be refused.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
