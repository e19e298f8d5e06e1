// Package config assembles runtime configuration from the environment plus
// an optional threadsync.yaml in the config directory. Environment values
// win over YAML; YAML values may reference the environment with {{.VAR}}
// template syntax.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threadsync/threadsync/pkg/store"
)

// ErrInvalidYAML marks an unparseable configuration file.
var ErrInvalidYAML = errors.New("invalid YAML")

// Recognised environment variable names. A credential that is absent is not
// a startup failure; the component that first needs it reports it missing.
const (
	EnvMasterKey          = "ENCRYPTION_MASTER_KEY"
	EnvLLMKey             = "ANTHROPIC_API_KEY"
	EnvNotionKey          = "NOTION_API_KEY"
	EnvFigmaKey           = "FIGMA_API_KEY"
	EnvSlackClientID      = "SLACK_CLIENT_ID"
	EnvSlackClientSecret  = "SLACK_CLIENT_SECRET"
	EnvSlackSigningSecret = "SLACK_SIGNING_SECRET"
	EnvMailgunSecret      = "MAILGUN_WEBHOOK_SECRET"
	EnvMailgunDomain      = "MAILGUN_DOMAIN"
	EnvDevMode            = "DEV_MODE"
	EnvHTTPPort           = "HTTP_PORT"
)

// SlackConfig holds the chat platform's app credentials.
type SlackConfig struct {
	ClientID      string
	ClientSecret  string
	SigningSecret string
}

// MailgunConfig holds the inbound email provider settings.
type MailgunConfig struct {
	WebhookSecret string
	Domain        string
}

// ProcessorConfig tunes pipeline retry behaviour.
type ProcessorConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryBase   time.Duration `yaml:"retry_base"`
	RetryMax    time.Duration `yaml:"retry_max"`
}

// Config is the assembled runtime configuration.
type Config struct {
	HTTPPort string
	// DevMode relaxes webhook signature checks when no secret is
	// configured and enables the in-memory store fallback.
	DevMode bool

	MasterKey string
	LLMKey    string
	NotionKey string
	FigmaKey  string

	Slack   SlackConfig
	Mailgun MailgunConfig

	Database  store.Config
	Retention *RetentionConfig
	Processor ProcessorConfig
}

// yamlConfig is the threadsync.yaml file structure. Everything in it is
// optional. Durations are strings parsed with time.ParseDuration.
type yamlConfig struct {
	System struct {
		HTTPPort  string              `yaml:"http_port"`
		DevMode   *bool               `yaml:"dev_mode"`
		Retention *retentionYAMLBlock `yaml:"retention"`
	} `yaml:"system"`
	Processor *processorYAMLBlock `yaml:"processor"`
}

type retentionYAMLBlock struct {
	DiscussionRetentionDays int    `yaml:"discussion_retention_days"`
	JobRetentionDays        int    `yaml:"job_retention_days"`
	CleanupInterval         string `yaml:"cleanup_interval"`
}

type processorYAMLBlock struct {
	MaxAttempts int    `yaml:"max_attempts"`
	RetryBase   string `yaml:"retry_base"`
	RetryMax    string `yaml:"retry_max"`
}

// Initialize loads and returns ready-to-use configuration.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := &Config{
		HTTPPort:  getEnv(EnvHTTPPort, "8080"),
		DevMode:   boolEnv(EnvDevMode),
		MasterKey: os.Getenv(EnvMasterKey),
		LLMKey:    os.Getenv(EnvLLMKey),
		NotionKey: os.Getenv(EnvNotionKey),
		FigmaKey:  os.Getenv(EnvFigmaKey),
		Slack: SlackConfig{
			ClientID:      os.Getenv(EnvSlackClientID),
			ClientSecret:  os.Getenv(EnvSlackClientSecret),
			SigningSecret: os.Getenv(EnvSlackSigningSecret),
		},
		Mailgun: MailgunConfig{
			WebhookSecret: os.Getenv(EnvMailgunSecret),
			Domain:        os.Getenv(EnvMailgunDomain),
		},
		Database:  databaseFromEnv(),
		Retention: DefaultRetentionConfig(),
		Processor: ProcessorConfig{MaxAttempts: 3, RetryBase: 2 * time.Second, RetryMax: 30 * time.Second},
	}

	if err := applyYAML(cfg, filepath.Join(configDir, "threadsync.yaml")); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"http_port", cfg.HTTPPort,
		"dev_mode", cfg.DevMode,
		"db_host", cfg.Database.Host)
	return cfg, nil
}

// applyYAML overlays the optional YAML file onto cfg. A missing file is not
// an error; a malformed one is.
func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &y); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}

	if y.System.HTTPPort != "" && os.Getenv(EnvHTTPPort) == "" {
		cfg.HTTPPort = y.System.HTTPPort
	}
	if y.System.DevMode != nil && os.Getenv(EnvDevMode) == "" {
		cfg.DevMode = *y.System.DevMode
	}
	if r := y.System.Retention; r != nil {
		if r.DiscussionRetentionDays > 0 {
			cfg.Retention.DiscussionRetentionDays = r.DiscussionRetentionDays
		}
		if r.JobRetentionDays > 0 {
			cfg.Retention.JobRetentionDays = r.JobRetentionDays
		}
		if d, ok := parseDuration("retention.cleanup_interval", r.CleanupInterval); ok {
			cfg.Retention.CleanupInterval = d
		}
	}
	if p := y.Processor; p != nil {
		if p.MaxAttempts > 0 {
			cfg.Processor.MaxAttempts = p.MaxAttempts
		}
		if d, ok := parseDuration("processor.retry_base", p.RetryBase); ok {
			cfg.Processor.RetryBase = d
		}
		if d, ok := parseDuration("processor.retry_max", p.RetryMax); ok {
			cfg.Processor.RetryMax = d
		}
	}
	return nil
}

// parseDuration parses a YAML duration string, warning on bad values so a
// typo falls back to the default instead of failing startup.
func parseDuration(field, value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default", "field", field, "value", value, "error", err)
		return 0, false
	}
	return d, true
}

// databaseFromEnv builds the Postgres settings from DB_* variables.
func databaseFromEnv() store.Config {
	return store.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     intEnv("DB_PORT", 5432),
		User:     getEnv("DB_USER", "threadsync"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnv("DB_NAME", "threadsync"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),

		MaxOpenConns:    intEnv("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    intEnv("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: durationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: durationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Ignoring unparseable integer environment value", "key", key, "value", v)
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("Ignoring unparseable duration environment value", "key", key, "value", v)
	}
	return fallback
}
