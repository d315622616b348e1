// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github-visibility-bot/internal/encryption"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	TelegramModePolling = "polling"
	TelegramModeWebhook = "webhook"

	maxDBConns = 20
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`

	TelegramBotToken      string `mapstructure:"TELEGRAM_BOT_TOKEN" masq:"secret"`
	TelegramMode          string `mapstructure:"TELEGRAM_MODE"`
	TelegramWebhookURL    string `mapstructure:"TELEGRAM_WEBHOOK_URL"`
	TelegramWebhookSecret string `mapstructure:"TELEGRAM_WEBHOOK_SECRET" masq:"secret"`

	StoreDriver  string        `mapstructure:"STORE_DRIVER"`
	DBURL        string        `mapstructure:"DB_URL" masq:"secret"`
	DBMinConns   int32         `mapstructure:"DB_MIN_CONNS"`
	DBMaxConns   int32         `mapstructure:"DB_MAX_CONNS"`
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`

	GitHubAPIURL  string        `mapstructure:"GITHUB_API_URL"`
	GitHubTimeout time.Duration `mapstructure:"GITHUB_TIMEOUT"`

	EncryptionKeyB64 string `mapstructure:"ENCRYPTION_KEY" masq:"secret"`
	EncryptionKey    []byte `mapstructure:"-" masq:"secret"`

	AdminUserIDsRaw string  `mapstructure:"ADMIN_USER_IDS"`
	AdminUserIDs    []int64 `mapstructure:"-"`

	RateLimitCount  int           `mapstructure:"RATE_LIMIT_COUNT"`
	RateLimitWindow time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	BatchMaxSize    int           `mapstructure:"BATCH_MAX_SIZE"`
}

var defaults = map[string]any{
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"HTTP_ADDR":               ":8080",
	"TELEGRAM_BOT_TOKEN":      "",
	"TELEGRAM_MODE":           TelegramModePolling,
	"TELEGRAM_WEBHOOK_URL":    "",
	"TELEGRAM_WEBHOOK_SECRET": "",
	"STORE_DRIVER":            StoreDriverPostgres,
	"DB_URL":                  "",
	"DB_MIN_CONNS":            1,
	"DB_MAX_CONNS":            20,
	"STORE_TIMEOUT":           "5s",
	"GITHUB_API_URL":          "",
	"GITHUB_TIMEOUT":          "15s",
	"ENCRYPTION_KEY":          "",
	"ADMIN_USER_IDS":          "",
	"RATE_LIMIT_COUNT":        30,
	"RATE_LIMIT_WINDOW":       "60s",
	"BATCH_MAX_SIZE":          10,
}

// LoadConfig reads configuration from a .env file and/or environment variables.
func LoadConfig() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	// Every key has a default so AutomaticEnv picks it up during Unmarshal.
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(configPath)
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks every option eagerly and fills the derived fields.
func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is a required configuration field")
	}

	switch c.TelegramMode {
	case TelegramModePolling:
	case TelegramModeWebhook:
		if c.TelegramWebhookURL == "" || c.TelegramWebhookSecret == "" {
			return errors.New("TELEGRAM_WEBHOOK_URL and TELEGRAM_WEBHOOK_SECRET are required when TELEGRAM_MODE is 'webhook'")
		}
	default:
		return fmt.Errorf("TELEGRAM_MODE must be '%s' or '%s', got %q", TelegramModePolling, TelegramModeWebhook, c.TelegramMode)
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL is a required configuration field")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be '%s' or '%s', got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.DBMinConns < 1 || c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must be >= 1 and <= DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBMaxConns > maxDBConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) must not exceed %d", c.DBMaxConns, maxDBConns)
	}

	if c.EncryptionKeyB64 == "" {
		return errors.New("ENCRYPTION_KEY is a required configuration field")
	}
	key, err := encryption.DecodeKey(c.EncryptionKeyB64)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	c.EncryptionKey = key

	ids, err := parseAdminIDs(c.AdminUserIDsRaw)
	if err != nil {
		return err
	}
	c.AdminUserIDs = ids

	if c.RateLimitCount <= 0 {
		return errors.New("RATE_LIMIT_COUNT must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be a positive duration")
	}
	if c.BatchMaxSize <= 0 {
		return errors.New("BATCH_MAX_SIZE must be positive")
	}
	if c.GitHubTimeout <= 0 || c.StoreTimeout <= 0 {
		return errors.New("GITHUB_TIMEOUT and STORE_TIMEOUT must be positive durations")
	}
	return nil
}

func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_USER_IDS: %q is not a user id", part)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("ADMIN_USER_IDS must contain at least one user id")
	}
	return ids, nil
}
