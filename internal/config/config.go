package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dvloznov/splitwise-ledger/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. SPLITLEDGER_SYNC_BATCH_SIZE.
const EnvPrefix = "SPLITLEDGER"

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// Config holds application configuration.
type Config struct {
	Sync        SyncConfig        `mapstructure:"sync"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Storage     StorageConfig     `mapstructure:"storage"`
	BigQuery    BigQueryConfig    `mapstructure:"bigquery"`
	Splitwise   SplitwiseConfig   `mapstructure:"splitwise"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Notion      NotionConfig      `mapstructure:"notion"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	API         APIConfig         `mapstructure:"api"`
	Log         LogConfig         `mapstructure:"log"`
}

// SyncConfig holds the options a sync run recognizes.
type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	IncrementalMode bool          `mapstructure:"incremental_mode"`
	ValidateData    bool          `mapstructure:"validate_data"`
	APITimeout      time.Duration `mapstructure:"api_timeout"`
	AmountCeiling   float64       `mapstructure:"amount_ceiling"`
}

// RetryConfig shapes the fetch backoff.
type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// StorageConfig selects and locates the store.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	LockBaseDelay time.Duration `mapstructure:"lock_base_delay"`
}

// BigQueryConfig locates the BigQuery dataset.
type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

// SplitwiseConfig points at the source API.
type SplitwiseConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CredentialsConfig selects the secret store.
type CredentialsConfig struct {
	Provider     string `mapstructure:"provider"`
	SecretPrefix string `mapstructure:"secret_prefix"`
	Region       string `mapstructure:"region"`
}

// ArchiveConfig enables the raw landing zone when Bucket is set.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// NotionConfig holds balance publishing settings.
type NotionConfig struct {
	DatabaseID  string `mapstructure:"database_id"`
	TokenSecret string `mapstructure:"token_secret"`
}

// WorkerConfig drives the periodic worker.
type WorkerConfig struct {
	Collections []string      `mapstructure:"collections"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadDotEnv loads a .env file from the working directory when one exists.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads configuration from file and env. The file is taken from
// SPLITLEDGER_CONFIG or ~/.config/splitwise-ledger/config.toml.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFrom reads configuration from the given TOML file (optional) and env.
func LoadFrom(cfgPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "splitwise-ledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.incremental_mode", true)
	v.SetDefault("sync.validate_data", true)
	v.SetDefault("sync.api_timeout", 30*time.Second)
	v.SetDefault("sync.amount_ceiling", 1000000.0)

	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", filepath.Join(os.Getenv("HOME"), ".local", "share", "splitwise-ledger", "ledger.db"))
	v.SetDefault("storage.lock_base_delay", 100*time.Millisecond)

	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "raw")

	v.SetDefault("splitwise.base_url", "https://secure.splitwise.com/api/v3.0")

	v.SetDefault("credentials.provider", "env")
	v.SetDefault("credentials.secret_prefix", "splitwise")
	v.SetDefault("credentials.region", "")

	v.SetDefault("archive.bucket", "")

	v.SetDefault("notion.database_id", "")
	v.SetDefault("notion.token_secret", "notion_token")

	v.SetDefault("worker.collections", []string{})
	v.SetDefault("worker.interval", time.Hour)
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("api.port", 8080)
	v.SetDefault("log.level", "info")
}

// Validate rejects settings no run can work with.
func (c Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.APITimeout <= 0 {
		return fmt.Errorf("sync.api_timeout must be positive, got %s", c.Sync.APITimeout)
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendBigQuery:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendBigQuery, c.Storage.Backend)
	}
	if c.Storage.Backend == BackendBigQuery && c.BigQuery.Project == "" {
		return errors.New("bigquery.project is required for the bigquery backend")
	}
	return nil
}

// FetchPolicy is the retry policy for source fetches.
func (c Config) FetchPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Sync.MaxRetries,
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// StoragePolicy is the retry policy for acquiring the store's writer lock.
// It doubles from a short base delay.
func (c Config) StoragePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Sync.MaxRetries,
		BaseDelay:   c.Storage.LockBaseDelay,
		Multiplier:  2,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// WorkerTarget is one user/collection pair the worker keeps in sync.
type WorkerTarget struct {
	User         string
	CollectionID string
}

// Targets parses worker.collections entries of the form "user:collection".
func (w WorkerConfig) Targets() ([]WorkerTarget, error) {
	targets := make([]WorkerTarget, 0, len(w.Collections))
	for _, entry := range w.Collections {
		user, collection, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || user == "" || collection == "" {
			return nil, fmt.Errorf("invalid worker collection %q, expected user:collection", entry)
		}
		targets = append(targets, WorkerTarget{User: user, CollectionID: collection})
	}
	return targets, nil
}
