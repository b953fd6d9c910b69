package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/contact-sync/internal/mailchimp"
	"github.com/ignite/contact-sync/internal/source"
	"github.com/ignite/contact-sync/internal/storage"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Mailchimp  MailchimpConfig   `yaml:"mailchimp"`
	Sync       SyncConfig        `yaml:"sync"`
	Source     SourceConfig      `yaml:"source"`
	Sinks      SinksConfig       `yaml:"sinks"`
	Checkpoint CheckpointConfig  `yaml:"checkpoint"`
	Redis      RedisConfig       `yaml:"redis"`
	Database   DatabaseConfig    `yaml:"database"`
	AWS        storage.AWSConfig `yaml:"aws"`
	Log        LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// MailchimpConfig holds Mailchimp API configuration
type MailchimpConfig struct {
	AccessToken    string `yaml:"access_token"`
	APIKey         string `yaml:"api_key"`
	Server         string `yaml:"server"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the timeout as a duration
func (c MailchimpConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ClientConfig converts to the API client's configuration.
func (c MailchimpConfig) ClientConfig() mailchimp.Config {
	return mailchimp.Config{
		AccessToken: c.AccessToken,
		APIKey:      c.APIKey,
		Server:      c.Server,
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout(),
		MaxRetries:  c.MaxRetries,
	}
}

// SyncConfig controls how records are delivered.
type SyncConfig struct {
	ListName            string   `yaml:"list_name"`
	SubscribeStatus     string   `yaml:"subscribe_status"`
	UseFallbackSink     bool     `yaml:"use_fallback_sink"`
	ContactStreams      []string `yaml:"contact_streams"`
	SubBatchSize        int      `yaml:"sub_batch_size"`
	MaxBatchRecords     int      `yaml:"max_batch_records"`
	TransientRetries    *int     `yaml:"transient_retries"`
	RetryBackoffSeconds int      `yaml:"retry_backoff_seconds"`
	LockTTLSeconds      int      `yaml:"lock_ttl_seconds"`
}

// Retries returns how many times a transient failure is retried.
func (c SyncConfig) Retries() int {
	if c.TransientRetries == nil {
		return 2
	}
	return *c.TransientRetries
}

// RetryBackoff returns the base wait between retries.
func (c SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// LockTTL returns how long the run lock lives without a refresh.
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Source kinds.
const (
	SourceJSONL     = "jsonl"
	SourceS3        = "s3"
	SourceSnowflake = "snowflake"
	SourcePostgres  = "postgres"
)

// SourceConfig selects where records come from.
type SourceConfig struct {
	Kind      string                 `yaml:"kind"`
	Path      string                 `yaml:"path"` // file, or "-" for stdin
	Stream    string                 `yaml:"stream"`
	S3Bucket  string                 `yaml:"s3_bucket"`
	S3Key     string                 `yaml:"s3_key"`
	Query     string                 `yaml:"query"`
	Snowflake source.SnowflakeConfig `yaml:"snowflake"`
}

// SinksConfig selects where outcomes and passthrough records go.
type SinksConfig struct {
	OutcomesPath  string `yaml:"outcomes_path"` // "-" for stdout, "" to disable
	RawPath       string `yaml:"raw_path"`
	Postgres      bool   `yaml:"postgres"`
	ArchiveBucket string `yaml:"archive_bucket"`
	ArchivePrefix string `yaml:"archive_prefix"`
}

// Checkpoint kinds.
const (
	CheckpointNone     = "none"
	CheckpointFile     = "file"
	CheckpointDynamoDB = "dynamodb"
)

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Kind          string `yaml:"kind"`
	Dir           string `yaml:"dir"`
	Table         string `yaml:"table"`
	RetentionDays int    `yaml:"retention_days"`
}

// Retention returns the DynamoDB item TTL.
func (c CheckpointConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RedisConfig holds the run lock's Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII is masked in logs. Defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Configuration errors.
var (
	ErrNoCredentials  = errors.New("mailchimp access_token or api_key is required")
	ErrInvalidSource  = errors.New("invalid source configuration")
	ErrInvalidSetting = errors.New("invalid configuration")
)

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Mailchimp.TimeoutSeconds == 0 {
		cfg.Mailchimp.TimeoutSeconds = 300
	}
	if cfg.Mailchimp.MaxRetries == 0 {
		cfg.Mailchimp.MaxRetries = 3
	}
	if cfg.Sync.SubscribeStatus == "" {
		cfg.Sync.SubscribeStatus = "subscribed"
	}
	if cfg.Sync.SubBatchSize == 0 {
		cfg.Sync.SubBatchSize = 500
	}
	if cfg.Sync.MaxBatchRecords == 0 {
		cfg.Sync.MaxBatchRecords = source.DefaultMaxBatchRecords
	}
	if cfg.Sync.RetryBackoffSeconds == 0 {
		cfg.Sync.RetryBackoffSeconds = 2
	}
	if cfg.Sync.LockTTLSeconds == 0 {
		cfg.Sync.LockTTLSeconds = 300
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceJSONL
	}
	if cfg.Source.Kind == SourceJSONL && cfg.Source.Path == "" {
		cfg.Source.Path = "-"
	}
	if cfg.Source.Stream == "" {
		cfg.Source.Stream = source.DefaultStream
	}
	if cfg.Sinks.OutcomesPath == "" {
		cfg.Sinks.OutcomesPath = "-"
	}
	if cfg.Checkpoint.Kind == "" {
		cfg.Checkpoint.Kind = CheckpointFile
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = ".contact-sync"
	}
	if cfg.Checkpoint.Table == "" {
		cfg.Checkpoint.Table = "contact-sync-checkpoints"
	}
	if cfg.Checkpoint.RetentionDays == 0 {
		cfg.Checkpoint.RetentionDays = 30
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		env string
		dst *string
	}{
		{"MAILCHIMP_ACCESS_TOKEN", &cfg.Mailchimp.AccessToken},
		{"MAILCHIMP_API_KEY", &cfg.Mailchimp.APIKey},
		{"MAILCHIMP_SERVER", &cfg.Mailchimp.Server},
		{"MAILCHIMP_BASE_URL", &cfg.Mailchimp.BaseURL},
		{"MAILCHIMP_LIST_NAME", &cfg.Sync.ListName},
		{"DATABASE_URL", &cfg.Database.URL},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"SNOWFLAKE_ACCOUNT", &cfg.Source.Snowflake.Account},
		{"SNOWFLAKE_USER", &cfg.Source.Snowflake.User},
		{"SNOWFLAKE_PASSWORD", &cfg.Source.Snowflake.Password},
		{"SNOWFLAKE_WAREHOUSE", &cfg.Source.Snowflake.Warehouse},
		{"SNOWFLAKE_ROLE", &cfg.Source.Snowflake.Role},
		{"CHECKPOINT_TABLE", &cfg.Checkpoint.Table},
		{"ARCHIVE_BUCKET", &cfg.Sinks.ArchiveBucket},
		{"AWS_REGION", &cfg.AWS.Region},
		{"AWS_PROFILE_OVERRIDE", &cfg.AWS.Profile},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("MAILCHIMP_USE_FALLBACK_SINK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.UseFallbackSink = b
		}
	}

	return cfg, nil
}

// Validate reports configuration that cannot start a run.
func (c *Config) Validate() error {
	if c.Mailchimp.AccessToken == "" && c.Mailchimp.APIKey == "" {
		return ErrNoCredentials
	}
	if c.Sync.SubBatchSize < 1 || c.Sync.SubBatchSize > 500 {
		return fmt.Errorf("%w: sub_batch_size must be between 1 and 500", ErrInvalidSetting)
	}
	if c.Sync.Retries() < 0 {
		return fmt.Errorf("%w: transient_retries must not be negative", ErrInvalidSetting)
	}

	switch strings.ToLower(c.Source.Kind) {
	case SourceJSONL:
		if c.Source.Path == "" {
			return fmt.Errorf("%w: jsonl source needs a path", ErrInvalidSource)
		}
	case SourceS3:
		if c.Source.S3Bucket == "" || c.Source.S3Key == "" {
			return fmt.Errorf("%w: s3 source needs s3_bucket and s3_key", ErrInvalidSource)
		}
	case SourceSnowflake:
		if c.Source.Query == "" || c.Source.Snowflake.Account == "" {
			return fmt.Errorf("%w: snowflake source needs a query and an account", ErrInvalidSource)
		}
	case SourcePostgres:
		if c.Source.Query == "" || c.Database.URL == "" {
			return fmt.Errorf("%w: postgres source needs a query and database.url", ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, c.Source.Kind)
	}

	switch c.Checkpoint.Kind {
	case CheckpointNone, CheckpointFile, CheckpointDynamoDB:
	default:
		return fmt.Errorf("%w: unknown checkpoint kind %q", ErrInvalidSetting, c.Checkpoint.Kind)
	}
	if c.Sinks.Postgres && c.Database.URL == "" {
		return fmt.Errorf("%w: postgres sink needs database.url", ErrInvalidSetting)
	}
	return nil
}
