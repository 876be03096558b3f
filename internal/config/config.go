// Package config loads service configuration from defaults, an optional
// YAML file and COURIER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore: COURIER_DATABASE__URL.
const EnvPrefix = "COURIER_"

// Secrets providers.
const (
	SecretsStatic = "static"
	SecretsGCP    = "gcp"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Queue     QueueConfig     `koanf:"queue"`
	JWT       JWTConfig       `koanf:"jwt"`
	Signature SignatureConfig `koanf:"signature"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	CORS      CORSConfig      `koanf:"cors"`
	Channels  ChannelsConfig  `koanf:"channels"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig configures the Postgres pool. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL               string        `koanf:"url"`
	MaxConns          int           `koanf:"max_conns"`
	MinConns          int           `koanf:"min_conns"`
	ConnMaxLifetime   time.Duration `koanf:"conn_max_lifetime"`
	HealthCheckPeriod time.Duration `koanf:"health_check_period"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	ConnectAttempts   int           `koanf:"connect_attempts"`
	Migrate           bool          `koanf:"migrate"`
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BotToken        string        `koanf:"bot_token"`
	RateLimit       float64       `koanf:"rate_limit"`
	MediaBatchSize  int           `koanf:"media_batch_size"`
	MediaBatchDelay time.Duration `koanf:"media_batch_delay"`
	MediaWidth      int           `koanf:"media_width"`
	MediaQuality    int           `koanf:"media_quality"`
	MediaFormat     string        `koanf:"media_format"`
}

// QueueConfig configures enqueue deduplication and the scheduler.
type QueueConfig struct {
	TickInterval       time.Duration `koanf:"tick_interval"`
	MaxAttempts        int           `koanf:"max_attempts"`
	InitialBackoff     time.Duration `koanf:"initial_backoff"`
	MaxBackoff         time.Duration `koanf:"max_backoff"`
	BackoffMultiplier  float64       `koanf:"backoff_multiplier"`
	StaleAfter         time.Duration `koanf:"stale_after"`
	StaleSweepInterval time.Duration `koanf:"stale_sweep_interval"`
	DedupBucket        time.Duration `koanf:"dedup_bucket"`
	DedupWindow        time.Duration `koanf:"dedup_window"`
	RepostCooldown     time.Duration `koanf:"repost_cooldown"`
	StatsInterval      time.Duration `koanf:"stats_interval"`
}

// JWTConfig configures producer token validation.
type JWTConfig struct {
	SecretKey string        `koanf:"secret_key"`
	Issuer    string        `koanf:"issuer"`
	Audience  string        `koanf:"audience"`
	Leeway    time.Duration `koanf:"leeway"`
}

// SignatureConfig configures webhook signature verification. Key names
// are looked up in the secrets source.
type SignatureConfig struct {
	MaxSkew        time.Duration `koanf:"max_skew"`
	CurrentKeyName string        `koanf:"current_key_name"`
	NextKeyName    string        `koanf:"next_key_name"`
}

// SecretsConfig selects where signing keys come from.
type SecretsConfig struct {
	Provider           string            `koanf:"provider"`
	CacheTTL           time.Duration     `koanf:"cache_ttl"`
	GCPProjectID       string            `koanf:"gcp_project_id"`
	GCPCredentialsFile string            `koanf:"gcp_credentials_file"`
	Static             map[string]string `koanf:"static"`
}

// CORSConfig configures cross-origin requests.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ChannelsConfig names the shared Telegram destinations.
type ChannelsConfig struct {
	ChannelChatID string `koanf:"channel_chat_id"`
	AdminChatID   string `koanf:"admin_chat_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxConns:          10,
			MinConns:          1,
			ConnMaxLifetime:   time.Hour,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    30 * time.Second,
			ConnectAttempts:   5,
			Migrate:           true,
		},
		Telegram: TelegramConfig{
			RateLimit:       25,
			MediaBatchSize:  10,
			MediaBatchDelay: 500 * time.Millisecond,
			MediaWidth:      1280,
			MediaQuality:    80,
			MediaFormat:     "origin",
		},
		Queue: QueueConfig{
			TickInterval:       2 * time.Second,
			MaxAttempts:        3,
			InitialBackoff:     time.Second,
			MaxBackoff:         60 * time.Second,
			BackoffMultiplier:  2.0,
			StaleAfter:         5 * time.Minute,
			StaleSweepInterval: time.Minute,
			DedupBucket:        time.Second,
			DedupWindow:        10 * time.Second,
			RepostCooldown:     72 * time.Hour,
			StatsInterval:      15 * time.Second,
		},
		JWT: JWTConfig{
			Leeway: 30 * time.Second,
		},
		Signature: SignatureConfig{
			MaxSkew:        300 * time.Second,
			CurrentKeyName: "webhook-signing-key",
		},
		Secrets: SecretsConfig{
			Provider: SecretsStatic,
			CacheTTL: 5 * time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps COURIER_QUEUE__MAX_ATTEMPTS to queue.max_attempts.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.bot_token is required when telegram is enabled"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if c.Queue.TickInterval <= 0 {
		errs = append(errs, errors.New("queue.tick_interval must be positive"))
	}
	if c.Queue.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("queue.backoff_multiplier must be at least 1"))
	}
	if c.Signature.CurrentKeyName == "" {
		errs = append(errs, errors.New("signature.current_key_name is required"))
	}
	switch c.Secrets.Provider {
	case SecretsStatic:
	case SecretsGCP:
		if c.Secrets.GCPProjectID == "" {
			errs = append(errs, errors.New("secrets.gcp_project_id is required for the gcp provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("secrets.provider must be %s or %s, got %q", SecretsStatic, SecretsGCP, c.Secrets.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
