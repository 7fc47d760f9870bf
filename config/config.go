package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/messaging/redis"
	"github.com/jwalitptl/medbooking/pkg/worker"
)

// EnvPrefix namespaces the environment overrides, e.g. MEDBOOKING_DATABASE_HOST.
const EnvPrefix = "MEDBOOKING"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" envconfig:"driver"`
	Host         string `mapstructure:"host" envconfig:"host"`
	Port         int    `mapstructure:"port" envconfig:"port"`
	User         string `mapstructure:"user" envconfig:"user"`
	Password     string `mapstructure:"password" envconfig:"password"`
	Name         string `mapstructure:"name" envconfig:"name"`
	SSLMode      string `mapstructure:"sslmode" envconfig:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"max_idle_conns"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" envconfig:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" envconfig:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" envconfig:"max_header_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" envconfig:"shutdown_timeout"`
	// HealthPort serves liveness and readiness for cmd/worker.
	HealthPort     int           `mapstructure:"health_port" envconfig:"health_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" envconfig:"max_body_bytes"`
	CORSOrigins    []string      `mapstructure:"cors_origins" envconfig:"cors_origins"`
	HSTS           bool          `mapstructure:"hsts" envconfig:"hsts"`
	// Mode is passed to gin: debug, release or test.
	Mode string `mapstructure:"mode" envconfig:"mode"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret" envconfig:"secret"`
	Issuer      string `mapstructure:"issuer" envconfig:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours" envconfig:"expiry_hours"`
}

type RedisConfig struct {
	// Enabled switches the event bus and shared stores onto redis.
	Enabled       bool          `mapstructure:"enabled" envconfig:"enabled"`
	URL           string        `mapstructure:"url" envconfig:"url"`
	MaxRetries    int           `mapstructure:"max_retries" envconfig:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" envconfig:"retry_backoff"`
	PoolSize      int           `mapstructure:"pool_size" envconfig:"pool_size"`
	MinIdleConns  int           `mapstructure:"min_idle_conns" envconfig:"min_idle_conns"`
	ChannelPrefix string        `mapstructure:"channel_prefix" envconfig:"channel_prefix"`
	// BookingLockTTL enables the per doctor/instant booking lock when > 0.
	BookingLockTTL time.Duration `mapstructure:"booking_lock_ttl" envconfig:"booking_lock_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" envconfig:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" envconfig:"requests_per_second"`
	Burst             int     `mapstructure:"burst" envconfig:"burst"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" envconfig:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval" envconfig:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts" envconfig:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" envconfig:"retry_delay"`
	MaxRetries    int           `mapstructure:"max_retries" envconfig:"max_retries"`
	ClaimLease    time.Duration `mapstructure:"claim_lease" envconfig:"claim_lease"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"host"`
	Port     int    `mapstructure:"port" envconfig:"port"`
	Username string `mapstructure:"username" envconfig:"username"`
	Password string `mapstructure:"password" envconfig:"password"`
	From     string `mapstructure:"from" envconfig:"from"`
}

type NotificationsConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp" envconfig:"smtp"`
}

type WorkersConfig struct {
	AuditRetentionDays        int           `mapstructure:"audit_retention_days" envconfig:"audit_retention_days"`
	AuditCleanupInterval      time.Duration `mapstructure:"audit_cleanup_interval" envconfig:"audit_cleanup_interval"`
	NotificationRetentionDays int           `mapstructure:"notification_retention_days" envconfig:"notification_retention_days"`
	NotificationPruneInterval time.Duration `mapstructure:"notification_prune_interval" envconfig:"notification_prune_interval"`
	OutboxRetention           time.Duration `mapstructure:"outbox_retention" envconfig:"outbox_retention"`
	OutboxPurgeInterval       time.Duration `mapstructure:"outbox_purge_interval" envconfig:"outbox_purge_interval"`
}

type ResetTokensConfig struct {
	TTL time.Duration `mapstructure:"ttl" envconfig:"ttl"`
	// Store is "memory" or "redis".
	Store string `mapstructure:"store" envconfig:"store"`
}

type SecurityConfig struct {
	// ReportKey enables at-rest encryption of report notes when set (32 bytes).
	ReportKey  string `mapstructure:"report_key" envconfig:"report_key"`
	BcryptCost int    `mapstructure:"bcrypt_cost" envconfig:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"level"`
	Pretty bool   `mapstructure:"pretty" envconfig:"pretty"`
}

type Config struct {
	Server        ServerConfig        `mapstructure:"server" envconfig:"server"`
	Database      DatabaseConfig      `mapstructure:"database" envconfig:"database"`
	Redis         RedisConfig         `mapstructure:"redis" envconfig:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt" envconfig:"jwt"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit" envconfig:"rate_limit"`
	Outbox        OutboxConfig        `mapstructure:"outbox" envconfig:"outbox"`
	Notifications NotificationsConfig `mapstructure:"notifications" envconfig:"notifications"`
	Workers       WorkersConfig       `mapstructure:"workers" envconfig:"workers"`
	ResetTokens   ResetTokensConfig   `mapstructure:"reset_tokens" envconfig:"reset_tokens"`
	Security      SecurityConfig      `mapstructure:"security" envconfig:"security"`
	Log           LogConfig           `mapstructure:"log" envconfig:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.channel_prefix", "medbooking:")

	v.SetDefault("jwt.issuer", "medbooking")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", "200ms")
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.claim_lease", "1m")

	v.SetDefault("notifications.smtp.port", 587)

	v.SetDefault("workers.audit_retention_days", 365)
	v.SetDefault("workers.audit_cleanup_interval", "24h")
	v.SetDefault("workers.notification_retention_days", 30)
	v.SetDefault("workers.notification_prune_interval", "6h")
	v.SetDefault("workers.outbox_retention", "168h")
	v.SetDefault("workers.outbox_purge_interval", "1h")

	v.SetDefault("reset_tokens.ttl", "1h")
	v.SetDefault("reset_tokens.store", "memory")

	v.SetDefault("security.bcrypt_cost", 10)

	v.SetDefault("log.level", "info")
}

// Load reads config.yml from the usual locations, then overlays a .env
// file and MEDBOOKING_* environment variables. A missing config file is
// not an error; defaults and the environment still apply.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")           // current directory
	v.AddConfigPath("./config")    // config subdirectory
	v.AddConfigPath("/app")        // container root directory
	v.AddConfigPath("/app/config") // container config directory
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.ResetTokens.Store == "redis" && !c.Redis.Enabled {
		return errors.New("reset_tokens.store=redis requires redis.enabled")
	}
	if k := len(c.Security.ReportKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.report_key must be 16, 24 or 32 bytes, got %d", k)
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxRelayConfig {
	return worker.OutboxRelayConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxRetries:    c.MaxRetries,
		ClaimLease:    c.ClaimLease,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:           c.URL,
		MaxRetries:    c.MaxRetries,
		RetryBackoff:  c.RetryBackoff,
		PoolSize:      c.PoolSize,
		MinIdleConns:  c.MinIdleConns,
		ChannelPrefix: c.ChannelPrefix,
	}
}

func (c *LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Level),
		TimeFormat: time.RFC3339,
		Pretty:     c.Pretty,
	}
}
