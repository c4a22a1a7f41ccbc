// Package config provides configuration management for the imagevault server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Images    ImagesConfig    `mapstructure:"images"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retention RetentionConfig `mapstructure:"retention"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings.
// When disabled, the thumbnail cache and sweep lock stay in process.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	// JWTSecret is the HMAC key used to verify access tokens.
	JWTSecret string `mapstructure:"jwt_secret"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `mapstructure:"issuer"`

	// PrivilegedRoles may delete foreign blobs and run sweeps.
	PrivilegedRoles []string `mapstructure:"privileged_roles"`
}

// ImagesConfig holds ingestion limits and codec knobs.
type ImagesConfig struct {
	MaxUploadSize    int64    `mapstructure:"max_upload_size"`
	AllowedTypes     []string `mapstructure:"allowed_types"`
	MaxWidth         int      `mapstructure:"max_width"`
	MaxHeight        int      `mapstructure:"max_height"`
	ChunkSize        int      `mapstructure:"chunk_size"`
	ThumbnailSize    int      `mapstructure:"thumbnail_size"`
	ThumbnailQuality int      `mapstructure:"thumbnail_quality"`
	JPEGQuality      int      `mapstructure:"jpeg_quality"`
	WEBPQuality      int      `mapstructure:"webp_quality"`
	PNGLevel         int      `mapstructure:"png_level"`

	// KeepOriginalOnCodecError makes the HTTP upload store the raw bytes
	// when processing fails instead of rejecting the upload.
	KeepOriginalOnCodecError bool `mapstructure:"keep_original_on_codec_error"`
}

// WorkersConfig sizes the CPU pools.
type WorkersConfig struct {
	CodecWorkers    int `mapstructure:"codec_workers"`
	CodecQueue      int `mapstructure:"codec_queue"`
	DeliveryWorkers int `mapstructure:"delivery_workers"`
	DeliveryQueue   int `mapstructure:"delivery_queue"`
}

// UsageConfig sizes the asynchronous usage counter.
type UsageConfig struct {
	QueueSize int           `mapstructure:"queue_size"`
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds thumbnail cache settings.
type CacheConfig struct {
	ThumbnailTTL time.Duration `mapstructure:"thumbnail_ttl"`
}

// RetentionConfig holds sweep settings.
type RetentionConfig struct {
	// Enabled determines if the scheduled sweep runs.
	Enabled bool `mapstructure:"enabled"`

	// Schedule is a cron expression with a seconds field.
	Schedule string `mapstructure:"schedule"`

	// DaysOld is the default age threshold.
	DaysOld int `mapstructure:"days_old"`

	// BatchSize is the maximum number of blobs deleted per batch.
	BatchSize int `mapstructure:"batch_size"`

	// DryRun logs what would be deleted without actually deleting.
	DryRun bool `mapstructure:"dry_run"`

	// LockTTL bounds how long one sweep may hold the distributed lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// ArchiveConfig holds S3 archival of swept blobs.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with IMAGEVAULT_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("IMAGEVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/imagevault")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "imagevault")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "imagevault")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/imagevault.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.key_prefix", "imagevault:")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "") // Must be provided
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.privileged_roles", []string{"admin"})

	// Image defaults
	v.SetDefault("images.max_upload_size", 50*1024*1024) // 50MB
	v.SetDefault("images.allowed_types", []string{"image/jpeg", "image/png", "image/gif", "image/webp"})
	v.SetDefault("images.max_width", 1920)
	v.SetDefault("images.max_height", 1080)
	v.SetDefault("images.chunk_size", 16384)
	v.SetDefault("images.thumbnail_size", 150)
	v.SetDefault("images.thumbnail_quality", 70)
	v.SetDefault("images.jpeg_quality", 85)
	v.SetDefault("images.webp_quality", 80)
	v.SetDefault("images.png_level", 9)
	v.SetDefault("images.keep_original_on_codec_error", false)

	// Worker pool defaults
	v.SetDefault("workers.codec_workers", 4)
	v.SetDefault("workers.codec_queue", 32)
	v.SetDefault("workers.delivery_workers", 16)
	v.SetDefault("workers.delivery_queue", 256)

	// Usage counter defaults
	v.SetDefault("usage.queue_size", 1024)
	v.SetDefault("usage.workers", 2)
	v.SetDefault("usage.timeout", 5*time.Second)

	// Cache defaults
	v.SetDefault("cache.thumbnail_ttl", 24*time.Hour)

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.schedule", "0 30 3 * * *") // 03:30 daily
	v.SetDefault("retention.days_old", 30)
	v.SetDefault("retention.batch_size", 500)
	v.SetDefault("retention.dry_run", false)
	v.SetDefault("retention.lock_ttl", 10*time.Minute)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "swept/")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.use_path_style", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate database configuration
	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}

	// Validate image configuration
	if c.Images.MaxUploadSize <= 0 {
		return fmt.Errorf("images.max_upload_size must be positive")
	}
	if len(c.Images.AllowedTypes) == 0 {
		return fmt.Errorf("images.allowed_types must not be empty")
	}
	if c.Images.MaxWidth <= 0 || c.Images.MaxHeight <= 0 {
		return fmt.Errorf("images.max_width and images.max_height must be positive")
	}
	if c.Images.ChunkSize <= 0 {
		return fmt.Errorf("images.chunk_size must be positive")
	}
	for name, q := range map[string]int{
		"images.thumbnail_quality": c.Images.ThumbnailQuality,
		"images.jpeg_quality":      c.Images.JPEGQuality,
		"images.webp_quality":      c.Images.WEBPQuality,
	} {
		if q < 1 || q > 100 {
			return fmt.Errorf("%s must be between 1 and 100", name)
		}
	}

	// Validate worker configuration
	if c.Workers.CodecWorkers < 1 || c.Workers.DeliveryWorkers < 1 {
		return fmt.Errorf("workers.codec_workers and workers.delivery_workers must be at least 1")
	}

	// Validate retention configuration
	if c.Retention.DaysOld < 1 || c.Retention.DaysOld > 365 {
		return fmt.Errorf("retention.days_old must be between 1 and 365")
	}
	if c.Retention.BatchSize < 1 {
		return fmt.Errorf("retention.batch_size must be at least 1")
	}

	// Validate archive configuration
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
