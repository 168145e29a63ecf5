package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/docman-backlog/pkg/database"
	"github.com/garyjia/docman-backlog/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Backlog    BacklogConfig    `mapstructure:"backlog"`
	Converter  ConverterConfig  `mapstructure:"converter"`
	Thumbnail  ThumbnailConfig  `mapstructure:"thumbnail"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds record store configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite3 or postgres
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// StorageConfig holds the canonical document locations
type StorageConfig struct {
	DocumentsDir  string `mapstructure:"documents_dir"`
	ThumbnailsDir string `mapstructure:"thumbnails_dir"`
	ConvertDir    string `mapstructure:"convert_dir"`
}

// BacklogConfig describes the share holding the daily scan folders
type BacklogConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	CurrentYear int    `mapstructure:"current_year"`
	ArchiveYear int    `mapstructure:"archive_year"`
	PolicyPath  string `mapstructure:"policy_path"`
	LogsDir     string `mapstructure:"logs_dir"`

	// ReservationTTL is how long an import reservation blocks other runs
	// before it counts as abandoned. Zero keeps reservations until released.
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
}

// ConverterConfig holds external conversion tool settings
type ConverterConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	ScratchDir string        `mapstructure:"scratch_dir"`
}

// ThumbnailConfig holds thumbnail rendering settings
type ThumbnailConfig struct {
	Width          int  `mapstructure:"width"`
	UseImageMagick bool `mapstructure:"use_imagemagick"`
}

// ClassifierConfig holds the review hint settings. Without an API key only
// the keyword rules are used.
type ClassifierConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerOpenPeriod time.Duration `mapstructure:"breaker_open_period"`
}

// MinIOConfig holds the optional object store mirror settings
type MinIOConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	Bucket          string        `mapstructure:"bucket"`
	BasePath        string        `mapstructure:"base_path"`
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig holds the optional cross-process reservation settings
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LarkConfig holds the optional run notification settings
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	BaseURL       string `mapstructure:"base_url"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
	ReceiveID     string `mapstructure:"receive_id"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"` // node_exporter textfile written by the CLI
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only. A .env file in the
// working directory is read first when present.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v, time.Now())

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper, now time.Time) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", database.DriverSQLite)
	v.SetDefault("database.path", "data/docman.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")

	// Storage defaults
	v.SetDefault("storage.documents_dir", "data/files/Documents")
	v.SetDefault("storage.thumbnails_dir", "data/files/thumbnails")

	// Backlog defaults
	v.SetDefault("backlog.base_dir", "data/share")
	v.SetDefault("backlog.current_year", now.Year())
	v.SetDefault("backlog.archive_year", now.Year()-1)
	v.SetDefault("backlog.policy_path", "configs/policy.yaml")
	v.SetDefault("backlog.logs_dir", "data/logs")
	v.SetDefault("backlog.reservation_ttl", 24*time.Hour)

	// Converter defaults
	v.SetDefault("converter.timeout", 60*time.Second)

	// Thumbnail defaults
	v.SetDefault("thumbnail.width", 300)
	v.SetDefault("thumbnail.use_imagemagick", true)

	// Classifier defaults
	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.temperature", 0.1)
	v.SetDefault("classifier.max_tokens", 200)
	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.requests_per_minute", 30)
	v.SetDefault("classifier.breaker_failures", 3)
	v.SetDefault("classifier.breaker_open_period", time.Minute)

	// MinIO defaults
	v.SetDefault("minio.bucket", "docman")
	v.SetDefault("minio.base_path", "Documents")
	v.SetDefault("minio.queue_size", 100)
	v.SetDefault("minio.workers", 2)
	v.SetDefault("minio.max_retries", 3)
	v.SetDefault("minio.connect_timeout", 30*time.Second)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "docman:reserve:")

	// Lark defaults
	v.SetDefault("lark.receive_id_type", "chat_id")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	v.BindEnv("database.password", "DMS_DB_PASSWORD")
	v.BindEnv("classifier.api_key", "OPENAI_API_KEY")
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	v.BindEnv("minio.access_key_id", "MINIO_ACCESS_KEY")
	v.BindEnv("minio.secret_access_key", "MINIO_SECRET_KEY")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database
	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %s or %s, got %q", database.DriverSQLite, database.DriverPostgres, c.Database.Driver)
	}

	// Validate storage
	if c.Storage.DocumentsDir == "" {
		return fmt.Errorf("storage.documents_dir is required")
	}
	if c.Storage.ThumbnailsDir == "" {
		return fmt.Errorf("storage.thumbnails_dir is required")
	}

	// Validate backlog
	if c.Backlog.BaseDir == "" {
		return fmt.Errorf("backlog.base_dir is required")
	}
	if c.Backlog.LogsDir == "" {
		return fmt.Errorf("backlog.logs_dir is required")
	}
	for _, year := range []int{c.Backlog.CurrentYear, c.Backlog.ArchiveYear} {
		if err := utils.ValidateYear(year); err != nil {
			return fmt.Errorf("backlog.current_year and backlog.archive_year must be four digit years: %w", err)
		}
	}
	if c.Backlog.ArchiveYear == c.Backlog.CurrentYear {
		return fmt.Errorf("backlog.archive_year must differ from backlog.current_year")
	}

	// Validate optional integrations
	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required when minio is enabled")
		}
		if c.MinIO.AccessKeyID == "" || c.MinIO.SecretAccessKey == "" {
			return fmt.Errorf("minio credentials are required when minio is enabled")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Lark.Enabled {
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
		}
		if c.Lark.ReceiveID == "" {
			return fmt.Errorf("lark.receive_id is required when lark is enabled")
		}
	}

	return nil
}

// DatabaseOptions converts the section into database.Config. A password
// supplied separately is injected into a URL style DSN.
func (c *Config) DatabaseOptions() (database.Config, error) {
	dsn := c.Database.DSN
	if c.Database.Driver == database.DriverPostgres && c.Database.Password != "" {
		u, err := url.Parse(dsn)
		if err != nil || u.Scheme == "" {
			return database.Config{}, fmt.Errorf("database.password requires a URL style dsn")
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, c.Database.Password)
		dsn = u.String()
	}

	return database.Config{
		Driver:          c.Database.Driver,
		Path:            c.Database.Path,
		DSN:             dsn,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}, nil
}

// LoggerOptions converts the section into utils.LoggerConfig
func (c *Config) LoggerOptions() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
