package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// SchemaConfig names the shared schema and the tenant template schema
type SchemaConfig struct {
	Shared string
	Tenant string
}

// PaginationConfig holds the list endpoint limits
type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// RedisConfig holds Redis connection settings for the job queue
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Queue    string
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey    string
	ExpireMinutes int
}

// DefaultJWTSecret is the development signing key. It is refused outside
// development.
const DefaultJWTSecret = "bookshelfsecretkey"

// AdminConfig lists the login identifiers allowed on the admin routes
type AdminConfig struct {
	Identifiers []string
}

// MaintenanceConfig holds the initial maintenance state and where it is kept
type MaintenanceConfig struct {
	Enabled bool
	Backend string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
	File  string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Schema      SchemaConfig
	Pagination  PaginationConfig
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Admin       AdminConfig
	Maintenance MaintenanceConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Load reads configuration from the environment once. A .env file is
// loaded first when present.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		ServiceName: "bookshelf-service",
		DB: DBConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSL_MODE"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			LogLevel:        parseLogLevel(v.GetString("DB_LOG_LEVEL"), logger.Warn),
		},
		Schema: SchemaConfig{
			Shared: v.GetString("SHARED_SCHEMA_NAME"),
			Tenant: v.GetString("TENANT_SCHEMA_NAME"),
		},
		Pagination: PaginationConfig{
			DefaultLimit: v.GetInt("GET_ITEM_COUNT_DEFAULT"),
			MaxLimit:     v.GetInt("GET_ITEM_COUNT_MAX"),
		},
		Server: ServerConfig{
			Port: v.GetString("SERVER_PORT"),
			Env:  v.GetString("APP_ENV"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Queue:    v.GetString("QUEUE_NAME"),
		},
		JWT: JWTConfig{
			SigningKey:    v.GetString("JWT_SECRET_KEY"),
			ExpireMinutes: v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES"),
		},
		Admin: AdminConfig{
			Identifiers: splitList(v.GetString("ADMIN_IDENTIFIERS")),
		},
		Maintenance: MaintenanceConfig{
			Enabled: v.GetBool("MAINTENANCE_MODE"),
			Backend: v.GetString("MAINTENANCE_BACKEND"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
		Metrics: MetricsConfig{
			Prefix: v.GetString("METRICS_PREFIX"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVER_PORT", "8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "bookshelf")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DB_LOG_LEVEL", "warn")

	v.SetDefault("SHARED_SCHEMA_NAME", "shared")
	v.SetDefault("TENANT_SCHEMA_NAME", "tenant")

	v.SetDefault("GET_ITEM_COUNT_DEFAULT", 100)
	v.SetDefault("GET_ITEM_COUNT_MAX", 200)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 1)
	v.SetDefault("QUEUE_NAME", "bookshelf:jobs")

	v.SetDefault("JWT_SECRET_KEY", DefaultJWTSecret)
	v.SetDefault("ADMIN_IDENTIFIERS", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)

	v.SetDefault("MAINTENANCE_MODE", false)
	v.SetDefault("MAINTENANCE_BACKEND", "static")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("METRICS_PREFIX", "bookshelf")
}

// Validate checks values that would otherwise fail late at request time.
func (c *Config) Validate() error {
	if c.Pagination.MaxLimit < 1 {
		return errors.New("GET_ITEM_COUNT_MAX must be at least 1")
	}
	if c.Pagination.DefaultLimit < 1 || c.Pagination.DefaultLimit > c.Pagination.MaxLimit {
		return fmt.Errorf("GET_ITEM_COUNT_DEFAULT must be between 1 and %d", c.Pagination.MaxLimit)
	}
	if !identifierPattern.MatchString(c.Schema.Shared) {
		return fmt.Errorf("invalid shared schema name %q", c.Schema.Shared)
	}
	if !identifierPattern.MatchString(c.Schema.Tenant) {
		return fmt.Errorf("invalid tenant schema name %q", c.Schema.Tenant)
	}
	if c.Schema.Shared == c.Schema.Tenant {
		return errors.New("shared and tenant schema names must differ")
	}
	if c.JWT.SigningKey == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	if c.JWT.SigningKey == DefaultJWTSecret && c.Server.Env != "development" {
		return fmt.Errorf("JWT_SECRET_KEY must be set when APP_ENV is %q", c.Server.Env)
	}
	if c.JWT.ExpireMinutes < 1 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	switch c.Maintenance.Backend {
	case "static", "redis":
	default:
		return fmt.Errorf("unknown MAINTENANCE_BACKEND %q", c.Maintenance.Backend)
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("shared_schema", c.Schema.Shared),
		zap.String("tenant_schema", c.Schema.Tenant),
		zap.String("redis_addr", c.Redis.Addr()),
		zap.String("server_port", c.Server.Port),
		zap.Int("admins", len(c.Admin.Identifiers)),
	}
}

// splitList parses a comma separated list, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLogLevel maps DB_LOG_LEVEL onto gorm's logger levels
func parseLogLevel(value string, defaultValue logger.LogLevel) logger.LogLevel {
	switch value {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
