package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoshuaRamirez/ACS-sub000/internal/envutil"
)

// Config holds all tenant process configuration
type Config struct {
	Tenant    TenantConfig    `yaml:"tenant"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TenantConfig identifies the tenant this process serves
type TenantConfig struct {
	ID string `yaml:"id" env:"TENANT_ID"`
}

// DatabaseConfig holds relational store configuration
type DatabaseConfig struct {
	Type      string          `yaml:"type" env:"DATABASE_TYPE"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	SQLServer SQLServerConfig `yaml:"sqlserver"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`
	Port     string `yaml:"port" env:"MYSQL_PORT"`
	User     string `yaml:"user" env:"MYSQL_USER"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"MYSQL_DATABASE"`
}

// SQLServerConfig holds SQL Server configuration
type SQLServerConfig struct {
	Host     string `yaml:"host" env:"SQLSERVER_HOST"`
	Port     string `yaml:"port" env:"SQLSERVER_PORT"`
	User     string `yaml:"user" env:"SQLSERVER_USER"`
	Password string `yaml:"password" env:"SQLSERVER_PASSWORD"`
	Database string `yaml:"database" env:"SQLSERVER_DATABASE"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// RedisConfig holds entity cache configuration
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// EngineConfig holds command pipeline tuning
type EngineConfig struct {
	ChannelCapacity      int           `yaml:"channel_capacity" env:"ENGINE_CHANNEL_CAPACITY"`
	RetryMaxAttempts     int           `yaml:"retry_max_attempts" env:"ENGINE_RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay" env:"ENGINE_RETRY_BASE_DELAY"`
	PersistTimeout       time.Duration `yaml:"persist_timeout" env:"ENGINE_PERSIST_TIMEOUT"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" env:"ENGINE_SHUTDOWN_TIMEOUT"`
	DLQDrainInterval     time.Duration `yaml:"dlq_drain_interval" env:"ENGINE_DLQ_DRAIN_INTERVAL"`
	DLQAbandonThreshold  int           `yaml:"dlq_abandon_threshold" env:"ENGINE_DLQ_ABANDON_THRESHOLD"`
	SlowCommandThreshold time.Duration `yaml:"slow_command_threshold" env:"ENGINE_SLOW_COMMAND_THRESHOLD"`
}

// ArchiveConfig holds archive output configuration
type ArchiveConfig struct {
	RootPath string `yaml:"root_path" env:"ARCHIVE_ROOT_PATH"`
	Compress bool   `yaml:"compress" env:"ARCHIVE_COMPRESS"`
}

// DashboardConfig holds the optional console dashboard configuration
type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled" env:"DASHBOARD_ENABLED"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"DASHBOARD_REFRESH_INTERVAL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOG_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOG_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOG_ALSO_CONSOLE"`
}

// Load loads configuration from an optional YAML file, then applies
// environment variable overrides on top of the defaults.
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Tenant: TenantConfig{
			ID: "default",
		},
		Database: DatabaseConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "acs",
				Database: "acs",
				SSLMode:  "disable",
			},
			SQLite: SQLiteConfig{
				Path: "acs.db",
			},
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
			DB:   0,
		},
		Engine: EngineConfig{
			ChannelCapacity:      1000,
			RetryMaxAttempts:     3,
			RetryBaseDelay:       2 * time.Second,
			PersistTimeout:       10 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			DLQDrainInterval:     time.Minute,
			DLQAbandonThreshold:  10,
			SlowCommandThreshold: time.Second,
		},
		Archive: ArchiveConfig{
			RootPath: "archives",
			Compress: true,
		},
		Dashboard: DashboardConfig{
			Enabled:         false,
			RefreshInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "info",
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := envutil.Get(envTag, "")
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tenant.ID) == "" {
		return fmt.Errorf("tenant id must not be empty")
	}

	switch c.Database.Type {
	case "postgres", "mysql", "sqlserver", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Engine.ChannelCapacity <= 0 {
		return fmt.Errorf("engine channel capacity must be positive, got %d", c.Engine.ChannelCapacity)
	}
	if c.Engine.RetryMaxAttempts <= 0 {
		return fmt.Errorf("engine retry max attempts must be positive, got %d", c.Engine.RetryMaxAttempts)
	}
	if c.Engine.RetryBaseDelay <= 0 {
		return fmt.Errorf("engine retry base delay must be positive, got %v", c.Engine.RetryBaseDelay)
	}
	if c.Dashboard.Enabled && c.Dashboard.RefreshInterval <= 0 {
		return fmt.Errorf("dashboard refresh interval must be positive when dashboard is enabled")
	}

	return nil
}
