package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Response ResponseConfig `mapstructure:"response"`
	Query    QueryConfig    `mapstructure:"query"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	PoolSize    int    `mapstructure:"pool_size"`
	Path        string `mapstructure:"path"` // directory for SQLite database files
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

type ResponseConfig struct {
	Format string `mapstructure:"format"` // activemodel or jsonapi
}

type QueryConfig struct {
	JoinBelongsToColumns bool `mapstructure:"join_belongs_to_columns"`
}

type AuthConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	UsersResource  string `mapstructure:"users_resource"`
	UsernameColumn string `mapstructure:"username_column"`
	PasswordColumn string `mapstructure:"password_column"`
	RolesColumn    string `mapstructure:"roles_column"`
	SeedAdmin      bool   `mapstructure:"seed_admin"`
}

type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	RedisAddr  string `mapstructure:"redis_addr"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		return d.Path + "/" + d.Name + ".db"
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	default:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			d.User, d.Password, d.Host, d.Port, d.Name)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "restkit")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("schema.path", "./schema")
	v.SetDefault("response.format", "activemodel")
	v.SetDefault("query.join_belongs_to_columns", false)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("auth.users_resource", "users")
	v.SetDefault("auth.username_column", "email")
	v.SetDefault("auth.password_column", "password_hash")
	v.SetDefault("auth.roles_column", "roles")
	v.SetDefault("auth.seed_admin", false)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl_seconds", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
}

// Load reads configuration with the precedence env > file > defaults. An empty
// path searches for restkit.yaml in the working directory; a missing file is
// only an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("restkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// RESTKIT_DATABASE_HOST overrides database.host
	v.SetEnvPrefix("RESTKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch c.Response.Format {
	case "activemodel", "jsonapi":
	default:
		return fmt.Errorf("response.format: must be activemodel or jsonapi, got %q", c.Response.Format)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}
