package config

import (
	"fmt"
	"os"
	"time"

	"github.com/thanos-io/thanos/pkg/tracing/otlp"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	Connector ConnectorConfig `yaml:"connector,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Probe     ProbeConfig     `yaml:"probe,omitempty"`
	Tracing   *otlp.Config    `yaml:"tracing,omitempty"`
	CORS      CORSConfig      `yaml:"cors,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`

	MemoryLimit MemoryLimitConfig `yaml:"memory_limit,omitempty"`
}

type DatabaseConfig struct {
	Provider   string           `yaml:"provider,omitempty"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql,omitempty"`
	SQLite     SQLiteConfig     `yaml:"sqlite,omitempty"`
}

type ServerConfig struct {
	InsecureListenAddress string        `yaml:"insecure_listen_address,omitempty"`
	ReadHeaderTimeout     time.Duration `yaml:"read_header_timeout,omitempty"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout,omitempty"`
}

type PostgreSQLConfig struct {
	Addr            string        `yaml:"addr,omitempty"`
	Database        string        `yaml:"database,omitempty"`
	DialTimeout     time.Duration `yaml:"dial_timeout,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	SSLMode         string        `yaml:"sslmode,omitempty"`
	User            string        `yaml:"user,omitempty"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

type SQLiteConfig struct {
	DatabasePath string `yaml:"database_path,omitempty"`
}

// EngineConfig tunes metric assembly.
type EngineConfig struct {
	// Timezone names the location used to turn "now" and epoch millis into
	// calendar dates. Empty means the process' local time zone.
	Timezone       string        `yaml:"timezone,omitempty"`
	MaxConcurrency int           `yaml:"max_concurrency,omitempty"`
	RankLimit      int           `yaml:"rank_limit,omitempty"`
	ListTopN       int           `yaml:"list_top_n,omitempty"`
	DetailTopN     int           `yaml:"detail_top_n,omitempty"`
	QueryTimeout   time.Duration `yaml:"query_timeout,omitempty"`
}

// Location resolves Timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid engine timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

const (
	ConnectorModeEphemeral = "ephemeral"
	ConnectorModePooled    = "pooled"
)

type ConnectorConfig struct {
	Mode            string        `yaml:"mode,omitempty"`
	DialTimeout     time.Duration `yaml:"dial_timeout,omitempty"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type CacheConfig struct {
	Enabled bool          `yaml:"enabled,omitempty"`
	Backend string        `yaml:"backend,omitempty"`
	Size    int           `yaml:"size,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
	Redis   RedisConfig   `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addrs     []string `yaml:"addrs,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	DB        int      `yaml:"db,omitempty"`
	KeyPrefix string   `yaml:"key_prefix,omitempty"`
}

type ProbeConfig struct {
	Enabled    bool          `yaml:"enabled,omitempty"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	RunTimeout time.Duration `yaml:"run_timeout,omitempty"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials,omitempty"`
	MaxAge           int      `yaml:"max_age,omitempty"`
}

type MemoryLimitConfig struct {
	Enabled         bool          `yaml:"enabled,omitempty"`
	Ratio           float64       `yaml:"ratio,omitempty"`
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

var DefaultConfig = &Config{
	CORS: CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	},
	Engine: EngineConfig{
		MaxConcurrency: 8,
		RankLimit:      10,
		ListTopN:       30,
		DetailTopN:     10,
	},
	Connector: ConnectorConfig{
		Mode:        ConnectorModeEphemeral,
		DialTimeout: 5 * time.Second,
	},
	Cache: CacheConfig{
		Enabled: true,
		Backend: CacheBackendMemory,
		Size:    100,
		TTL:     10 * time.Minute,
		Redis: RedisConfig{
			KeyPrefix: "metric-engine:",
		},
	},
	Probe: ProbeConfig{
		Interval:   time.Minute,
		RunTimeout: 30 * time.Second,
	},
	Log: LogConfig{
		Level:  "info",
		Format: "text",
	},
	MemoryLimit: MemoryLimitConfig{
		Enabled: true,
		Ratio:   0.9,
	},
}

func LoadConfig(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(f, DefaultConfig)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

func (c *Config) IsTracingEnabled() bool {
	if c == nil {
		return false
	}
	return c.Tracing != nil
}

func (c *Config) GetTracingServiceName() string {
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		if c == nil || c.Tracing == nil {
			return ""
		}
		return c.Tracing.ServiceName
	}
	return serviceName
}

// GetSanitizedConfig returns a copy of the configuration without credentials.
func (c *Config) GetSanitizedConfig() *Config {
	out := *c
	out.Database.PostgreSQL.User = ""
	out.Database.PostgreSQL.Password = ""
	out.Cache.Redis.Username = ""
	out.Cache.Redis.Password = ""
	if c.Database.Provider == "postgresql" {
		out.Database.SQLite.DatabasePath = ""
	}
	return &out
}
