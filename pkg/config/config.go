package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for lumina-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL, the relational backend)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (ephemeral cache tier). Optional: when Host is
	// empty the engine falls back to an in-process cache.
	Redis RedisConfig `yaml:"redis"`

	// Warehouse configuration (analytical backend). Optional: when Path is
	// empty every query resolves to the relational backend.
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Cache TTLs per tier
	Cache CacheConfig `yaml:"cache"`

	// Schedules for background cache maintenance (cron specs, empty disables)
	Schedule ScheduleConfig `yaml:"schedule"`

	// CatalogSeedPath points at a YAML file used to bootstrap the query
	// catalogue when the database is empty. Empty disables seeding.
	CatalogSeedPath string `yaml:"catalog_seed_path" env:"CATALOG_SEED_PATH" env-default:""`

	// AdminToken gates the administrative endpoints (catalogue CRUD, test
	// execution, materialization). When empty those endpoints are disabled.
	AdminToken string `yaml:"-" env:"ADMIN_TOKEN"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"lumina"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"lumina_engine"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// WarehouseConfig holds the analytical warehouse configuration. The engine
// embeds DuckDB; Path is the database file ("" disables the warehouse,
// ":memory:" is accepted for tests and local runs).
type WarehouseConfig struct {
	Path         string        `yaml:"path" env:"WAREHOUSE_PATH" env-default:""`
	Schema       string        `yaml:"schema" env:"WAREHOUSE_SCHEMA" env-default:"analytics"`
	TablesStr    string        `yaml:"tables" env:"WAREHOUSE_TABLES" env-default:"daily_metrics,merchant_rollups,regional_rollups"`
	MaxRetries   int           `yaml:"max_retries" env:"WAREHOUSE_MAX_RETRIES" env-default:"2"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"WAREHOUSE_MAX_OPEN_CONNS" env-default:"4"`
	ConnMaxIdle  time.Duration `yaml:"conn_max_idle" env:"WAREHOUSE_CONN_MAX_IDLE" env-default:"30m"`

	// Tables is the parsed list from TablesStr (not from config file). The
	// backend router treats a query mentioning any of these as analytical.
	Tables []string `yaml:"-"`
}

// Enabled reports whether a warehouse connection is configured.
func (c *WarehouseConfig) Enabled() bool {
	return c.Path != ""
}

// CacheConfig holds the TTLs for each cache namespace.
type CacheConfig struct {
	ResultTTL        time.Duration `yaml:"result_ttl" env:"CACHE_RESULT_TTL" env-default:"24h"`
	FilterOptionsTTL time.Duration `yaml:"filter_options_ttl" env:"CACHE_FILTER_OPTIONS_TTL" env-default:"12h"`
	AdHocTTL         time.Duration `yaml:"adhoc_ttl" env:"CACHE_ADHOC_TTL" env-default:"1h"`
}

// ScheduleConfig holds cron specs for background jobs. Standard five-field
// cron syntax; an empty spec disables the job.
type ScheduleConfig struct {
	Warmup      string `yaml:"warmup" env:"WARMUP_SCHEDULE" env-default:"0 */6 * * *"`
	Materialize string `yaml:"materialize" env:"MATERIALIZE_SCHEDULE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml does not exist (containerized deploys),
// configuration comes from environment variables alone. The version
// parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.parseComplexFields()
	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Warehouse.Tables = parseTableList(c.Warehouse.TablesStr)
}

// parseTableList splits a comma-separated table list, trimming whitespace
// and dropping empty entries.
func parseTableList(value string) []string {
	if value == "" {
		return nil
	}
	var tables []string
	for _, t := range strings.Split(value, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tables = append(tables, t)
		}
	}
	return tables
}

// ConnectionString returns a PostgreSQL connection string. The host is
// rewritten for Docker when the engine runs in a container.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		resolveDockerHost(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port address of the Redis server, with the host
// rewritten for Docker when the engine runs in a container.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", resolveDockerHost(c.Host), c.Port)
}
