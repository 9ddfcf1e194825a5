package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ProfBIT-develop/rqscheduler/jobs"
	"github.com/ProfBIT-develop/rqscheduler/observability"
)

// StoreBackend selects where job records are persisted.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
)

// RegistryBackend selects where delayed-task entries live.
type RegistryBackend string

const (
	RegistryMemory RegistryBackend = "memory"
	RegistryRedis  RegistryBackend = "redis"
)

// AppConfig is the root configuration for the scheduler.
type AppConfig struct {
	// Scheduler configures queues and the daemon's reconciliation pass.
	Scheduler jobs.Config `yaml:"scheduler" json:"scheduler" validate:"required"`

	// Logging configures the structured logger.
	Logging observability.LoggerConfig `yaml:"logging" json:"logging" validate:"required"`

	// Store selects the job record backend.
	Store StoreBackend `yaml:"store" json:"store" validate:"required,oneof=memory postgres"`

	// Registry selects the delayed-task backend.
	Registry RegistryBackend `yaml:"registry" json:"registry" validate:"required,oneof=memory redis"`

	// Postgres configures the job store when Store is postgres.
	Postgres jobs.PostgresStoreConfig `yaml:"postgres" json:"postgres"`

	// Redis configures the task registry when Registry is redis.
	Redis jobs.RedisRegistryConfig `yaml:"redis" json:"redis"`
}

// Default returns the configuration used when no file or overrides apply.
func Default() AppConfig {
	return AppConfig{
		Scheduler: jobs.DefaultConfig(),
		Logging:   observability.DefaultLoggerConfig(),
		Store:     StoreMemory,
		Registry:  RegistryMemory,
	}
}

// Validate checks the configuration, including backend-specific sections.
func (c *AppConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store == StorePostgres && c.Postgres.ConnString == "" {
		return fmt.Errorf("invalid configuration: postgres store selected but conn_string is empty")
	}
	if c.Registry == RegistryRedis && c.Redis.Address == "" {
		return fmt.Errorf("invalid configuration: redis registry selected but address is empty")
	}
	return nil
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides, and validates
// the result.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "RQSCHEDULER"

// applyEnv overlays environment variables onto the configuration.
// Unparseable values are ignored; validation catches the fallout.
func applyEnv(cfg *AppConfig) {
	if v, ok := lookup("SCHEDULER_QUEUES"); ok {
		queues := strings.Split(v, ",")
		for i := range queues {
			queues[i] = strings.TrimSpace(queues[i])
		}
		cfg.Scheduler.Queues = queues
	}
	if d, ok := lookupDuration("SCHEDULER_INTERVAL"); ok {
		cfg.Scheduler.Interval = d
	}
	if d, ok := lookupDuration("SCHEDULER_DEFAULT_TIMEOUT"); ok {
		cfg.Scheduler.DefaultTimeout = d
	}
	if d, ok := lookupDuration("SCHEDULER_DEFAULT_RESULT_TTL"); ok {
		cfg.Scheduler.DefaultResultTTL = d
	}

	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = observability.LogLevel(v)
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.Logging.Format = observability.LogFormat(v)
	}

	if v, ok := lookup("STORE"); ok {
		cfg.Store = StoreBackend(v)
	}
	if v, ok := lookup("REGISTRY"); ok {
		cfg.Registry = RegistryBackend(v)
	}

	if v, ok := lookup("POSTGRES_CONN_STRING"); ok {
		cfg.Postgres.ConnString = v
	}

	if v, ok := lookup("REDIS_ADDRESS"); ok {
		cfg.Redis.Address = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := lookup("REDIS_DATABASE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Database = n
		}
	}
	if v, ok := lookup("REDIS_NAMESPACE"); ok {
		cfg.Redis.Namespace = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + "_" + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupDuration(key string) (time.Duration, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
