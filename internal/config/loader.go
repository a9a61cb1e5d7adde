package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "launchforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LAUNCHFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "LAUNCHFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "LAUNCHFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "LAUNCHFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "LAUNCHFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "LAUNCHFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "LAUNCHFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Chain.RPCURL, "LAUNCHFORGE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LAUNCHFORGE_CHAIN_ID")
	setString(&cfg.Chain.TokenFactory, "LAUNCHFORGE_TOKEN_FACTORY")
	setString(&cfg.Chain.PoolFactory, "LAUNCHFORGE_POOL_FACTORY")
	setString(&cfg.Chain.TokenInitCodeHash, "LAUNCHFORGE_TOKEN_INIT_CODE_HASH")
	setString(&cfg.Chain.PoolInitCodeHash, "LAUNCHFORGE_POOL_INIT_CODE_HASH")
	setUint64(&cfg.Chain.GasLimit, "LAUNCHFORGE_CHAIN_GAS_LIMIT")
	setString(&cfg.Logging.Level, "LAUNCHFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LAUNCHFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LAUNCHFORGE_LOG_ASYNC")
	setDuration(&cfg.Lock.TTL, "LAUNCHFORGE_LOCK_TTL")
	setInt(&cfg.Confirm.MaxAttempts, "LAUNCHFORGE_CONFIRM_MAX_ATTEMPTS")
	setDuration(&cfg.Confirm.AttemptTimeout, "LAUNCHFORGE_CONFIRM_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Confirm.BackoffBase, "LAUNCHFORGE_CONFIRM_BACKOFF_BASE")
	setDuration(&cfg.Confirm.BackoffMax, "LAUNCHFORGE_CONFIRM_BACKOFF_MAX")
	setInt(&cfg.Breaker.MaxFailures, "LAUNCHFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LAUNCHFORGE_BREAKER_TIMEOUT")
	setInt(&cfg.Invocation.FailureThreshold, "LAUNCHFORGE_INVOCATION_FAILURE_THRESHOLD")
	setInt64(&cfg.Cache.MaxSizeMB, "LAUNCHFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "LAUNCHFORGE_CACHE_TTL")
	setString(&cfg.Cache.SharedBucket, "LAUNCHFORGE_CACHE_SHARED_BUCKET")
	setBool(&cfg.Otel.Enabled, "LAUNCHFORGE_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "LAUNCHFORGE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Lock.TTL <= 0 {
		return errors.New("lock.ttl must be positive")
	}
	if cfg.Confirm.MaxAttempts < 1 {
		return errors.New("confirm.max_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Invocation.FailureThreshold < 1 {
		return errors.New("invocation.failure_threshold must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
