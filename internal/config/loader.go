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
const DefaultConfigFile = "maestro.yaml"

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
	setString(&cfg.Server.Port, "MAESTRO_PORT")
	setString(&cfg.Server.CORSOrigin, "MAESTRO_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MAESTRO_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MAESTRO_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MAESTRO_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MAESTRO_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MAESTRO_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "MAESTRO_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MAESTRO_LOG_SERVICE")

	setString(&cfg.Worker.Token, "MAESTRO_WORKER_TOKEN")
	setDuration(&cfg.Worker.HelloTimeout, "MAESTRO_WORKER_HELLO_TIMEOUT")
	setDuration(&cfg.Worker.HeartbeatInterval, "MAESTRO_WORKER_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Worker.HeartbeatTimeout, "MAESTRO_WORKER_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Worker.ShutdownGrace, "MAESTRO_WORKER_SHUTDOWN_GRACE")

	setDuration(&cfg.Dispatch.DefaultTimeout, "MAESTRO_DISPATCH_TIMEOUT")
	setInt64(&cfg.Dispatch.MaxOutputBytes, "MAESTRO_DISPATCH_MAX_OUTPUT_BYTES")
	setDuration(&cfg.Dispatch.Retention, "MAESTRO_DISPATCH_RETENTION")
	setDuration(&cfg.Dispatch.SweepInterval, "MAESTRO_DISPATCH_SWEEP_INTERVAL")

	setDuration(&cfg.Ticks.Event, "MAESTRO_EVENT_TICK_INTERVAL")
	setDuration(&cfg.Ticks.Trigger, "MAESTRO_TRIGGER_TICK_INTERVAL")

	setString(&cfg.OAuth.TokenURL, "MAESTRO_OAUTH_TOKEN_URL")
	setString(&cfg.OAuth.ClientID, "MAESTRO_OAUTH_CLIENT_ID")
	setDuration(&cfg.OAuth.RefreshMargin, "MAESTRO_OAUTH_REFRESH_MARGIN")
	setDuration(&cfg.OAuth.WarmInterval, "MAESTRO_OAUTH_WARM_INTERVAL")

	setString(&cfg.Auth.APIKeyHash, "MAESTRO_API_KEY_HASH")
	setString(&cfg.MasterKey, "MAESTRO_MASTER_KEY")
	setString(&cfg.BearerToken, "MAESTRO_BEARER_TOKEN")

	setString(&cfg.Telemetry.OTLPEndpoint, "MAESTRO_OTLP_ENDPOINT")
	setDuration(&cfg.Telemetry.Interval, "MAESTRO_OTLP_INTERVAL")

	setInt64(&cfg.Cache.MaxSizeMB, "MAESTRO_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "MAESTRO_CACHE_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Worker.Token == "" {
		return errors.New("worker.token is required")
	}
	if cfg.MasterKey == "" {
		return errors.New("master_key is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Worker.HeartbeatTimeout <= cfg.Worker.HeartbeatInterval {
		return errors.New("worker.heartbeat_timeout must exceed worker.heartbeat_interval")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
