// Package config loads backbone configuration from the environment and from
// the static services directory in config/services.yaml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process configuration for the gateway and worker binaries.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Registry RegistryConfig
	EventLog EventLogConfig
	Breaker  BreakerConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig configures the optional durable event store. When DSN is
// empty the in-memory store is used.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// GatewayConfig tunes the router pipeline.
type GatewayConfig struct {
	// RequestTimeout bounds all six pipeline steps per request.
	RequestTimeout time.Duration

	// Caller-identity quota.
	CallerLimit  int
	CallerWindow time.Duration

	// Destination-service quota.
	ServiceLimit  int
	ServiceWindow time.Duration

	// SelectionPolicy is round-robin, random, or lru.
	SelectionPolicy string

	// BurstGuard enables the transport-level per-client token bucket in
	// front of the quota checks.
	BurstGuardEnabled bool
	BurstGuardRPS     int
	BurstGuardSize    int
}

// RegistryConfig tunes instance liveness.
type RegistryConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
}

// EventLogConfig tunes the log.
type EventLogConfig struct {
	Namespace         string
	Partitions        int
	VisibilityTimeout time.Duration
}

// BreakerConfig is the default breaker tuning; services.yaml may override
// per service.
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Load reads configuration from the environment, applying defaults for
// everything unset. cmd binaries load .env beforehand via godotenv.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            envStr("SERVER_HOST", "0.0.0.0"),
			Port:            envInt("SERVER_PORT", 8080),
			ReadTimeout:     envDur("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    envDur("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDur("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Driver: envStr("DATABASE_DRIVER", "postgres"),
			DSN:    envStr("DATABASE_DSN", ""),
		},
		Gateway: GatewayConfig{
			RequestTimeout:    envDur("GATEWAY_REQUEST_TIMEOUT", 5*time.Second),
			CallerLimit:       envInt("GATEWAY_CALLER_LIMIT", 200),
			CallerWindow:      envDur("GATEWAY_CALLER_WINDOW", time.Minute),
			ServiceLimit:      envInt("GATEWAY_SERVICE_LIMIT", 1000),
			ServiceWindow:     envDur("GATEWAY_SERVICE_WINDOW", time.Minute),
			SelectionPolicy:   envStr("GATEWAY_SELECTION_POLICY", "round-robin"),
			BurstGuardEnabled: envBool("GATEWAY_BURST_GUARD", false),
			BurstGuardRPS:     envInt("GATEWAY_BURST_GUARD_RPS", 50),
			BurstGuardSize:    envInt("GATEWAY_BURST_GUARD_SIZE", 100),
		},
		Registry: RegistryConfig{
			HeartbeatInterval: envDur("REGISTRY_HEARTBEAT_INTERVAL", 5*time.Second),
			HeartbeatTimeout:  envDur("REGISTRY_HEARTBEAT_TIMEOUT", 0),
			SweepInterval:     envDur("REGISTRY_SWEEP_INTERVAL", 0),
		},
		EventLog: EventLogConfig{
			Namespace:         envStr("EVENTLOG_NAMESPACE", "astra"),
			Partitions:        envInt("EVENTLOG_PARTITIONS", 8),
			VisibilityTimeout: envDur("EVENTLOG_VISIBILITY_TIMEOUT", 30*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			OpenTimeout:      envDur("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT %d", cfg.Server.Port)
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_REQUEST_TIMEOUT must be positive")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
