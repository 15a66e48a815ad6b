package config

import (
	"time"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/store/badgerstore"
	"github.com/BaSui01/depflow/store/redisstore"
)

// DefaultConfig returns the default configuration: an in-memory store, a
// breaker tripping after five consecutive failures, and a 16 MiB cache.
func DefaultConfig() *Config {
	return &Config{
		Server:         DefaultServerConfig(),
		Store:          DefaultStoreConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Cache:          cache.DefaultConfig(),
		Log:            DefaultLogConfig(),
		Telemetry:      DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:  BackendMemory,
		Badger:   badgerstore.DefaultConfig(),
		Redis:    redisstore.DefaultConfig(),
		Database: DefaultDatabaseConfig(),
	}
}

// DefaultDatabaseConfig returns the default SQL configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "depflow",
		Name:            "depflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		CallTimeout:      2 * time.Second,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "depflow",
		SampleRate:   0.1,
	}
}
