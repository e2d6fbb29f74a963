// =============================================================================
// llm-router default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns the baseline configuration before any YAML file or
// environment variable overlay is applied.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Health:    DefaultHealthConfig(),
		Log:       DefaultLogConfig(),
		Data:      DataConfig{},
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		UpstreamTimeout: 10 * time.Minute,
		ProbeTimeout:    5 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultAuthConfig returns the default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AdminUsername: "admin",
		Disabled:      false,
	}
}

// DefaultHealthConfig returns the default health monitor configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckIntervalSecs: 30,
		NodeTimeoutSecs:   60,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:         "info",
		Dir:           "",
		RetentionDays: 7,
	}
}

// DefaultDatabaseConfig returns the default relational store configuration.
// The router defaults to an embedded sqlite file under the data directory;
// postgres/mysql are opt-in via Database.Driver.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default (disabled) distributed cache configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultTelemetryConfig returns the default (disabled) telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llm-router",
		SampleRate:   0.1,
	}
}
