package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the contract ledger service
type Config struct {
	Server ServerConfig
	App    AppConfig
	Redis  RedisConfig
	NATS   NATSConfig
	Tenant TenantConfig
	Pool   PoolConfig
	Ledger LedgerConfig
	Sweep  SweepConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string
	LogLevel    string
}

// RedisConfig holds Redis configuration for the tenant cache
type RedisConfig struct {
	URL          string
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// NATSConfig holds NATS configuration for contract event streaming
type NATSConfig struct {
	URL           string
	Enabled       bool
	MaxReconnects int
	ReconnectWait int // In seconds
}

// TenantConfig holds tenant registry configuration
type TenantConfig struct {
	RegistryURL   string
	EncryptionKey string // Base64 encoded AES-256 key
	CacheTTL      int    // In seconds
}

// PoolConfig holds tenant connection pool configuration
type PoolConfig struct {
	MaxDBPools      int
	CleanupInterval int // In seconds
	HealthInterval  int // In seconds
	IdleTimeout     int // In seconds
	AutoMigrate     bool
}

// LedgerConfig bounds ledger operations
type LedgerConfig struct {
	OperationTimeout   int // In seconds, per public operation
	TenantSweepTimeout int // In seconds, per tenant within a cross-tenant sweep
}

// SweepConfig holds delinquency sweep trigger configuration
type SweepConfig struct {
	CronSecret      string // Shared secret expected in X-Cron-Secret; empty rejects every call
	ScheduleEnabled bool   // Run the cross-tenant sweep in-process
	Schedule        string // Cron expression for the in-process sweep
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://nats.nats.svc.cluster.local:4222"),
			Enabled:       getEnvAsBool("NATS_ENABLED", true),
			MaxReconnects: getEnvAsInt("NATS_MAX_RECONNECTS", -1),
			ReconnectWait: getEnvAsInt("NATS_RECONNECT_WAIT", 2),
		},
		Tenant: TenantConfig{
			RegistryURL:   getEnv("TENANT_REGISTRY_URL", "http://tenant-service:8080"),
			EncryptionKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
			CacheTTL:      getEnvAsInt("TENANT_CACHE_TTL", 300),
		},
		Pool: PoolConfig{
			MaxDBPools:      getEnvAsInt("MAX_DB_POOLS", 100),
			CleanupInterval: getEnvAsInt("POOL_CLEANUP_INTERVAL", 300),
			HealthInterval:  getEnvAsInt("POOL_HEALTH_INTERVAL", 30),
			IdleTimeout:     getEnvAsInt("POOL_IDLE_TIMEOUT", 600),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Ledger: LedgerConfig{
			OperationTimeout:   getEnvAsInt("LEDGER_OPERATION_TIMEOUT", 30),
			TenantSweepTimeout: getEnvAsInt("LEDGER_TENANT_SWEEP_TIMEOUT", 60),
		},
		Sweep: SweepConfig{
			CronSecret:      getEnv("CRON_SECRET", ""),
			ScheduleEnabled: getEnvAsBool("SWEEP_SCHEDULE_ENABLED", false),
			Schedule:        getEnv("SWEEP_SCHEDULE", "0 1 * * *"), // 1 AM daily
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.Ledger.OperationTimeout <= 0 {
		return fmt.Errorf("LEDGER_OPERATION_TIMEOUT must be positive")
	}
	if c.Ledger.TenantSweepTimeout <= 0 {
		return fmt.Errorf("LEDGER_TENANT_SWEEP_TIMEOUT must be positive")
	}
	if c.Sweep.ScheduleEnabled && strings.TrimSpace(c.Sweep.Schedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required when SWEEP_SCHEDULE_ENABLED is set")
	}
	return nil
}

// GetServerAddress returns the server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OperationTimeout returns the bound on one ledger operation
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.Ledger.OperationTimeout) * time.Second
}

// TenantSweepTimeout returns the bound on one tenant's delinquency sweep
func (c *Config) TenantSweepTimeout() time.Duration {
	return time.Duration(c.Ledger.TenantSweepTimeout) * time.Second
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.App.Environment) == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.App.Environment) == "development"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
