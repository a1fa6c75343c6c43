package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for runnerd
type Config struct {
	// Server configuration
	HTTPPort int    `env:"RUNNERD_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"RUNNERD_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Ledger node and transaction settings
	Ledger LedgerConfig

	// Signing account
	Account AccountConfig

	// Artifact storage for compiled services
	Artifact ArtifactConfig

	// Execution backend
	Provider ProviderConfig

	// Definition resolution
	Resolver ResolverConfig

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig

	// TeardownRemoveServices also deletes the services a deployment created.
	TeardownRemoveServices bool `env:"TEARDOWN_REMOVE_SERVICES" envDefault:"false"`
}

// LedgerConfig holds the LCD endpoint and fee settings
type LedgerConfig struct {
	Endpoint       string        `env:"LEDGER_ENDPOINT" envDefault:"http://localhost:1317"`
	ChainID        string        `env:"LEDGER_CHAIN_ID"`
	Bech32Prefix   string        `env:"LEDGER_BECH32_PREFIX" envDefault:"mesgtest"`
	RequestTimeout time.Duration `env:"LEDGER_REQUEST_TIMEOUT" envDefault:"30s"`

	GasPerMsg     uint64  `env:"LEDGER_GAS_PER_MSG" envDefault:"200000"`
	GasAdjustment float64 `env:"LEDGER_GAS_ADJUSTMENT" envDefault:"1.0"`
	GasPrice      float64 `env:"LEDGER_GAS_PRICE" envDefault:"0"`
	FeeDenom      string  `env:"LEDGER_FEE_DENOM" envDefault:"atto"`
	Memo          string  `env:"LEDGER_MEMO"`
}

// AccountConfig holds the signing identity
type AccountConfig struct {
	Mnemonic string `env:"ACCOUNT_MNEMONIC"`
	HDPath   string `env:"ACCOUNT_HD_PATH" envDefault:"m/44'/470'/0'/0/0"`
}

// ArtifactConfig holds the IPFS API configuration
type ArtifactConfig struct {
	Endpoint string        `env:"ARTIFACT_ENDPOINT" envDefault:"http://localhost:5001"`
	Timeout  time.Duration `env:"ARTIFACT_TIMEOUT" envDefault:"60s"`
}

// ProviderConfig holds the execution backend configuration
type ProviderConfig struct {
	Endpoint string        `env:"PROVIDER_ENDPOINT" envDefault:"http://localhost:8081"`
	Timeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"60s"`
}

// ResolverConfig holds definition resolution settings
type ResolverConfig struct {
	MaxDepth int    `env:"RESOLVER_MAX_DEPTH" envDefault:"16"`
	BuildDir string `env:"RESOLVER_BUILD_DIR" envDefault:"."`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// DeploymentTTL expires deployment records; zero keeps them forever.
	DeploymentTTL time.Duration `env:"REDIS_DEPLOYMENT_TTL" envDefault:"168h"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"2"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	BroadcastBlock  time.Duration `env:"TIMEOUT_BROADCAST_BLOCK" envDefault:"60s"`
	Deployment      time.Duration `env:"TIMEOUT_DEPLOYMENT" envDefault:"1800s"` // 30 minutes
	Teardown        time.Duration `env:"TIMEOUT_TEARDOWN" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required")
	}
	if c.Ledger.Bech32Prefix == "" {
		return fmt.Errorf("bech32 prefix is required")
	}
	if c.Ledger.GasAdjustment <= 0 {
		return fmt.Errorf("gas adjustment must be positive: %v", c.Ledger.GasAdjustment)
	}
	if c.Ledger.GasPrice < 0 {
		return fmt.Errorf("gas price cannot be negative: %v", c.Ledger.GasPrice)
	}

	if c.Resolver.MaxDepth < 1 {
		return fmt.Errorf("resolver max depth must be at least 1")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	if c.Timeouts.BroadcastBlock <= 0 {
		return fmt.Errorf("block broadcast timeout must be positive")
	}
	if c.Timeouts.Deployment <= 0 {
		return fmt.Errorf("deployment timeout must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// RequireMnemonic fails when no signing account is configured. Only the
// commands that sign need it.
func (c *Config) RequireMnemonic() error {
	if c.Account.Mnemonic == "" {
		return fmt.Errorf("ACCOUNT_MNEMONIC is required")
	}
	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
