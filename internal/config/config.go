// Package config loads the router's YAML configuration and validates the
// startup invariants that must hold before the router accepts traffic.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the router's top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Route    RouteConfig    `yaml:"route"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Cache    CacheTTLConfig `yaml:"cache"`
}

// ServerConfig is the HTTP server configuration.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is the Redis cache backend configuration.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig controls pkg/logger's output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// RouteConfig drives internal/routing's scoring weights, normalization
// envelopes and coalescing windows.
type RouteConfig struct {
	ExpirationMs       int64           `yaml:"expiration_ms"`
	SlippageToleranceBps int           `yaml:"slippage_tolerance_bps"`
	MaxAlternatives    int             `yaml:"max_alternatives"`
	Weights            WeightsConfig   `yaml:"performance_weights"`
	Envelopes          EnvelopesConfig `yaml:"normalization"`
}

// WeightsConfig mirrors routing.Weights on the wire. Must sum to 1.0.
type WeightsConfig struct {
	Output      float64 `yaml:"output"`
	Fees        float64 `yaml:"fees"`
	GasEstimate float64 `yaml:"gas_estimate"`
	Latency     float64 `yaml:"latency"`
	Reliability float64 `yaml:"reliability"`
}

// EnvelopesConfig mirrors routing.Envelopes on the wire.
type EnvelopesConfig struct {
	OutputAmount  float64 `yaml:"output_amount"`
	FeeSaturation float64 `yaml:"fee_saturation"`
	GasEstimate   float64 `yaml:"gas_estimate"`
	LatencyMs     float64 `yaml:"latency_ms"`
}

// BreakerConfig mirrors breaker.Config on the wire.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// AdaptersConfig holds per-provider adapter wiring.
type AdaptersConfig struct {
	Jupiter AdapterEndpointConfig `yaml:"jupiter"`
	OKX     SignedAdapterConfig   `yaml:"okx"`
}

// AdapterEndpointConfig is shared by every unauthenticated adapter.
type AdapterEndpointConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
}

// SignedAdapterConfig additionally carries the HMAC credentials a
// signed adapter needs.
type SignedAdapterConfig struct {
	AdapterEndpointConfig `yaml:",inline"`
	APIKey                string `yaml:"api_key"`
	SecretKey             string `yaml:"secret_key"`
	Passphrase            string `yaml:"passphrase"`
}

// CacheTTLConfig holds the coalescer's layered TTLs.
type CacheTTLConfig struct {
	ProviderQuoteTTL time.Duration `yaml:"provider_quote_ttl"`
}

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// weightSumTolerance absorbs YAML float round-off; the invariant is that
// the vector sums to 1.0, not that it does so to the last bit.
const weightSumTolerance = 1e-6

// Validate enforces the startup invariants that must hold before the
// router accepts traffic: the weight vector must sum to 1.0, every
// normalization envelope must be positive (a zero or negative envelope
// would make Score divide by zero or invert the monotonicity invariant),
// the slippage tolerance must be in [1, 10000] bps, and both breaker
// thresholds must be positive.
func (c *Config) Validate() error {
	w := c.Route.Weights
	sum := w.Output + w.Fees + w.GasEstimate + w.Latency + w.Reliability
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("route.performance_weights must sum to 1.0, got %f", sum)
	}

	e := c.Route.Envelopes
	if e.OutputAmount <= 0 || e.FeeSaturation <= 0 || e.GasEstimate <= 0 || e.LatencyMs <= 0 {
		return fmt.Errorf("route.normalization envelopes must all be positive")
	}

	if c.Route.SlippageToleranceBps < 1 || c.Route.SlippageToleranceBps > 10000 {
		return fmt.Errorf("route.slippage_tolerance_bps must be in [1, 10000], got %d", c.Route.SlippageToleranceBps)
	}

	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker thresholds must be positive")
	}

	return nil
}
