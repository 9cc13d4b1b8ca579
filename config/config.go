// Package config loads service settings from the environment and an optional
// env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
)

// Config holds all configuration for basedlinkd.
type Config struct {
	Network          string        `mapstructure:"NETWORK" validate:"required,oneof=base base-sepolia"`
	RPCUrl           string        `mapstructure:"RPC_URL" validate:"omitempty,url"`
	RPCAPIKey        string        `mapstructure:"RPC_API_KEY"`
	RPCTimeout       time.Duration `mapstructure:"RPC_TIMEOUT" validate:"gt=0"`
	USDCContract     string        `mapstructure:"USDC_CONTRACT" validate:"omitempty,evmaddress"`
	MinConfirmations uint64        `mapstructure:"MIN_CONFIRMATIONS"`
	VerifyTimeout    time.Duration `mapstructure:"VERIFY_TIMEOUT" validate:"gt=0"`
	BreakerFailures  uint32        `mapstructure:"BREAKER_FAILURES" validate:"gte=1"`
	BreakerCooldown  time.Duration `mapstructure:"BREAKER_COOLDOWN" validate:"gt=0"`

	DatabasePath string `mapstructure:"DATABASE_PATH" validate:"required"`

	ServerPort      string   `mapstructure:"SERVER_PORT" validate:"required,numeric"`
	JWTSecret       string   `mapstructure:"JWT_SECRET" validate:"omitempty,min=32"`
	JWTIssuer       string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	RateLimitPerMin int      `mapstructure:"RATE_LIMIT_PER_MIN" validate:"gte=0"`
	MetricsEnabled  bool     `mapstructure:"METRICS_ENABLED"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=json console"`

	ReconcileSchedule  string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileBatchSize int    `mapstructure:"RECONCILE_BATCH_SIZE" validate:"gte=1,lte=1000"`

	AMQPURL string `mapstructure:"AMQP_URL"`
}

var keys = []string{
	"NETWORK", "RPC_URL", "RPC_API_KEY", "RPC_TIMEOUT", "USDC_CONTRACT", "MIN_CONFIRMATIONS",
	"VERIFY_TIMEOUT", "BREAKER_FAILURES", "BREAKER_COOLDOWN", "DATABASE_PATH", "SERVER_PORT",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS", "RATE_LIMIT_PER_MIN", "METRICS_ENABLED",
	"LOG_LEVEL", "LOG_FORMAT", "RECONCILE_SCHEDULE", "RECONCILE_BATCH_SIZE", "AMQP_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NETWORK", string(types.NetworkBase))
	v.SetDefault("RPC_TIMEOUT", "10s")
	v.SetDefault("MIN_CONFIRMATIONS", 3)
	v.SetDefault("VERIFY_TIMEOUT", "30s")
	v.SetDefault("BREAKER_FAILURES", 5)
	v.SetDefault("BREAKER_COOLDOWN", "10s")
	v.SetDefault("DATABASE_PATH", "data/basedlink.db")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("RATE_LIMIT_PER_MIN", 60)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	v.SetDefault("RECONCILE_BATCH_SIZE", 100)
}

// Load reads configuration from the environment. When file is set it is read
// first and environment variables override it; a missing file is an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if file != "" {
		v.SetConfigFile(file)
		if strings.HasSuffix(file, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, types.NewConfigError("reading config file "+file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.NewConfigError("decoding config", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins

	if c.USDCContract == "" {
		if n, err := types.ParseNetwork(c.Network); err == nil {
			c.USDCContract = n.USDCContract()
		}
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return types.NewConfigError("invalid configuration", err)
	}
	return nil
}

// RequireChain reports an error unless the chain settings needed to verify
// transfers are present.
func (c *Config) RequireChain() error {
	if c.RPCUrl == "" {
		return types.NewConfigError("RPC_URL is required", errors.New("missing RPC_URL"))
	}
	return nil
}

// RequireServer reports an error unless the HTTP server can start.
func (c *Config) RequireServer() error {
	if err := c.RequireChain(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return types.NewConfigError("JWT_SECRET is required", errors.New("missing JWT_SECRET"))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.ServerPort)
}
