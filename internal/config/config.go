// Package config handles target-file and application configuration with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rebalancer/internal/core"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig               `yaml:"app"`
	Brokers   map[string]BrokerConfig `yaml:"brokers"`
	Account   AccountConfig           `yaml:"account"`
	Rebalance RebalanceConfig         `yaml:"rebalance"`
	Execution ExecutionConfig         `yaml:"execution"`
	Tickers   map[string]float64      `yaml:"tickers"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Broker   string `yaml:"broker"`    // active broker adapter ("kis", "mock")
	Env      string `yaml:"env"`       // "dev" (simulated venue) or "prod" (live)
	LogLevel string `yaml:"log_level"` // DEBUG|INFO|WARN|ERROR|FATAL
}

// BrokerConfig contains venue credentials and endpoints
type BrokerConfig struct {
	BaseURL   string `yaml:"base_url"`
	AppKey    Secret `yaml:"app_key"`
	AppSecret Secret `yaml:"app_secret"`
	// RateLimit is the venue call budget in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
}

// AccountConfig identifies the brokerage account being rebalanced
type AccountConfig struct {
	AccountNo   string `yaml:"account_no"`   // 8-digit account number
	ProductCode string `yaml:"product_code"` // "01" standard, "22" pension
	Description string `yaml:"description"`
}

// RebalanceConfig contains the planning parameters
type RebalanceConfig struct {
	BandPct                float64 `yaml:"band_pct"`
	OrderStyle             string  `yaml:"order_style"` // market|limit
	SafetyMarginPct        float64 `yaml:"safety_margin_pct"`
	MaxOrderValuePerTicker float64 `yaml:"max_order_value_per_ticker"`
	ReserveSearchStep      float64 `yaml:"reserve_search_step"`    // default 0.005
	ReserveSearchCeiling   float64 `yaml:"reserve_search_ceiling"` // default 1.0
}

// ExecutionConfig contains the run-option defaults; CLI flags override them
type ExecutionConfig struct {
	DryRun             bool    `yaml:"dry_run"`
	IgnoreGuards       bool    `yaml:"ignore_guards"`
	PersistentRetry    bool    `yaml:"persistent_retry"`
	RetryThreshold     float64 `yaml:"retry_threshold"`
	StrictCancellation bool    `yaml:"strict_cancellation"`
	OrderDelaySeconds  float64 `yaml:"order_delay_seconds"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration populated with the documented defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Broker:   "mock",
			Env:      "dev",
			LogLevel: "INFO",
		},
		Rebalance: RebalanceConfig{
			BandPct:              1.0,
			OrderStyle:           "market",
			SafetyMarginPct:      1.0,
			ReserveSearchStep:    0.005,
			ReserveSearchCeiling: 1.0,
		},
		Execution: ExecutionConfig{
			DryRun:            true,
			RetryThreshold:    0.8,
			OrderDelaySeconds: 1.0,
		},
		Telemetry: TelemetryConfig{
			MetricsPort: 9090,
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRebalanceConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExecutionConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.TargetAllocation().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validBrokers := []string{"kis", "mock"}
	if !contains(validBrokers, c.App.Broker) {
		return &core.ConfigError{
			Field:  "app.broker",
			Reason: fmt.Sprintf("must be one of: %s", strings.Join(validBrokers, ", ")),
		}
	}
	if c.App.Env != "dev" && c.App.Env != "prod" {
		return &core.ConfigError{Field: "app.env", Reason: "must be dev or prod"}
	}
	if c.App.Broker == "mock" {
		return nil
	}
	broker, ok := c.Brokers[c.App.Broker]
	if !ok {
		return &core.ConfigError{Field: "brokers." + c.App.Broker, Reason: "broker configuration not found"}
	}
	if broker.AppKey == "" || broker.AppSecret == "" {
		return &core.ConfigError{Field: "brokers." + c.App.Broker, Reason: "app_key and app_secret are required"}
	}
	if c.Account.AccountNo == "" {
		return &core.ConfigError{Field: "account.account_no", Reason: "account number is required"}
	}
	if c.Account.ProductCode == "" {
		return &core.ConfigError{Field: "account.product_code", Reason: "product code is required"}
	}
	return nil
}

func (c *Config) validateRebalanceConfig() error {
	if c.Rebalance.BandPct < 0 {
		return &core.ConfigError{Field: "rebalance.band_pct", Reason: "must be >= 0"}
	}
	if c.Rebalance.SafetyMarginPct < 0 {
		return &core.ConfigError{Field: "rebalance.safety_margin_pct", Reason: "must be >= 0"}
	}
	if c.Rebalance.OrderStyle != string(core.StyleMarket) && c.Rebalance.OrderStyle != string(core.StyleLimit) {
		return &core.ConfigError{Field: "rebalance.order_style", Reason: "must be market or limit"}
	}
	if c.Rebalance.ReserveSearchStep <= 0 || c.Rebalance.ReserveSearchStep > 1 {
		return &core.ConfigError{Field: "rebalance.reserve_search_step", Reason: "must be within (0,1]"}
	}
	if c.Rebalance.ReserveSearchCeiling <= 0 || c.Rebalance.ReserveSearchCeiling > 1 {
		return &core.ConfigError{Field: "rebalance.reserve_search_ceiling", Reason: "must be within (0,1]"}
	}
	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.RetryThreshold < 0 || c.Execution.RetryThreshold > 1 {
		return &core.ConfigError{Field: "execution.retry_threshold", Reason: "must be within [0,1]"}
	}
	if c.Execution.OrderDelaySeconds < 0 {
		return &core.ConfigError{Field: "execution.order_delay_seconds", Reason: "must be >= 0"}
	}
	return nil
}

// TargetAllocation converts the tickers section to the core type.
func (c *Config) TargetAllocation() core.TargetAllocation {
	out := make(core.TargetAllocation, len(c.Tickers))
	for ticker, w := range c.Tickers {
		out[ticker] = decimal.NewFromFloat(w)
	}
	return out
}

// CoreRebalanceConfig converts the rebalance section to the core type. The
// safety margin is armed only for the live profile.
func (c *Config) CoreRebalanceConfig() core.RebalanceConfig {
	return core.RebalanceConfig{
		BandPct:                decimal.NewFromFloat(c.Rebalance.BandPct),
		OrderStyle:             core.OrderStyle(c.Rebalance.OrderStyle),
		SafetyMarginPct:        decimal.NewFromFloat(c.Rebalance.SafetyMarginPct),
		ApplySafetyMargin:      c.App.Env == "prod",
		MaxOrderValuePerTicker: decimal.NewFromFloat(c.Rebalance.MaxOrderValuePerTicker),
	}
}

// SearchPolicy converts the reserve-search settings to the core type.
func (c *Config) SearchPolicy() core.SearchPolicy {
	return core.SearchPolicy{
		Step:    decimal.NewFromFloat(c.Rebalance.ReserveSearchStep),
		Ceiling: decimal.NewFromFloat(c.Rebalance.ReserveSearchCeiling),
	}
}

// ExecutionPolicy converts the execution section to the core type.
func (c *Config) ExecutionPolicy() core.ExecutionPolicy {
	return core.ExecutionPolicy{
		DryRun:             c.Execution.DryRun,
		IgnoreGuards:       c.Execution.IgnoreGuards,
		PersistentRetry:    c.Execution.PersistentRetry,
		RetryThreshold:     decimal.NewFromFloat(c.Execution.RetryThreshold),
		StrictCancellation: c.Execution.StrictCancellation,
		OrderDelay:         time.Duration(c.Execution.OrderDelaySeconds * float64(time.Second)),
	}
}

// expandEnvVars replaces ${VAR} placeholders with environment values
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
