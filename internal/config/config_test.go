package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
app:
  broker: kis
  env: dev
  log_level: INFO

brokers:
  kis:
    base_url: https://openapivts.koreainvestment.com:29443
    app_key: test-key
    app_secret: test-secret
    rate_limit: 8

account:
  account_no: "12345678"
  product_code: "01"
  description: test account

rebalance:
  band_pct: 1.0
  order_style: market
  safety_margin_pct: 1.0
  max_order_value_per_ticker: 0

execution:
  dry_run: true
  retry_threshold: 0.8
  order_delay_seconds: 1.0

tickers:
  "379810": 0.6
  "458730": 0.3
  "329750": 0.1
`

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "kis", cfg.App.Broker)
	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "12345678", cfg.Account.AccountNo)
	assert.Equal(t, "01", cfg.Account.ProductCode)
	assert.Equal(t, 8.0, cfg.Brokers["kis"].RateLimit)
	assert.Len(t, cfg.Tickers, 3)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_APP_KEY", "expanded-key")
	t.Setenv("TEST_APP_SECRET", "expanded-secret")

	content := `
app:
  broker: kis
  env: dev
brokers:
  kis:
    base_url: https://openapivts.koreainvestment.com:29443
    app_key: ${TEST_APP_KEY}
    app_secret: ${TEST_APP_SECRET}
account:
  account_no: "12345678"
  product_code: "01"
tickers:
  "379810": 1.0
`
	cfg, err := LoadConfig(writeConfigFile(t, content))
	require.NoError(t, err)

	assert.Equal(t, "expanded-key", cfg.Brokers["kis"].AppKey.Value())
	assert.Equal(t, "expanded-secret", cfg.Brokers["kis"].AppSecret.Value())
}

func TestLoadConfigDefaults(t *testing.T) {
	content := `
app:
  broker: mock
  env: dev
tickers:
  "379810": 1.0
`
	cfg, err := LoadConfig(writeConfigFile(t, content))
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Rebalance.BandPct)
	assert.Equal(t, "market", cfg.Rebalance.OrderStyle)
	assert.Equal(t, 0.005, cfg.Rebalance.ReserveSearchStep)
	assert.True(t, cfg.Execution.DryRun)
	assert.Equal(t, 0.8, cfg.Execution.RetryThreshold)
	assert.Equal(t, 9090, cfg.Telemetry.MetricsPort)
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.App.Broker = "mock"
		cfg.Tickers = map[string]float64{"379810": 0.6, "458730": 0.4}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid mock config",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.App.Broker = "binance" },
			wantErr: "app.broker",
		},
		{
			name:    "invalid env",
			mutate:  func(c *Config) { c.App.Env = "staging" },
			wantErr: "app.env",
		},
		{
			name:    "kis without credentials",
			mutate:  func(c *Config) { c.App.Broker = "kis" },
			wantErr: "brokers.kis",
		},
		{
			name:    "negative band",
			mutate:  func(c *Config) { c.Rebalance.BandPct = -0.5 },
			wantErr: "rebalance.band_pct",
		},
		{
			name:    "invalid order style",
			mutate:  func(c *Config) { c.Rebalance.OrderStyle = "stop" },
			wantErr: "rebalance.order_style",
		},
		{
			name:    "search step out of range",
			mutate:  func(c *Config) { c.Rebalance.ReserveSearchStep = 0 },
			wantErr: "rebalance.reserve_search_step",
		},
		{
			name:    "retry threshold above one",
			mutate:  func(c *Config) { c.Execution.RetryThreshold = 1.5 },
			wantErr: "execution.retry_threshold",
		},
		{
			name:    "negative order delay",
			mutate:  func(c *Config) { c.Execution.OrderDelaySeconds = -1 },
			wantErr: "execution.order_delay_seconds",
		},
		{
			name:    "weights do not sum to one",
			mutate:  func(c *Config) { c.Tickers = map[string]float64{"379810": 0.6, "458730": 0.3} },
			wantErr: "weights",
		},
		{
			name:    "weight above one",
			mutate:  func(c *Config) { c.Tickers = map[string]float64{"379810": 1.2} },
			wantErr: "weight",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestExecutionPolicyConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.OrderDelaySeconds = 0.5
	cfg.Execution.PersistentRetry = true

	policy := cfg.ExecutionPolicy()
	assert.True(t, policy.DryRun)
	assert.True(t, policy.PersistentRetry)
	assert.Equal(t, "500ms", policy.OrderDelay.String())
	assert.True(t, policy.RetryThreshold.Equal(decimal.NewFromFloat(0.8)))
}

func TestSafetyMarginArmedOnlyInProd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Env = "dev"
	assert.False(t, cfg.CoreRebalanceConfig().ApplySafetyMargin)

	cfg.App.Env = "prod"
	assert.True(t, cfg.CoreRebalanceConfig().ApplySafetyMargin)
}

func TestSecretRedaction(t *testing.T) {
	secret := Secret("super-sensitive-key")

	assert.Equal(t, "[REDACTED]", secret.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", secret))
	assert.Equal(t, "super-sensitive-key", secret.Value())

	jsonData, err := json.Marshal(secret)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(jsonData))

	yamlData, err := yaml.Marshal(secret)
	require.NoError(t, err)
	assert.Equal(t, "'[REDACTED]'\n", string(yamlData))
}
