package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/config"
	"rebalancer/pkg/logging"
)

func TestNewSelectsBroker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Broker = "mock"

	b, err := New(cfg, logging.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "mock", b.GetName())
}

func TestNewKISRequiresConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Broker = "kis"
	cfg.Brokers = nil

	_, err := New(cfg, logging.NopLogger{})
	assert.Error(t, err)
}

func TestNewKIS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Broker = "kis"
	cfg.Brokers = map[string]config.BrokerConfig{
		"kis": {BaseURL: "https://openapivts.koreainvestment.com:29443", AppKey: "k", AppSecret: "s", RateLimit: 5},
	}
	cfg.Account.AccountNo = "12345678"
	cfg.Account.ProductCode = "01"

	b, err := New(cfg, logging.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "kis", b.GetName())
}

func TestNewUnknownBroker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Broker = "upbit"

	_, err := New(cfg, logging.NopLogger{})
	assert.Error(t, err)
}
