// Package broker constructs the configured IBroker implementation.
package broker

import (
	"fmt"

	"rebalancer/internal/broker/kis"
	"rebalancer/internal/config"
	"rebalancer/internal/core"
	"rebalancer/internal/mock"
)

// New builds the broker named by cfg.App.Broker. Broker-specific settings are
// looked up under the same name in cfg.Brokers.
func New(cfg *config.Config, logger core.ILogger) (core.IBroker, error) {
	switch cfg.App.Broker {
	case "mock":
		return mock.NewBroker(), nil
	case "kis":
		bc, ok := cfg.Brokers["kis"]
		if !ok {
			return nil, fmt.Errorf("broker kis selected but not configured")
		}
		return kis.New(kis.Config{
			BaseURL:     bc.BaseURL,
			AppKey:      bc.AppKey.Value(),
			AppSecret:   bc.AppSecret.Value(),
			AccountNo:   cfg.Account.AccountNo,
			ProductCode: cfg.Account.ProductCode,
			Env:         cfg.App.Env,
			RateLimit:   bc.RateLimit,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.App.Broker)
	}
}
