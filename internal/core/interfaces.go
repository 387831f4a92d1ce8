// Package core defines the data model and capability interfaces shared by the
// rebalance engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IBroker is the capability the engine needs from a brokerage. A concrete
// venue adapter (KIS today) implements it; the planner and executor are
// polymorphic over it and never inspect broker identity.
type IBroker interface {
	// Identity
	GetName() string
	CheckHealth(ctx context.Context) error

	// Account operations
	GetBalance(ctx context.Context) (*AccountSnapshot, error)
	GetPendingOrders(ctx context.Context) ([]PendingOrder, error)

	// Order operations
	PlaceOrder(ctx context.Context, ticker string, side OrderSide, qty int64, style OrderStyle) (string, error)
	CancelOrder(ctx context.Context, order PendingOrder) error

	// Market data
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	GetPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// GuardContext carries everything a safety guard may inspect.
type GuardContext struct {
	Now                time.Time
	AccountProductCode string
	Env                string
}

// IGuard is one policy check gating live execution.
type IGuard interface {
	Name() string
	// Overridable reports whether --ignore-guards may skip this check.
	Overridable() bool
	Check(gc GuardContext) error
}
