package rebalance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"rebalancer/internal/core"
	"rebalancer/pkg/logging"
)

func snapshotWithCash(orderable, nextDay, twoDay float64, holdings ...core.Holding) *core.AccountSnapshot {
	return &core.AccountSnapshot{
		Cash: core.CashBalances{
			Immediate: decimal.NewFromFloat(orderable),
			NextDay:   decimal.NewFromFloat(nextDay),
			TwoDay:    decimal.NewFromFloat(twoDay),
			Orderable: decimal.NewFromFloat(orderable),
		},
		Holdings: holdings,
	}
}

func holding(ticker string, qty int64, price float64) core.Holding {
	p := decimal.NewFromFloat(price)
	return core.Holding{
		Ticker:      ticker,
		Quantity:    qty,
		LastPrice:   p,
		MarketValue: p.Mul(decimal.NewFromInt(qty)),
	}
}

func TestCashGuardNoDeficit(t *testing.T) {
	guard := NewCashGuard(logging.NopLogger{})
	snap := snapshotWithCash(100000, 100000, 100000, holding("005930", 10, 50000))

	got := guard.Assess(snap)

	assert.True(t, got.Deficit.IsZero())
	assert.False(t, got.Unresolved)
	// base = orderable cash + liquidation value
	assert.True(t, got.Base.Equal(decimal.NewFromInt(600000)), "base = %s", got.Base)
	assert.Equal(t, map[string]int64{"005930": 10}, got.Context)
}

func TestCashGuardRecoverableDeficit(t *testing.T) {
	guard := NewCashGuard(logging.NopLogger{})
	snap := snapshotWithCash(0, -50000, -50000,
		holding("A", 20, 5000),
		holding("B", 100, 1000),
	)

	got := guard.Assess(snap)

	assert.True(t, got.Deficit.Equal(decimal.NewFromInt(50000)))
	assert.False(t, got.Unresolved)
	// liquidation 200,000 minus the 50,000 shortfall
	assert.True(t, got.Base.Equal(decimal.NewFromInt(150000)), "base = %s", got.Base)
	assert.Empty(t, got.Context, "deficit recovery plans from cash only")
}

func TestCashGuardUnresolvableDeficit(t *testing.T) {
	guard := NewCashGuard(logging.NopLogger{})
	snap := snapshotWithCash(0, -500000, -500000,
		holding("A", 20, 5000),
		holding("B", 100, 1000),
	)

	got := guard.Assess(snap)

	assert.True(t, got.Unresolved)
	assert.True(t, got.Deficit.Equal(decimal.NewFromInt(500000)))
	assert.True(t, got.Base.IsZero())
}

func TestCashGuardUsesWorstHorizon(t *testing.T) {
	guard := NewCashGuard(logging.NopLogger{})
	// next-day cash fine, two-day negative: still a deficit
	snap := snapshotWithCash(10000, 20000, -30000, holding("A", 100, 1000))

	got := guard.Assess(snap)

	assert.True(t, got.Deficit.Equal(decimal.NewFromInt(30000)))
	assert.True(t, got.Base.Equal(decimal.NewFromInt(70000)))
}
