package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStyle identifies how an order is priced
type OrderStyle string

const (
	StyleMarket OrderStyle = "market"
	StyleLimit  OrderStyle = "limit"
)

// OrderStatus is the terminal status of a pending order as reported by the broker
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Holding represents one position in the account snapshot
type Holding struct {
	Ticker      string
	Quantity    int64
	LastPrice   decimal.Decimal
	MarketValue decimal.Decimal
}

// CashBalances carries the settlement-horizon cash amounts of the account.
// Immediate is today's deposit total, NextDay and TwoDay are the balances as
// they will stand after D+1/D+2 settlement. Orderable is the amount the
// broker will accept for new cash orders right now.
type CashBalances struct {
	Immediate decimal.Decimal
	NextDay   decimal.Decimal
	TwoDay    decimal.Decimal
	Orderable decimal.Decimal
}

// PendingOrder is a broker-side open order. The engine only ever requests its
// cancellation; it never mutates it directly.
type PendingOrder struct {
	OrderID  string
	Ticker   string
	Side     OrderSide
	Quantity int64
	Status   OrderStatus
}

// AccountSnapshot is the account state at the start of a rebalance run.
// It is fetched once and treated as immutable for the whole run.
type AccountSnapshot struct {
	TotalAssetValue decimal.Decimal
	Cash            CashBalances
	Holdings        []Holding
	PendingOrders   []PendingOrder
	FetchedAt       time.Time
}

// HoldingQuantities returns ticker -> quantity for the snapshot's holdings.
func (s *AccountSnapshot) HoldingQuantities() map[string]int64 {
	out := make(map[string]int64, len(s.Holdings))
	for _, h := range s.Holdings {
		out[h.Ticker] = h.Quantity
	}
	return out
}

// LiquidationValue is the value of every holding at its last price.
func (s *AccountSnapshot) LiquidationValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range s.Holdings {
		total = total.Add(h.LastPrice.Mul(decimal.NewFromInt(h.Quantity)))
	}
	return total
}

// TargetAllocation maps ticker -> desired portfolio weight in [0,1].
type TargetAllocation map[string]decimal.Decimal

// weightSumEpsilon bounds the tolerated deviation of the weight sum from 1.
var weightSumEpsilon = decimal.New(1, -6)

// Validate checks that every weight is in [0,1] and the sum equals 1 within
// epsilon. A violation is a configuration error: the run must never start.
func (t TargetAllocation) Validate() error {
	if len(t) == 0 {
		return &ConfigError{Field: "tickers", Reason: "no target tickers configured"}
	}
	sum := decimal.Zero
	for ticker, w := range t {
		if w.IsNegative() || w.GreaterThan(decimal.NewFromInt(1)) {
			return &ConfigError{
				Field:  "tickers." + ticker,
				Reason: "weight must be within [0,1], got " + w.String(),
			}
		}
		sum = sum.Add(w)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(weightSumEpsilon) {
		return &ConfigError{
			Field:  "tickers",
			Reason: "weights must sum to 1.0, got " + sum.String(),
		}
	}
	return nil
}

// RebalanceConfig holds the per-account planning parameters.
// BandPct and SafetyMarginPct are percentages (1.0 means 1%).
// ApplySafetyMargin is set only for the live-trading profile; the simulated
// profile plans against the full investable base.
type RebalanceConfig struct {
	BandPct           decimal.Decimal
	OrderStyle        OrderStyle
	SafetyMarginPct   decimal.Decimal
	ApplySafetyMargin bool

	// MaxOrderValuePerTicker caps the value of any single order. Zero
	// disables the cap.
	MaxOrderValuePerTicker decimal.Decimal
}

// SearchPolicy parameterizes the adaptive cash-reserve search. Fractions, not
// percentages: the default walks 0, 0.005, 0.01, ... up to 1.0.
type SearchPolicy struct {
	Step    decimal.Decimal
	Ceiling decimal.Decimal
}

// DefaultSearchPolicy returns the documented search defaults (0.5% step,
// 100% ceiling).
func DefaultSearchPolicy() SearchPolicy {
	return SearchPolicy{
		Step:    decimal.NewFromFloat(0.005),
		Ceiling: decimal.NewFromInt(1),
	}
}

// Validate rejects search policies whose reserve loop cannot terminate.
func (s SearchPolicy) Validate() error {
	if s.Step.Sign() <= 0 {
		return &ConfigError{Field: "reserve_search_step", Reason: "must be > 0"}
	}
	if s.Ceiling.Sign() <= 0 {
		return &ConfigError{Field: "reserve_search_ceiling", Reason: "must be > 0"}
	}
	return nil
}

// PlannedOrder is a single buy or sell the plan wants executed. Quantity is
// always positive; the side carries the direction.
type PlannedOrder struct {
	Ticker   string
	Side     OrderSide
	Quantity int64
	Style    OrderStyle
}

// Value returns the order's notional at the given price.
func (o PlannedOrder) Value(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(o.Quantity))
}

// RebalancePlan is the output of one planning pass. It is owned by the run
// that created it and discarded afterwards.
type RebalancePlan struct {
	RunID           string
	Orders          []PlannedOrder
	TargetQuantities map[string]int64
	// Prices are the quotes the plan was computed against, kept for
	// execution-threshold math and report formatting.
	Prices          map[string]decimal.Decimal
	ReserveFraction decimal.Decimal
	LeftoverCash    decimal.Decimal
	BaseValue       decimal.Decimal

	// DeficitUnresolved is set when the full liquidation of the portfolio
	// could not cover the settlement deficit. The orders then contain the
	// mitigation sells only.
	DeficitUnresolved bool
}

// OutcomeStatus is the per-order result of an execution run
type OutcomeStatus string

const (
	OutcomeFilled  OutcomeStatus = "FILLED"
	OutcomeFailed  OutcomeStatus = "FAILED"
	OutcomeSkipped OutcomeStatus = "SKIPPED"
)

// OrderOutcome records what happened to one planned order during execution.
type OrderOutcome struct {
	Order    PlannedOrder
	Status   OutcomeStatus
	OrderID  string
	Attempts int
	Err      error
}

// ExecutionReport is the final result of a rebalance run.
type ExecutionReport struct {
	RunID      string
	Plan       *RebalancePlan
	Outcomes   []OrderOutcome
	FinalState string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// ExecutionPolicy consolidates the run options the executor must honor.
type ExecutionPolicy struct {
	DryRun             bool
	IgnoreGuards       bool
	PersistentRetry    bool
	RetryThreshold     decimal.Decimal // fraction of total asset value, 0-1
	StrictCancellation bool
	OrderDelay         time.Duration
}

// Validate rejects policies the executor cannot honor.
func (p ExecutionPolicy) Validate() error {
	if p.RetryThreshold.IsNegative() || p.RetryThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigError{Field: "retry_threshold", Reason: "must be within [0,1]"}
	}
	if p.OrderDelay < 0 {
		return &ConfigError{Field: "order_delay", Reason: "must be >= 0"}
	}
	return nil
}
