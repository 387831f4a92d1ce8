package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConfigError reports an invalid target configuration. The run never starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Reason)
}

// InfeasiblePlanError reports that the adaptive reserve search exhausted its
// range without finding a feasible allocation.
type InfeasiblePlanError struct {
	From decimal.Decimal
	To   decimal.Decimal
	Step decimal.Decimal
}

func (e *InfeasiblePlanError) Error() string {
	return fmt.Sprintf("no feasible plan: reserve search exhausted over [%s, %s] with step %s",
		e.From.String(), e.To.String(), e.Step.String())
}

// DeficitUnresolvedError reports that liquidating the entire portfolio cannot
// cover the settlement deficit. The accompanying plan still carries the
// full-liquidation sells for partial mitigation.
type DeficitUnresolvedError struct {
	Deficit          decimal.Decimal
	LiquidationValue decimal.Decimal
}

func (e *DeficitUnresolvedError) Error() string {
	return fmt.Sprintf("deficit unresolved: shortfall %s exceeds liquidation value %s",
		e.Deficit.String(), e.LiquidationValue.String())
}

// GuardBlockedError reports a safety guard refusing live execution.
type GuardBlockedError struct {
	Guard       string
	Reason      string
	Overridable bool
}

func (e *GuardBlockedError) Error() string {
	return fmt.Sprintf("guard %q blocked execution: %s", e.Guard, e.Reason)
}

// CancellationError reports a pending-order cancellation failure. Fatal under
// strict cancellation, a warning under the lenient default.
type CancellationError struct {
	Order PendingOrder
	Err   error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancel order %s (%s %s x%d) failed: %v",
		e.Order.OrderID, e.Order.Side, e.Order.Ticker, e.Order.Quantity, e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// OrderExecutionError reports a planned order the broker would not accept.
type OrderExecutionError struct {
	Order    PlannedOrder
	Attempts int
	Err      error
}

func (e *OrderExecutionError) Error() string {
	return fmt.Sprintf("order %s %s x%d failed after %d attempt(s): %v",
		e.Order.Side, e.Order.Ticker, e.Order.Quantity, e.Attempts, e.Err)
}

func (e *OrderExecutionError) Unwrap() error { return e.Err }
