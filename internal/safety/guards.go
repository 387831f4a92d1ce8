// Package safety gates live execution behind policy checks: market session
// hours and account-type capability.
package safety

import (
	"fmt"
	"time"

	"rebalancer/internal/core"
)

// KST is the exchange's local zone. A fixed offset avoids a tzdata
// dependency; Korea has no daylight saving.
var KST = time.FixedZone("KST", 9*60*60)

const (
	sessionOpenMinute  = 9 * 60
	sessionCloseMinute = 15*60 + 30

	// pensionProductCode marks retirement/pension accounts. Live execution
	// for these is blocked unconditionally.
	pensionProductCode = "22"
)

// TradingHoursGuard blocks execution outside the regular weekday session,
// 09:00-15:30 KST. It is overridable for off-hours dry runs against the
// simulated venue.
type TradingHoursGuard struct{}

func (TradingHoursGuard) Name() string      { return "trading_hours" }
func (TradingHoursGuard) Overridable() bool { return true }

func (TradingHoursGuard) Check(ctx core.GuardContext) error {
	now := ctx.Now.In(KST)
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return fmt.Errorf("market closed: %s is not a trading day", now.Weekday())
	}
	minute := now.Hour()*60 + now.Minute()
	if minute < sessionOpenMinute || minute >= sessionCloseMinute {
		return fmt.Errorf("market closed: %s is outside the 09:00-15:30 KST session", now.Format("15:04"))
	}
	return nil
}

// AccountTypeGuard blocks live execution for pension accounts. No flag can
// override it.
type AccountTypeGuard struct{}

func (AccountTypeGuard) Name() string      { return "account_type" }
func (AccountTypeGuard) Overridable() bool { return false }

func (AccountTypeGuard) Check(ctx core.GuardContext) error {
	if ctx.AccountProductCode == pensionProductCode {
		return fmt.Errorf("pension account (product code %s) cannot trade through this engine", pensionProductCode)
	}
	return nil
}

// Chain evaluates guards in order and converts failures into
// GuardBlockedError. Overridable guards can be waived; the rest always bind.
type Chain struct {
	guards []core.IGuard
	logger core.ILogger
}

// NewChain builds the default guard chain.
func NewChain(logger core.ILogger) *Chain {
	return &Chain{
		guards: []core.IGuard{AccountTypeGuard{}, TradingHoursGuard{}},
		logger: logger,
	}
}

// NewChainWith builds a chain over explicit guards, mainly for tests.
func NewChainWith(logger core.ILogger, guards ...core.IGuard) *Chain {
	return &Chain{guards: guards, logger: logger}
}

// Evaluate runs every guard. When ignoreOverridable is set, failures from
// overridable guards are logged and skipped; a non-overridable failure blocks
// regardless.
func (c *Chain) Evaluate(ctx core.GuardContext, ignoreOverridable bool) error {
	for _, g := range c.guards {
		err := g.Check(ctx)
		if err == nil {
			continue
		}
		if g.Overridable() && ignoreOverridable {
			c.logger.Warn("guard overridden", "guard", g.Name(), "reason", err.Error())
			continue
		}
		return &core.GuardBlockedError{
			Guard:       g.Name(),
			Reason:      err.Error(),
			Overridable: g.Overridable(),
		}
	}
	return nil
}
