package rebalance

import (
	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
)

// Assessment is the CashGuard's verdict on a snapshot. Base is the investable
// value the planner should allocate, and Context the current-quantity view it
// should band-filter against. Under a deficit the context is empty: the
// portfolio is virtually liquidated and reallocated from cash alone, which
// yields the minimal-fee set of sells once the delta is taken against the
// real positions.
type Assessment struct {
	Deficit    decimal.Decimal
	Base       decimal.Decimal
	Context    map[string]int64
	Unresolved bool
}

// CashGuard detects settlement deficits and derives the recovery budget.
type CashGuard struct {
	logger core.ILogger
}

func NewCashGuard(logger core.ILogger) *CashGuard {
	return &CashGuard{logger: logger}
}

// Assess inspects the snapshot's settlement horizons. With no deficit it is a
// pass-through: the base is orderable cash plus the liquidation value of all
// holdings. With a deficit it shrinks the base by the shortfall; when even a
// full liquidation cannot cover it, the assessment is flagged unresolved and
// the base is zero.
func (g *CashGuard) Assess(snapshot *core.AccountSnapshot) Assessment {
	settlement := decimal.Min(snapshot.Cash.NextDay, snapshot.Cash.TwoDay)
	worst := decimal.Min(settlement, snapshot.Cash.Orderable)
	liquidation := snapshot.LiquidationValue()

	if worst.Sign() >= 0 {
		return Assessment{
			Deficit: decimal.Zero,
			Base:    snapshot.Cash.Orderable.Add(liquidation),
			Context: snapshot.HoldingQuantities(),
		}
	}

	deficit := worst.Neg()
	g.logger.Warn("settlement deficit detected",
		"deficit", deficit.String(),
		"liquidation_value", liquidation.String())

	if liquidation.LessThan(deficit) {
		g.logger.Error("deficit exceeds liquidation value, full liquidation cannot cover it",
			"deficit", deficit.String(),
			"liquidation_value", liquidation.String())
		return Assessment{
			Deficit:    deficit,
			Base:       decimal.Zero,
			Context:    map[string]int64{},
			Unresolved: true,
		}
	}

	return Assessment{
		Deficit: deficit,
		Base:    liquidation.Sub(deficit),
		Context: map[string]int64{},
	}
}
