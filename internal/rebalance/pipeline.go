package rebalance

import (
	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
)

// Pipeline ties the cash guard, the planner, and the delta resolver together
// for one run: snapshot in, executable plan out.
type Pipeline struct {
	guard    *CashGuard
	planner  *Planner
	resolver *DeltaResolver
	logger   core.ILogger
}

func NewPipeline(cfg core.RebalanceConfig, search core.SearchPolicy, logger core.ILogger) *Pipeline {
	return &Pipeline{
		guard:    NewCashGuard(logger),
		planner:  NewPlanner(cfg, search, logger),
		resolver: NewDeltaResolver(cfg),
		logger:   logger,
	}
}

// BuildPlan assesses the snapshot, searches for a feasible allocation, and
// nets the result against the actual positions.
//
// When a full liquidation cannot cover the settlement deficit, the returned
// plan carries the mitigation sells (100% of every holding) together with a
// DeficitUnresolvedError; the caller decides whether to execute them.
func (p *Pipeline) BuildPlan(snapshot *core.AccountSnapshot, targets core.TargetAllocation, prices map[string]decimal.Decimal) (*core.RebalancePlan, error) {
	assessment := p.guard.Assess(snapshot)
	actual := snapshot.HoldingQuantities()

	if assessment.Unresolved {
		liquidation := snapshot.LiquidationValue()
		zeroTargets := make(map[string]int64, len(actual))
		for ticker := range actual {
			zeroTargets[ticker] = 0
		}
		plan := &core.RebalancePlan{
			Orders:            p.resolver.Resolve(actual, zeroTargets, prices),
			TargetQuantities:  zeroTargets,
			Prices:            prices,
			ReserveFraction:   decimal.Zero,
			LeftoverCash:      liquidation.Sub(assessment.Deficit),
			BaseValue:         decimal.Zero,
			DeficitUnresolved: true,
		}
		return plan, &core.DeficitUnresolvedError{
			Deficit:          assessment.Deficit,
			LiquidationValue: liquidation,
		}
	}

	plan, err := p.planner.Plan(assessment.Base, assessment.Context, targets, prices)
	if err != nil {
		return nil, err
	}
	plan.Orders = p.resolver.Resolve(actual, plan.TargetQuantities, prices)
	plan.Prices = prices

	if assessment.Deficit.Sign() > 0 {
		p.logger.Info("deficit recovery plan built",
			"deficit", assessment.Deficit.String(),
			"orders", len(plan.Orders))
	}
	return plan, nil
}
