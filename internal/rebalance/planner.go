// Package rebalance implements the planning pipeline: deficit assessment,
// the adaptive cash-reserve search, and net order delta resolution.
package rebalance

import (
	"sort"

	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Planner runs the adaptive cash-reserve search: it finds the smallest
// reserve fraction at which a full target allocation can be constructed with
// every traded ticker's post-trade weight inside the tolerance band.
type Planner struct {
	cfg    core.RebalanceConfig
	search core.SearchPolicy
	logger core.ILogger
}

func NewPlanner(cfg core.RebalanceConfig, search core.SearchPolicy, logger core.ILogger) *Planner {
	return &Planner{cfg: cfg, search: search, logger: logger}
}

// Plan allocates the investable base across the target tickers.
//
// base is the investable value (post CashGuard), current the quantity context
// the band filter compares against, and prices must cover every ticker in
// either set. Tickers whose current weight already sits within the band are
// held at their current quantity and their value is carved out of the budget;
// the remaining targets are rescaled proportionally over what is left.
//
// Returns InfeasiblePlanError when no reserve fraction in the search range
// yields a feasible allocation.
func (p *Planner) Plan(base decimal.Decimal, current map[string]int64, targets core.TargetAllocation, prices map[string]decimal.Decimal) (*core.RebalancePlan, error) {
	if err := targets.Validate(); err != nil {
		return nil, err
	}

	investable := base
	if p.cfg.ApplySafetyMargin {
		investable = investable.Mul(one.Sub(p.cfg.SafetyMarginPct.Div(hundred)))
	}
	if investable.Sign() <= 0 {
		return &core.RebalancePlan{
			TargetQuantities: map[string]int64{},
			ReserveFraction:  decimal.Zero,
			LeftoverCash:     investable,
			BaseValue:        investable,
		}, nil
	}

	band := p.cfg.BandPct.Div(hundred)

	// Band filter over the union of target and held tickers. A ticker within
	// tolerance keeps its current quantity and its value is held fixed; the
	// rest trade toward their (possibly zero) target weight.
	heldQty := make(map[string]int64)
	heldValue := decimal.Zero
	tradedWeights := make(map[string]decimal.Decimal)
	tradedSum := decimal.Zero

	for _, ticker := range unionTickers(targets, current) {
		price, ok := prices[ticker]
		if !ok || price.Sign() <= 0 {
			return nil, &core.ConfigError{Field: "tickers." + ticker, Reason: "no positive price available"}
		}
		weight := targets[ticker]
		currentValue := price.Mul(decimal.NewFromInt(current[ticker]))
		currentWeight := currentValue.Div(investable)

		if currentWeight.Sub(weight).Abs().LessThanOrEqual(band) {
			heldQty[ticker] = current[ticker]
			heldValue = heldValue.Add(currentValue)
			continue
		}
		tradedWeights[ticker] = weight
		tradedSum = tradedSum.Add(weight)
	}

	tradedTickers := sortedKeys(tradedWeights)

	if len(tradedTickers) == 0 || tradedSum.Sign() == 0 && allZeroQuantities(tradedTickers, current) {
		// Nothing deviates enough to trade.
		return &core.RebalancePlan{
			TargetQuantities: copyQuantities(heldQty),
			ReserveFraction:  decimal.Zero,
			LeftoverCash:     investable.Sub(heldValue),
			BaseValue:        investable,
		}, nil
	}

	// Feasibility is judged against the rescaled targets: the frozen value
	// shrinks what the traded tickers can reach, so their weights are
	// renormalized over the remainder. Without exclusions this reduces to
	// the configured weights.
	rescaled := make(map[string]decimal.Decimal, len(tradedTickers))
	tradedBase := investable.Sub(heldValue)
	for _, ticker := range tradedTickers {
		rescaled[ticker] = decimal.Zero
		if tradedSum.Sign() > 0 {
			rescaled[ticker] = tradedBase.Mul(tradedWeights[ticker].Div(tradedSum)).Div(investable)
		}
	}

	for reserve := decimal.Zero; reserve.LessThanOrEqual(p.search.Ceiling); reserve = reserve.Add(p.search.Step) {
		budget := investable.Mul(one.Sub(reserve))
		tradedBudget := budget.Sub(heldValue)
		if tradedBudget.Sign() < 0 {
			// Held value alone exceeds the budget; larger reserves only shrink it.
			break
		}

		quantities, leftover, ok := p.allocate(tradedTickers, tradedWeights, rescaled, tradedSum, tradedBudget, investable, band, prices)
		if !ok {
			continue
		}

		for ticker, qty := range heldQty {
			quantities[ticker] = qty
		}
		p.logger.Info("feasible allocation found",
			"reserve_fraction", reserve.String(),
			"leftover_cash", leftover.String(),
			"traded_tickers", len(tradedTickers))
		return &core.RebalancePlan{
			TargetQuantities: quantities,
			ReserveFraction:  reserve,
			LeftoverCash:     leftover,
			BaseValue:        investable,
		}, nil
	}

	return nil, &core.InfeasiblePlanError{
		From: decimal.Zero,
		To:   p.search.Ceiling,
		Step: p.search.Step,
	}
}

// allocate builds target quantities for the traded tickers inside
// tradedBudget. Quantities are floor-rounded so the budget is never exceeded,
// then a single cheapest-first top-up pass converts leftover cash into at
// most one extra share per ticker. Returns ok=false when any ticker's
// post-trade weight would deviate from its rescaled target by more than the
// band.
func (p *Planner) allocate(tickers []string, weights, rescaled map[string]decimal.Decimal, weightSum, tradedBudget, investable, band decimal.Decimal, prices map[string]decimal.Decimal) (map[string]int64, decimal.Decimal, bool) {
	quantities := make(map[string]int64, len(tickers))
	leftover := tradedBudget

	for _, ticker := range tickers {
		price := prices[ticker]
		targetValue := decimal.Zero
		if weightSum.Sign() > 0 {
			targetValue = tradedBudget.Mul(weights[ticker].Div(weightSum))
		}
		qty := FloorQuantity(targetValue, price)
		realizedWeight := price.Mul(decimal.NewFromInt(qty)).Div(investable)
		if realizedWeight.Sub(rescaled[ticker]).Abs().GreaterThan(band) {
			return nil, decimal.Zero, false
		}
		quantities[ticker] = qty
		leftover = leftover.Sub(price.Mul(decimal.NewFromInt(qty)))
	}

	if leftover.Sign() < 0 {
		return nil, decimal.Zero, false
	}

	// Top-up: spend leftover cheapest-first, one extra share per ticker, as
	// long as the band still holds.
	byPrice := make([]string, len(tickers))
	copy(byPrice, tickers)
	sort.Slice(byPrice, func(i, j int) bool {
		return prices[byPrice[i]].LessThan(prices[byPrice[j]])
	})
	for _, ticker := range byPrice {
		price := prices[ticker]
		if price.GreaterThan(leftover) {
			continue
		}
		bumped := price.Mul(decimal.NewFromInt(quantities[ticker] + 1)).Div(investable)
		if bumped.Sub(rescaled[ticker]).Abs().GreaterThan(band) {
			continue
		}
		quantities[ticker]++
		leftover = leftover.Sub(price)
	}

	return quantities, leftover, true
}

func unionTickers(targets core.TargetAllocation, current map[string]int64) []string {
	seen := make(map[string]struct{}, len(targets)+len(current))
	for t := range targets {
		seen[t] = struct{}{}
	}
	for t := range current {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func allZeroQuantities(tickers []string, current map[string]int64) bool {
	for _, t := range tickers {
		if current[t] != 0 {
			return false
		}
	}
	return true
}

func copyQuantities(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
