package rebalance

import (
	"sort"

	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
)

// commissionRate is the brokerage fee estimate applied to order notionals.
var commissionRate = decimal.NewFromFloat(0.0015)

// DeltaResolver diffs target quantities against current quantities and nets
// the result to a single order per ticker.
type DeltaResolver struct {
	cfg core.RebalanceConfig
}

func NewDeltaResolver(cfg core.RebalanceConfig) *DeltaResolver {
	return &DeltaResolver{cfg: cfg}
}

// Resolve returns the order list for the given target quantities, sells
// before buys so sale proceeds are available when the buys go out. Sells are
// placed largest notional first to free cash as early as possible; buys are
// sorted by ticker for deterministic placement. Buy quantities are clamped
// to the per-ticker order value cap; sells never are, since a clamped sell
// could leave a deficit uncovered.
func (r *DeltaResolver) Resolve(current, target map[string]int64, prices map[string]decimal.Decimal) []core.PlannedOrder {
	var sells, buys []core.PlannedOrder

	for _, ticker := range unionQuantityTickers(current, target) {
		delta := target[ticker] - current[ticker]
		switch {
		case delta < 0:
			sells = append(sells, core.PlannedOrder{
				Ticker:   ticker,
				Side:     core.SideSell,
				Quantity: -delta,
				Style:    r.cfg.OrderStyle,
			})
		case delta > 0:
			qty := ClampOrderValue(delta, prices[ticker], r.cfg.MaxOrderValuePerTicker)
			if qty > 0 {
				buys = append(buys, core.PlannedOrder{
					Ticker:   ticker,
					Side:     core.SideBuy,
					Quantity: qty,
					Style:    r.cfg.OrderStyle,
				})
			}
		}
	}

	sortByValueDesc(sells, prices)
	sortByTicker(buys)
	return append(sells, buys...)
}

// EstimateCommission returns the estimated total brokerage fee for the orders.
func EstimateCommission(orders []core.PlannedOrder, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Value(prices[o.Ticker]).Mul(commissionRate))
	}
	return total
}

func sortByTicker(orders []core.PlannedOrder) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].Ticker < orders[j].Ticker })
}

func sortByValueDesc(orders []core.PlannedOrder, prices map[string]decimal.Decimal) {
	sort.Slice(orders, func(i, j int) bool {
		vi, vj := orders[i].Value(prices[orders[i].Ticker]), orders[j].Value(prices[orders[j].Ticker])
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return orders[i].Ticker < orders[j].Ticker
	})
}

func unionQuantityTickers(current, target map[string]int64) []string {
	seen := make(map[string]struct{}, len(current)+len(target))
	for t := range current {
		seen[t] = struct{}{}
	}
	for t := range target {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
