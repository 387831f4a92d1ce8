// Package report renders plans and execution results for the operator.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
	"rebalancer/internal/rebalance"
)

// FormatPlan renders a rebalance plan as a table of intended orders plus the
// cash summary the operator needs before confirming a live run.
func FormatPlan(plan *core.RebalancePlan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Rebalance plan %s\n", plan.RunID)
	if plan.DeficitUnresolved {
		b.WriteString("!! settlement deficit exceeds liquidation value; plan liquidates all holdings\n")
	}
	fmt.Fprintf(&b, "  base value:    %s\n", formatAmount(plan.BaseValue))
	fmt.Fprintf(&b, "  reserve:       %s%%\n", plan.ReserveFraction.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(&b, "  leftover cash: %s\n", formatAmount(plan.LeftoverCash))

	if len(plan.Orders) == 0 {
		b.WriteString("  no orders: portfolio already within band\n")
		return b.String()
	}

	fmt.Fprintf(&b, "  est. commission: %s\n", formatAmount(rebalance.EstimateCommission(plan.Orders, plan.Prices)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %-4s %-10s %8s %12s %14s\n", "SIDE", "TICKER", "QTY", "PRICE", "VALUE")
	for _, o := range plan.Orders {
		price := plan.Prices[o.Ticker]
		fmt.Fprintf(&b, "  %-4s %-10s %8d %12s %14s\n",
			o.Side, o.Ticker, o.Quantity, formatAmount(price), formatAmount(o.Value(price)))
	}
	return b.String()
}

// FormatReport renders the outcome of an execution run.
func FormatReport(report *core.ExecutionReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s: %s in %s\n",
		report.RunID, report.FinalState, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	filled, failed, skipped := tally(report.Outcomes)
	fmt.Fprintf(&b, "  orders: %d filled, %d failed, %d skipped\n", filled, failed, skipped)

	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  [%s] %s %s x%d", o.Status, o.Order.Side, o.Order.Ticker, o.Order.Quantity)
		if o.OrderID != "" {
			line += " order_id=" + o.OrderID
		}
		if o.Attempts > 1 {
			line += fmt.Sprintf(" attempts=%d", o.Attempts)
		}
		if o.Err != nil {
			line += " err=" + o.Err.Error()
		}
		b.WriteString(line + "\n")
	}

	if report.Err != nil {
		fmt.Fprintf(&b, "  error: %v\n", report.Err)
	}
	return b.String()
}

// FormatTargets renders the configured allocation sorted by weight, heaviest
// first.
func FormatTargets(targets core.TargetAllocation) string {
	type row struct {
		ticker string
		weight decimal.Decimal
	}
	rows := make([]row, 0, len(targets))
	for ticker, w := range targets {
		rows = append(rows, row{ticker, w})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].weight.Equal(rows[j].weight) {
			return rows[i].weight.GreaterThan(rows[j].weight)
		}
		return rows[i].ticker < rows[j].ticker
	})

	var b strings.Builder
	b.WriteString("Target allocation\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-10s %6s%%\n", r.ticker, r.weight.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return b.String()
}

func tally(outcomes []core.OrderOutcome) (filled, failed, skipped int) {
	for _, o := range outcomes {
		switch o.Status {
		case core.OutcomeFilled:
			filled++
		case core.OutcomeFailed:
			failed++
		case core.OutcomeSkipped:
			skipped++
		}
	}
	return
}

// formatAmount groups an amount with thousands separators, KRW style (no
// fractional part).
func formatAmount(v decimal.Decimal) string {
	s := v.Round(0).String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
