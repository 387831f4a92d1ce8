// Package metrics records rebalance run outcomes as OpenTelemetry
// instruments, exported through the Prometheus endpoint.
package metrics

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"rebalancer/internal/core"
	"rebalancer/pkg/telemetry"
)

const (
	MetricRunsTotal          = "rebalancer_runs_total"
	MetricOrdersTotal        = "rebalancer_orders_total"
	MetricOrderValueTotal    = "rebalancer_order_value_total"
	MetricRunDurationSeconds = "rebalancer_run_duration_seconds"
	MetricLeftoverCash       = "rebalancer_leftover_cash"
)

// Recorder translates execution reports into instrument updates.
type Recorder struct {
	runsTotal       metric.Int64Counter
	ordersTotal     metric.Int64Counter
	orderValueTotal metric.Float64Counter
	runDuration     metric.Float64Histogram
	leftoverCash    metric.Float64Gauge
}

func NewRecorder() *Recorder {
	meter := telemetry.GetMeter("rebalancer")

	runsTotal, _ := meter.Int64Counter(MetricRunsTotal,
		metric.WithDescription("Rebalance runs by final state"))
	ordersTotal, _ := meter.Int64Counter(MetricOrdersTotal,
		metric.WithDescription("Order outcomes by side and status"))
	orderValueTotal, _ := meter.Float64Counter(MetricOrderValueTotal,
		metric.WithDescription("Notional value of filled orders"))
	runDuration, _ := meter.Float64Histogram(MetricRunDurationSeconds,
		metric.WithDescription("Wall-clock duration of a rebalance run"))
	leftoverCash, _ := meter.Float64Gauge(MetricLeftoverCash,
		metric.WithDescription("Unallocated cash after the last planning pass"))

	return &Recorder{
		runsTotal:       runsTotal,
		ordersTotal:     ordersTotal,
		orderValueTotal: orderValueTotal,
		runDuration:     runDuration,
		leftoverCash:    leftoverCash,
	}
}

// RecordRun publishes the aggregate outcome of one execution run.
func (r *Recorder) RecordRun(ctx context.Context, report *core.ExecutionReport) {
	r.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("final_state", report.FinalState),
	))
	r.runDuration.Record(ctx, report.FinishedAt.Sub(report.StartedAt).Seconds())

	var prices map[string]decimal.Decimal
	if report.Plan != nil {
		prices = report.Plan.Prices
		leftover, _ := report.Plan.LeftoverCash.Float64()
		r.leftoverCash.Record(ctx, leftover)
	}

	for _, o := range report.Outcomes {
		r.ordersTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("side", string(o.Order.Side)),
			attribute.String("status", string(o.Status)),
		))
		if o.Status == core.OutcomeFilled && prices != nil {
			value, _ := o.Order.Value(prices[o.Order.Ticker]).Float64()
			r.orderValueTotal.Add(ctx, value, metric.WithAttributes(
				attribute.String("side", string(o.Order.Side)),
			))
		}
	}
}
