// Package execution orchestrates a rebalance run: stale-order cancellation,
// planning, guard checks, and sequential order placement.
package execution

import (
	"context"

	"rebalancer/internal/core"
	"rebalancer/pkg/retry"
)

// Canceler clears the account's open orders before a run so the plan starts
// from a clean book. Each cancellation is retried with jittered backoff.
type Canceler struct {
	broker core.IBroker
	policy retry.RetryPolicy
	logger core.ILogger
}

func NewCanceler(broker core.IBroker, logger core.ILogger) *Canceler {
	return &Canceler{
		broker: broker,
		policy: retry.DefaultPolicy,
		logger: logger,
	}
}

// CancelAll cancels every pending order and returns the failures. The caller
// decides whether a failure is fatal (strict mode) or a warning.
func (c *Canceler) CancelAll(ctx context.Context, pending []core.PendingOrder) []*core.CancellationError {
	var failures []*core.CancellationError

	for _, order := range pending {
		order := order
		err := retry.Do(ctx, c.policy, func(error) bool { return true }, func() error {
			return c.broker.CancelOrder(ctx, order)
		})
		if err != nil {
			c.logger.Warn("pending order cancellation failed",
				"order_id", order.OrderID,
				"ticker", order.Ticker,
				"error", err.Error())
			failures = append(failures, &core.CancellationError{Order: order, Err: err})
			continue
		}
		c.logger.Info("pending order cancelled",
			"order_id", order.OrderID,
			"ticker", order.Ticker,
			"side", string(order.Side),
			"quantity", order.Quantity)
	}

	return failures
}
