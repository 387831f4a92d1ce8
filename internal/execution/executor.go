package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
	"rebalancer/internal/rebalance"
	"rebalancer/internal/safety"
)

// State is one phase of the run state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateCancelPending State = "CANCEL_PENDING"
	StatePlanning      State = "PLANNING"
	StateGuardCheck    State = "GUARD_CHECK"
	StateExecuting     State = "EXECUTING"
	StateCompleted     State = "COMPLETED"
	StateAborted       State = "ABORTED"
)

// persistentRetryAttempts bounds the per-order retry loop in persistent mode.
const persistentRetryAttempts = 5

// orderRetryBackoff is the pause between retries of one order.
const orderRetryBackoff = 500 * time.Millisecond

// Params collects the executor's collaborators and configuration.
type Params struct {
	Broker      core.IBroker
	Targets     core.TargetAllocation
	Rebalance   core.RebalanceConfig
	Search      core.SearchPolicy
	Policy      core.ExecutionPolicy
	ProductCode string
	Env         string
	Logger      core.ILogger
}

// Executor drives one rebalance run through the state machine
// Idle -> CancelPending -> Planning -> GuardCheck -> Executing and ends in
// Completed or Aborted. Orders are placed strictly sequentially with a
// configurable inter-order delay; the broker's rate limit rules out
// concurrent placement.
type Executor struct {
	broker   core.IBroker
	targets  core.TargetAllocation
	pipeline *rebalance.Pipeline
	guards   *safety.Chain
	canceler *Canceler
	policy   core.ExecutionPolicy

	productCode string
	env         string

	logger       core.ILogger
	state        State
	clock        func() time.Time
	retryBackoff time.Duration
}

// New validates the policies and targets and builds an executor.
func New(p Params) (*Executor, error) {
	if err := p.Policy.Validate(); err != nil {
		return nil, err
	}
	if err := p.Targets.Validate(); err != nil {
		return nil, err
	}
	if err := p.Search.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		broker:       p.Broker,
		targets:      p.Targets,
		pipeline:     rebalance.NewPipeline(p.Rebalance, p.Search, p.Logger),
		guards:       safety.NewChain(p.Logger),
		canceler:     NewCanceler(p.Broker, p.Logger),
		policy:       p.Policy,
		productCode:  p.ProductCode,
		env:          p.Env,
		logger:       p.Logger,
		state:        StateIdle,
		clock:        time.Now,
		retryBackoff: orderRetryBackoff,
	}, nil
}

// State returns the current state machine phase.
func (e *Executor) State() State { return e.state }

// Run executes one full rebalance cycle. The returned report is always
// non-nil; a non-nil error means the run aborted or completed with an
// unresolved deficit.
func (e *Executor) Run(ctx context.Context) (*core.ExecutionReport, error) {
	report := &core.ExecutionReport{
		RunID:     uuid.New().String(),
		StartedAt: e.clock(),
	}
	log := e.logger.WithField("run_id", report.RunID)
	log.Info("rebalance run starting",
		"dry_run", e.policy.DryRun,
		"env", e.env)

	// CancelPending. A dry run never calls cancelOrder.
	e.transition(StateCancelPending, log)
	var uncancelled []core.PendingOrder
	if !e.policy.DryRun {
		var err error
		uncancelled, err = e.cancelPending(ctx, log)
		if err != nil {
			return e.abort(report, err, log)
		}
	}

	// Planning.
	e.transition(StatePlanning, log)
	plan, planErr := e.buildPlan(ctx, uncancelled, log)
	if planErr != nil {
		var deficit *core.DeficitUnresolvedError
		if !errors.As(planErr, &deficit) || plan == nil {
			return e.abort(report, planErr, log)
		}
		// Unresolved deficit: execute the mitigation sells anyway and
		// surface the error on the report.
		log.Error("deficit cannot be fully resolved, executing mitigation sells",
			"deficit", deficit.Deficit.String(),
			"liquidation_value", deficit.LiquidationValue.String())
		report.Err = planErr
	}
	plan.RunID = report.RunID
	report.Plan = plan

	if len(plan.Orders) == 0 {
		log.Info("portfolio already on target, nothing to execute")
		return e.complete(report, log)
	}

	// GuardCheck. Dry runs compute the plan only, so guards do not apply.
	if !e.policy.DryRun {
		e.transition(StateGuardCheck, log)
		gctx := core.GuardContext{
			Now:                e.clock(),
			AccountProductCode: e.productCode,
			Env:                e.env,
		}
		if err := e.guards.Evaluate(gctx, e.policy.IgnoreGuards); err != nil {
			return e.abort(report, err, log)
		}
	}

	// Executing.
	e.transition(StateExecuting, log)
	if e.policy.DryRun {
		for _, order := range plan.Orders {
			report.Outcomes = append(report.Outcomes, core.OrderOutcome{
				Order:  order,
				Status: core.OutcomeSkipped,
			})
		}
		log.Info("dry run complete, no orders placed", "planned_orders", len(plan.Orders))
		return e.complete(report, log)
	}
	if err := e.executeOrders(ctx, plan, report, log); err != nil {
		return e.abort(report, err, log)
	}
	return e.complete(report, log)
}

// cancelPending cancels every stale order and returns the ones that survived
// cancellation in lenient mode so planning can account for them.
func (e *Executor) cancelPending(ctx context.Context, log core.ILogger) ([]core.PendingOrder, error) {
	pending, err := e.broker.GetPendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	log.Info("cancelling stale pending orders", "count", len(pending))

	failures := e.canceler.CancelAll(ctx, pending)
	if len(failures) == 0 {
		return nil, nil
	}
	if e.policy.StrictCancellation {
		return nil, failures[0]
	}
	// Lenient mode accepts the stale-order interference risk; the survivors
	// are netted into the expected positions instead.
	log.Warn("continuing with uncancelled pending orders", "failures", len(failures))
	uncancelled := make([]core.PendingOrder, 0, len(failures))
	for _, f := range failures {
		uncancelled = append(uncancelled, f.Order)
	}
	return uncancelled, nil
}

func (e *Executor) buildPlan(ctx context.Context, uncancelled []core.PendingOrder, log core.ILogger) (*core.RebalancePlan, error) {
	snapshot, err := e.broker.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	netPendingOrders(snapshot, uncancelled)
	log.Info("account snapshot fetched",
		"holdings", len(snapshot.Holdings),
		"orderable_cash", snapshot.Cash.Orderable.String(),
		"pending_orders", len(snapshot.PendingOrders))

	prices, err := e.collectPrices(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	return e.pipeline.BuildPlan(snapshot, e.targets, prices)
}

// netPendingOrders folds uncancelled stale orders into the snapshot's
// holdings so the plan is built against the positions the account will hold
// once they fill: buys add their remaining quantity, sells subtract it.
func netPendingOrders(snapshot *core.AccountSnapshot, uncancelled []core.PendingOrder) {
	if len(uncancelled) == 0 {
		return
	}
	snapshot.PendingOrders = uncancelled

	index := make(map[string]int, len(snapshot.Holdings))
	for i, h := range snapshot.Holdings {
		index[h.Ticker] = i
	}
	for _, o := range uncancelled {
		delta := o.Quantity
		if o.Side == core.SideSell {
			delta = -delta
		}
		if i, ok := index[o.Ticker]; ok {
			qty := snapshot.Holdings[i].Quantity + delta
			if qty < 0 {
				qty = 0
			}
			snapshot.Holdings[i].Quantity = qty
			snapshot.Holdings[i].MarketValue = snapshot.Holdings[i].LastPrice.Mul(decimal.NewFromInt(qty))
			continue
		}
		if delta > 0 {
			index[o.Ticker] = len(snapshot.Holdings)
			snapshot.Holdings = append(snapshot.Holdings, core.Holding{
				Ticker:   o.Ticker,
				Quantity: delta,
			})
		}
	}
}

// collectPrices reuses the snapshot's last prices and fetches quotes for
// target tickers the account does not hold, plus any netted-in pending
// position that arrived without a quote.
func (e *Executor) collectPrices(ctx context.Context, snapshot *core.AccountSnapshot) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(e.targets)+len(snapshot.Holdings))
	var missing []string
	for _, h := range snapshot.Holdings {
		if h.LastPrice.Sign() > 0 {
			prices[h.Ticker] = h.LastPrice
		} else {
			missing = append(missing, h.Ticker)
		}
	}
	for ticker := range e.targets {
		if _, ok := prices[ticker]; !ok && !contains(missing, ticker) {
			missing = append(missing, ticker)
		}
	}
	if len(missing) == 0 {
		return prices, nil
	}
	fetched, err := e.broker.GetPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for ticker, price := range fetched {
		prices[ticker] = price
	}
	return prices, nil
}

func (e *Executor) executeOrders(ctx context.Context, plan *core.RebalancePlan, report *core.ExecutionReport, log core.ILogger) error {
	totalValue := e.thresholdBase(plan)
	failedValue := decimal.Zero
	maxAttempts := 1
	if e.policy.PersistentRetry {
		maxAttempts = persistentRetryAttempts
	}

	for i, order := range plan.Orders {
		if i > 0 && e.policy.OrderDelay > 0 {
			if err := sleepCtx(ctx, e.policy.OrderDelay); err != nil {
				e.skipRemaining(plan.Orders[i:], report)
				return err
			}
		}

		orderID, attempts, err := e.placeWithRetry(ctx, order, maxAttempts, log)
		if err == nil {
			report.Outcomes = append(report.Outcomes, core.OrderOutcome{
				Order:    order,
				Status:   core.OutcomeFilled,
				OrderID:  orderID,
				Attempts: attempts,
			})
			continue
		}

		execErr := &core.OrderExecutionError{Order: order, Attempts: attempts, Err: err}
		report.Outcomes = append(report.Outcomes, core.OrderOutcome{
			Order:    order,
			Status:   core.OutcomeFailed,
			Attempts: attempts,
			Err:      execErr,
		})

		if !e.policy.PersistentRetry {
			// A single failure aborts the rest; filled orders stand.
			e.skipRemaining(plan.Orders[i+1:], report)
			return execErr
		}

		failedValue = failedValue.Add(order.Value(planPrice(plan, order)))
		if totalValue.Sign() > 0 && failedValue.GreaterThan(e.policy.RetryThreshold.Mul(totalValue)) {
			log.Error("cumulative failed order value breached the retry threshold",
				"failed_value", failedValue.String(),
				"threshold", e.policy.RetryThreshold.String())
			e.skipRemaining(plan.Orders[i+1:], report)
			return execErr
		}
		log.Warn("order failed, continuing under persistent retry",
			"ticker", order.Ticker,
			"failed_value", failedValue.String())
	}
	return nil
}

func (e *Executor) placeWithRetry(ctx context.Context, order core.PlannedOrder, maxAttempts int, log core.ILogger) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		orderID, err := e.broker.PlaceOrder(ctx, order.Ticker, order.Side, order.Quantity, order.Style)
		if err == nil {
			log.Info("order placed",
				"ticker", order.Ticker,
				"side", string(order.Side),
				"quantity", order.Quantity,
				"order_id", orderID,
				"attempt", attempt)
			return orderID, attempt, nil
		}
		lastErr = err
		log.Warn("order attempt failed",
			"ticker", order.Ticker,
			"side", string(order.Side),
			"attempt", attempt,
			"error", err.Error())
		if attempt < maxAttempts && e.retryBackoff > 0 {
			if serr := sleepCtx(ctx, e.retryBackoff); serr != nil {
				return "", attempt, serr
			}
		}
	}
	return "", maxAttempts, lastErr
}

func (e *Executor) skipRemaining(orders []core.PlannedOrder, report *core.ExecutionReport) {
	for _, order := range orders {
		report.Outcomes = append(report.Outcomes, core.OrderOutcome{
			Order:  order,
			Status: core.OutcomeSkipped,
		})
	}
}

// thresholdBase is the portfolio value the retry threshold is measured
// against.
func (e *Executor) thresholdBase(plan *core.RebalancePlan) decimal.Decimal {
	if plan.BaseValue.Sign() > 0 {
		return plan.BaseValue
	}
	return decimal.Zero
}

func (e *Executor) transition(next State, log core.ILogger) {
	log.Debug("state transition", "from", string(e.state), "to", string(next))
	e.state = next
}

func (e *Executor) complete(report *core.ExecutionReport, log core.ILogger) (*core.ExecutionReport, error) {
	e.state = StateCompleted
	report.FinalState = string(StateCompleted)
	report.FinishedAt = e.clock()
	log.Info("rebalance run completed", "outcomes", len(report.Outcomes))
	return report, report.Err
}

func (e *Executor) abort(report *core.ExecutionReport, err error, log core.ILogger) (*core.ExecutionReport, error) {
	e.state = StateAborted
	report.FinalState = string(StateAborted)
	// An unresolved-deficit error recorded during planning must survive the
	// abort; joining keeps both reachable through errors.As.
	if report.Err != nil {
		err = errors.Join(report.Err, err)
	}
	report.Err = err
	report.FinishedAt = e.clock()
	log.Error("rebalance run aborted", "error", err.Error())
	return report, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// planPrice looks up the quote an order was planned against.
func planPrice(plan *core.RebalancePlan, order core.PlannedOrder) decimal.Decimal {
	if plan.Prices == nil {
		return decimal.Zero
	}
	return plan.Prices[order.Ticker]
}
