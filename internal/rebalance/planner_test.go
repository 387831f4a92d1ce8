package rebalance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/core"
	"rebalancer/pkg/logging"
)

func testConfig() core.RebalanceConfig {
	return core.RebalanceConfig{
		BandPct:         decimal.NewFromFloat(1.0),
		OrderStyle:      core.StyleMarket,
		SafetyMarginPct: decimal.NewFromFloat(1.0),
	}
}

func newTestPlanner(cfg core.RebalanceConfig) *Planner {
	return NewPlanner(cfg, core.DefaultSearchPolicy(), logging.NopLogger{})
}

func prices(kv map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(kv))
	for k, v := range kv {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

func weights(kv map[string]float64) core.TargetAllocation {
	out := make(core.TargetAllocation, len(kv))
	for k, v := range kv {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

// Documented regression scenario: 663,280 cash against a single 4,551-won
// ticker is feasible at the very first reserve fraction with exactly one buy
// worth of room and 3,385 left over.
func TestPlannerWorkedExample(t *testing.T) {
	planner := newTestPlanner(testConfig())

	plan, err := planner.Plan(
		decimal.NewFromInt(663280),
		map[string]int64{},
		weights(map[string]float64{"475080": 1.0}),
		prices(map[string]float64{"475080": 4551}),
	)
	require.NoError(t, err)

	assert.True(t, plan.ReserveFraction.IsZero(), "reserve = %s", plan.ReserveFraction)
	assert.Equal(t, int64(145), plan.TargetQuantities["475080"])
	assert.True(t, plan.LeftoverCash.Equal(decimal.NewFromInt(3385)), "leftover = %s", plan.LeftoverCash)
}

func TestPlannerIdempotentWhenWithinBand(t *testing.T) {
	planner := newTestPlanner(testConfig())

	current := map[string]int64{"379810": 263, "458730": 246, "329750": 78}
	px := prices(map[string]float64{"379810": 2280, "458730": 1220, "329750": 1282})
	targets := weights(map[string]float64{"379810": 0.6, "458730": 0.3, "329750": 0.1})

	// every position already within 1% of its target weight
	base := decimal.NewFromInt(999756)
	plan, err := planner.Plan(base, current, targets, px)
	require.NoError(t, err)

	assert.Equal(t, current, plan.TargetQuantities)
}

func TestPlannerInfeasibleNamesSearchRange(t *testing.T) {
	planner := newTestPlanner(testConfig())

	// one share costs five times the whole budget; no reserve fraction helps
	_, err := planner.Plan(
		decimal.NewFromInt(100000),
		map[string]int64{},
		weights(map[string]float64{"X": 1.0}),
		prices(map[string]float64{"X": 500000}),
	)

	var infeasible *core.InfeasiblePlanError
	require.ErrorAs(t, err, &infeasible)
	assert.True(t, infeasible.From.IsZero())
	assert.True(t, infeasible.To.Equal(decimal.NewFromInt(1)))
	assert.True(t, infeasible.Step.Equal(decimal.NewFromFloat(0.005)))
}

func TestPlannerLeftoverNeverNegative(t *testing.T) {
	planner := newTestPlanner(testConfig())

	cases := []struct {
		base    float64
		targets map[string]float64
		px      map[string]float64
	}{
		{663280, map[string]float64{"A": 1.0}, map[string]float64{"A": 4551}},
		{1000000, map[string]float64{"A": 0.6, "B": 0.3, "C": 0.1}, map[string]float64{"A": 2280, "B": 1220, "C": 1282}},
		{150000, map[string]float64{"A": 0.5, "B": 0.5}, map[string]float64{"A": 5000, "B": 1000}},
	}
	for _, tc := range cases {
		plan, err := planner.Plan(decimal.NewFromFloat(tc.base), map[string]int64{}, weights(tc.targets), prices(tc.px))
		require.NoError(t, err)
		assert.False(t, plan.LeftoverCash.IsNegative(), "leftover = %s", plan.LeftoverCash)
	}
}

func TestPlannerRealizedValuesSpanTheBase(t *testing.T) {
	planner := newTestPlanner(testConfig())

	px := prices(map[string]float64{"A": 2280, "B": 1220, "C": 1282})
	targets := weights(map[string]float64{"A": 0.6, "B": 0.3, "C": 0.1})
	base := decimal.NewFromInt(1000000)

	plan, err := planner.Plan(base, map[string]int64{}, targets, px)
	require.NoError(t, err)

	realized := decimal.Zero
	for ticker, qty := range plan.TargetQuantities {
		realized = realized.Add(px[ticker].Mul(decimal.NewFromInt(qty)))
	}
	assert.True(t, realized.Add(plan.LeftoverCash).Equal(base),
		"realized %s + leftover %s != base %s", realized, plan.LeftoverCash, base)
}

func TestPlannerTopUpSpendsLeftoverCheapestFirst(t *testing.T) {
	planner := newTestPlanner(testConfig())

	plan, err := planner.Plan(
		decimal.NewFromInt(10150),
		map[string]int64{},
		weights(map[string]float64{"A": 0.5, "B": 0.5}),
		prices(map[string]float64{"A": 100, "B": 1000}),
	)
	require.NoError(t, err)

	// floor gives A=50, B=5 with 150 left; the cheap ticker absorbs one more share
	assert.Equal(t, int64(51), plan.TargetQuantities["A"])
	assert.Equal(t, int64(5), plan.TargetQuantities["B"])
	assert.True(t, plan.LeftoverCash.Equal(decimal.NewFromInt(50)), "leftover = %s", plan.LeftoverCash)
}

func TestPlannerBandExclusionHoldsValueAndRescales(t *testing.T) {
	planner := newTestPlanner(testConfig())

	// A sits exactly on target and must not trade; B and C split what remains
	base := decimal.NewFromInt(1000000)
	current := map[string]int64{"A": 60, "B": 0, "C": 0}
	px := prices(map[string]float64{"A": 10000, "B": 1000, "C": 1000})
	targets := weights(map[string]float64{"A": 0.6, "B": 0.3, "C": 0.1})

	plan, err := planner.Plan(base, current, targets, px)
	require.NoError(t, err)

	assert.Equal(t, int64(60), plan.TargetQuantities["A"], "within-band ticker keeps its quantity")
	// remaining 400,000 split 3:1 between B and C
	assert.Equal(t, int64(300), plan.TargetQuantities["B"])
	assert.Equal(t, int64(100), plan.TargetQuantities["C"])
}

func TestPlannerBandEdgeExclusionStaysFeasible(t *testing.T) {
	planner := newTestPlanner(testConfig())

	// A and B are each 0.9% over target: inside the 1% band, so both freeze
	// at 459,000 apiece and only 82,000 remains for C. C can never reach its
	// raw 10% weight from that; feasibility must be judged against the
	// rescaled 8.2% target instead.
	base := decimal.NewFromInt(1000000)
	current := map[string]int64{"A": 459, "B": 459, "C": 0}
	px := prices(map[string]float64{"A": 1000, "B": 1000, "C": 100})
	targets := weights(map[string]float64{"A": 0.45, "B": 0.45, "C": 0.10})

	plan, err := planner.Plan(base, current, targets, px)
	require.NoError(t, err)

	assert.True(t, plan.ReserveFraction.IsZero(), "reserve = %s", plan.ReserveFraction)
	assert.Equal(t, int64(459), plan.TargetQuantities["A"])
	assert.Equal(t, int64(459), plan.TargetQuantities["B"])
	assert.Equal(t, int64(820), plan.TargetQuantities["C"])
	assert.True(t, plan.LeftoverCash.IsZero(), "leftover = %s", plan.LeftoverCash)
}

func TestPlannerSafetyMarginShrinksBase(t *testing.T) {
	cfg := testConfig()
	cfg.ApplySafetyMargin = true
	planner := newTestPlanner(cfg)

	plan, err := planner.Plan(
		decimal.NewFromInt(100000),
		map[string]int64{},
		weights(map[string]float64{"A": 1.0}),
		prices(map[string]float64{"A": 100}),
	)
	require.NoError(t, err)

	// 1% margin: 99,000 investable, 990 shares
	assert.Equal(t, int64(990), plan.TargetQuantities["A"])
	assert.True(t, plan.BaseValue.Equal(decimal.NewFromInt(99000)))
}

func TestPlannerSellsOffNonTargetHolding(t *testing.T) {
	planner := newTestPlanner(testConfig())

	// Z is held but absent from the targets; its weight breaches the band so
	// its target quantity goes to zero
	base := decimal.NewFromInt(1000000)
	current := map[string]int64{"Z": 100}
	px := prices(map[string]float64{"A": 1000, "Z": 2000})
	targets := weights(map[string]float64{"A": 1.0})

	plan, err := planner.Plan(base, current, targets, px)
	require.NoError(t, err)

	assert.Equal(t, int64(0), plan.TargetQuantities["Z"])
	assert.Equal(t, int64(1000), plan.TargetQuantities["A"])
}

func TestPlannerRejectsInvalidWeights(t *testing.T) {
	planner := newTestPlanner(testConfig())

	_, err := planner.Plan(
		decimal.NewFromInt(100000),
		map[string]int64{},
		weights(map[string]float64{"A": 0.6, "B": 0.3}),
		prices(map[string]float64{"A": 100, "B": 100}),
	)

	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPlannerMissingPrice(t *testing.T) {
	planner := newTestPlanner(testConfig())

	_, err := planner.Plan(
		decimal.NewFromInt(100000),
		map[string]int64{},
		weights(map[string]float64{"A": 1.0}),
		map[string]decimal.Decimal{},
	)

	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Field, "A")
}
