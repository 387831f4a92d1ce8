package rebalance

import "github.com/shopspring/decimal"

// FloorQuantity converts a monetary target into a tradable share count.
// Floor-biased so a plan built from it can never overspend its budget.
func FloorQuantity(value, price decimal.Decimal) int64 {
	if price.Sign() <= 0 || value.Sign() <= 0 {
		return 0
	}
	return value.Div(price).IntPart()
}

// ClampOrderValue caps a quantity so its notional stays at or below maxValue.
// A non-positive maxValue disables the cap.
func ClampOrderValue(qty int64, price, maxValue decimal.Decimal) int64 {
	if maxValue.Sign() <= 0 || qty <= 0 {
		return qty
	}
	if price.Mul(decimal.NewFromInt(qty)).LessThanOrEqual(maxValue) {
		return qty
	}
	return FloorQuantity(maxValue, price)
}
