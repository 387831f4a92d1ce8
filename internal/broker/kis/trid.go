package kis

// Every KIS endpoint requires a tr_id header identifying the transaction.
// The simulated venue (dev) uses the V-prefixed set, production the
// T-prefixed set; quotes share one id across both.

type trKey string

const (
	trBalance     trKey = "balance"
	trDailyOrders trKey = "daily_orders"
	trOrderBuy    trKey = "order_buy"
	trOrderSell   trKey = "order_sell"
	trOrderCancel trKey = "order_cancel"
	trPrice       trKey = "price"
)

var trIDs = map[trKey]map[string]string{
	trBalance:     {"dev": "VTTC8434R", "prod": "TTTC8434R"},
	trDailyOrders: {"dev": "VTTC8001R", "prod": "TTTC8001R"},
	trOrderBuy:    {"dev": "VTTC0802U", "prod": "TTTC0802U"},
	trOrderSell:   {"dev": "VTTC0801U", "prod": "TTTC0801U"},
	trOrderCancel: {"dev": "VTTC0803U", "prod": "TTTC0803U"},
	trPrice:       {"dev": "FHKST01010100", "prod": "FHKST01010100"},
}

func trID(key trKey, env string) string {
	return trIDs[key][env]
}
