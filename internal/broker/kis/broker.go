package kis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rebalancer/internal/core"
	"rebalancer/internal/safety"
	"rebalancer/pkg/concurrency"
	apperrors "rebalancer/pkg/errors"
)

// pensionProductCode accounts cannot place or cancel orders through the open
// API; the adapter rejects those calls before any request goes out.
const pensionProductCode = "22"

// priceFetchWorkers bounds the concurrent quote lookups; the client's rate
// limiter still serializes the actual calls under load.
const priceFetchWorkers = 4

// Broker implements core.IBroker against the KIS domestic-stock API.
type Broker struct {
	client *Client
	cfg    Config
	logger core.ILogger
	pool   *concurrency.WorkerPool
}

func New(cfg Config, logger core.ILogger) *Broker {
	return &Broker{
		client: NewClient(cfg, logger),
		cfg:    cfg,
		logger: logger.WithField("broker", "kis"),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "kis-price-fetch",
			MaxWorkers: priceFetchWorkers,
		}, logger),
	}
}

func (b *Broker) GetName() string { return "kis" }

// CheckHealth verifies credentials by forcing a token round-trip.
func (b *Broker) CheckHealth(ctx context.Context) error {
	if _, err := b.client.tokens.Token(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrAuthenticationFailed, err)
	}
	return nil
}

func (b *Broker) accountParams() map[string]string {
	return map[string]string{
		"CANO":         b.cfg.AccountNo,
		"ACNT_PRDT_CD": b.cfg.ProductCode,
	}
}

func (b *Broker) oflYn() string {
	if b.cfg.Env == "prod" {
		return "N"
	}
	return "Y"
}

// GetBalance fetches the account snapshot: holdings from output1, the
// settlement-horizon cash amounts from the output2 summary.
func (b *Broker) GetBalance(ctx context.Context) (*core.AccountSnapshot, error) {
	params := b.accountParams()
	params["AFHR_FLPR_YN"] = "N"
	params["OFL_YN"] = b.oflYn()
	params["INQR_DVSN"] = "02"
	params["UNPR_DVSN"] = "01"
	params["FUND_STTL_ICLD_YN"] = "N"
	params["FNCG_AMT_AUTO_RDPT_YN"] = "N"
	params["PRCS_DVSN"] = "00"
	params["CTX_AREA_FK100"] = ""
	params["CTX_AREA_NK100"] = ""

	var resp balanceResponse
	if err := b.client.get(ctx, "/uapi/domestic-stock/v1/trading/inquire-balance", trBalance, params, &resp); err != nil {
		return nil, err
	}
	if err := resp.ok(); err != nil {
		return nil, err
	}

	snapshot := &core.AccountSnapshot{FetchedAt: time.Now()}
	for _, h := range resp.Output1 {
		qty := parseInt(h.HldgQty)
		if h.Pdno == "" || qty <= 0 {
			continue
		}
		price := parseDecimal(h.Prpr)
		value := parseDecimal(h.EvluAmt)
		if value.IsZero() {
			value = price.Mul(decimal.NewFromInt(qty))
		}
		snapshot.Holdings = append(snapshot.Holdings, core.Holding{
			Ticker:      h.Pdno,
			Quantity:    qty,
			LastPrice:   price,
			MarketValue: value,
		})
	}
	if len(resp.Output2) > 0 {
		summary := resp.Output2[0]
		twoDay := summary.D2ExccAmt
		if twoDay == "" {
			twoDay = summary.PrvsRcdlExccAmt
		}
		snapshot.Cash = core.CashBalances{
			Immediate: parseDecimal(summary.DncaTotAmt),
			NextDay:   parseDecimal(summary.NxdyExccAmt),
			TwoDay:    parseDecimal(twoDay),
			Orderable: parseDecimal(summary.OrdPsblCash),
		}
		snapshot.TotalAssetValue = parseDecimal(summary.TotEvluAmt)
	}

	b.logger.Info("balance fetched",
		"holdings", len(snapshot.Holdings),
		"orderable_cash", snapshot.Cash.Orderable.String(),
		"total_asset_value", snapshot.TotalAssetValue.String())
	return snapshot, nil
}

// GetPendingOrders lists today's orders with remaining quantity.
func (b *Broker) GetPendingOrders(ctx context.Context) ([]core.PendingOrder, error) {
	today := time.Now().In(safety.KST).Format("20060102")
	params := b.accountParams()
	params["INQR_STRT_DT"] = today
	params["INQR_END_DT"] = today
	params["SLL_BUY_DVSN_CD"] = "00"
	params["INQR_DVSN"] = "00"
	params["PDNO"] = ""
	params["CCLD_DVSN"] = "00"
	params["ORD_GNO_BRNO"] = ""
	params["ODNO"] = ""
	params["INQR_DVSN_3"] = "00"
	params["INQR_DVSN_1"] = ""
	params["CTX_AREA_FK100"] = ""
	params["CTX_AREA_NK100"] = ""

	var resp dailyOrdersResponse
	if err := b.client.get(ctx, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld", trDailyOrders, params, &resp); err != nil {
		return nil, err
	}
	if err := resp.ok(); err != nil {
		return nil, err
	}

	var pending []core.PendingOrder
	for _, o := range resp.Output1 {
		remaining := parseInt(o.RmnQty)
		if o.Pdno == "" || remaining <= 0 {
			continue
		}
		side := core.SideBuy
		if o.SllBuyDvsnCd == "01" {
			side = core.SideSell
		}
		id := o.Odno
		if id == "" {
			id = o.OrdGnoBrno
		}
		pending = append(pending, core.PendingOrder{
			OrderID:  id,
			Ticker:   o.Pdno,
			Side:     side,
			Quantity: remaining,
			Status:   core.OrderStatusPending,
		})
	}
	return pending, nil
}

// PlaceOrder submits a cash order. Market orders carry the venue's dummy unit
// price; limit orders are priced at the last quote.
func (b *Broker) PlaceOrder(ctx context.Context, ticker string, side core.OrderSide, qty int64, style core.OrderStyle) (string, error) {
	if b.cfg.ProductCode == pensionProductCode {
		return "", fmt.Errorf("%w: pension accounts cannot place orders", apperrors.ErrUnsupportedAccount)
	}
	if qty <= 0 {
		return "", apperrors.ErrInvalidOrderParameter
	}

	ordDvsn, ordUnpr := "01", "1"
	if style == core.StyleLimit {
		price, err := b.GetPrice(ctx, ticker)
		if err != nil {
			return "", err
		}
		ordDvsn, ordUnpr = "00", strconv.FormatInt(price.IntPart(), 10)
	}

	body := b.accountParams()
	body["PDNO"] = ticker
	body["ORD_DVSN"] = ordDvsn
	body["ORD_QTY"] = strconv.FormatInt(qty, 10)
	body["ORD_UNPR"] = ordUnpr

	tr := trOrderBuy
	if side == core.SideSell {
		tr = trOrderSell
	}

	var resp orderResponse
	if err := b.client.post(ctx, "/uapi/domestic-stock/v1/trading/order-cash", tr, body, &resp); err != nil {
		return "", err
	}
	if err := resp.ok(); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrOrderRejected, err)
	}
	return resp.Output.Odno, nil
}

// CancelOrder cancels the remaining quantity of a pending order.
func (b *Broker) CancelOrder(ctx context.Context, order core.PendingOrder) error {
	if b.cfg.ProductCode == pensionProductCode {
		return fmt.Errorf("%w: pension accounts cannot cancel orders", apperrors.ErrUnsupportedAccount)
	}

	body := b.accountParams()
	body["ORGN_ODNO"] = order.OrderID
	body["ORD_DVSN"] = "00"
	body["RVSE_CNCL_DVSN_CD"] = "02"
	body["ORD_QTY"] = strconv.FormatInt(order.Quantity, 10)
	body["ORD_UNPR"] = "0"
	body["QTY_ALL_ORD_YN"] = "N"

	var resp orderResponse
	if err := b.client.post(ctx, "/uapi/domestic-stock/v1/trading/order-rvsecncl", trOrderCancel, body, &resp); err != nil {
		return err
	}
	return resp.ok()
}

// GetPrice fetches the last traded price of one ticker.
func (b *Broker) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	params := map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         ticker,
	}
	var resp priceResponse
	if err := b.client.get(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price", trPrice, params, &resp); err != nil {
		return decimal.Zero, err
	}
	if err := resp.ok(); err != nil {
		return decimal.Zero, err
	}
	price := parseDecimal(resp.Output.StckPrpr)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s returned no price", apperrors.ErrInvalidTicker, ticker)
	}
	return price, nil
}

// GetPrices fetches quotes for several tickers; the worker pool bounds the
// in-flight lookups and the group cancels the rest on the first failure.
func (b *Broker) GetPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	var mu sync.Mutex
	out := make(map[string]decimal.Decimal, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		g.Go(func() error {
			var (
				price decimal.Decimal
				err   error
			)
			b.pool.SubmitAndWait(func() {
				price, err = b.GetPrice(gctx, ticker)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			out[ticker] = price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
