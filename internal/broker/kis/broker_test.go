package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/core"
	apperrors "rebalancer/pkg/errors"
	"rebalancer/pkg/logging"
)

type recordedRequest struct {
	Path    string
	TrID    string
	Hashkey string
	Query   map[string]string
	Body    map[string]string
}

// fakeVenue scripts KIS endpoint responses and records what the adapter sent.
type fakeVenue struct {
	mu        sync.Mutex
	responses map[string]interface{}
	requests  []recordedRequest
	server    *httptest.Server
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	v := &fakeVenue{responses: map[string]interface{}{}}
	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()

		switch r.URL.Path {
		case "/oauth2/tokenP":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "test-token",
				"expires_in":   3600,
			})
			return
		case "/uapi/hashkey":
			_ = json.NewEncoder(w).Encode(map[string]string{"HASH": "test-hash"})
			return
		}

		rec := recordedRequest{
			Path:    r.URL.Path,
			TrID:    r.Header.Get("tr_id"),
			Hashkey: r.Header.Get("hashkey"),
			Query:   map[string]string{},
		}
		for k, vals := range r.URL.Query() {
			rec.Query[k] = vals[0]
		}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		v.requests = append(v.requests, rec)

		resp, ok := v.responses[r.URL.Path]
		if !ok {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVenue) respond(path string, body interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responses[path] = body
}

func (v *fakeVenue) recorded() []recordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]recordedRequest, len(v.requests))
	copy(out, v.requests)
	return out
}

func newTestBroker(t *testing.T, venue *fakeVenue, productCode string) *Broker {
	t.Helper()
	b := New(Config{
		BaseURL:     venue.server.URL,
		AppKey:      "key",
		AppSecret:   "secret",
		AccountNo:   "12345678",
		ProductCode: productCode,
		Env:         "dev",
		RateLimit:   1000,
	}, logging.NopLogger{})
	// keep the token cache out of the user's real cache directory
	b.client.tokens.cachePath = filepath.Join(t.TempDir(), "token.json")
	b.client.tokens.Invalidate()
	return b
}

func TestGetBalanceMapsSnapshot(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/inquire-balance", map[string]interface{}{
		"rt_cd": "0",
		"output1": []map[string]string{
			{"pdno": "379810", "hldg_qty": "263", "prpr": "2280", "evlu_amt": "599640"},
			{"pdno": "458730", "hldg_qty": "0", "prpr": "1220", "evlu_amt": "0"}, // zero quantity dropped
		},
		"output2": []map[string]string{{
			"dnca_tot_amt":       "663280",
			"nxdy_excc_amt":      "663280",
			"prvs_rcdl_excc_amt": "663280",
			"ord_psbl_cash":      "663280",
			"tot_evlu_amt":       "1262920",
		}},
	})

	broker := newTestBroker(t, venue, "01")
	snap, err := broker.GetBalance(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "379810", snap.Holdings[0].Ticker)
	assert.Equal(t, int64(263), snap.Holdings[0].Quantity)
	assert.True(t, snap.Holdings[0].LastPrice.Equal(decimal.NewFromInt(2280)))
	assert.True(t, snap.Cash.Orderable.Equal(decimal.NewFromInt(663280)))
	assert.True(t, snap.Cash.TwoDay.Equal(decimal.NewFromInt(663280)))
	assert.True(t, snap.TotalAssetValue.Equal(decimal.NewFromInt(1262920)))

	// the simulated venue uses the V-prefixed transaction id
	reqs := venue.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "VTTC8434R", reqs[0].TrID)
	assert.Equal(t, "12345678", reqs[0].Query["CANO"])
	assert.Equal(t, "Y", reqs[0].Query["OFL_YN"])
}

func TestGetPendingOrdersFiltersFilled(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/inquire-daily-ccld", map[string]interface{}{
		"rt_cd": "0",
		"output1": []map[string]string{
			{"pdno": "379810", "sll_buy_dvsn_cd": "02", "ord_qty": "10", "tot_ccld_qty": "4", "rmn_qty": "6", "odno": "0001"},
			{"pdno": "458730", "sll_buy_dvsn_cd": "01", "ord_qty": "5", "tot_ccld_qty": "5", "rmn_qty": "0", "odno": "0002"},
			{"pdno": "329750", "sll_buy_dvsn_cd": "01", "ord_qty": "3", "tot_ccld_qty": "0", "rmn_qty": "3", "ord_gno_brno": "0003"},
		},
	})

	broker := newTestBroker(t, venue, "01")
	pending, err := broker.GetPendingOrders(context.Background())
	require.NoError(t, err)

	require.Len(t, pending, 2)
	assert.Equal(t, "0001", pending[0].OrderID)
	assert.Equal(t, core.SideBuy, pending[0].Side)
	assert.Equal(t, int64(6), pending[0].Quantity)
	// falls back to the branch order number when odno is empty
	assert.Equal(t, "0003", pending[1].OrderID)
	assert.Equal(t, core.SideSell, pending[1].Side)
}

func TestPlaceOrderMarketBuy(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/order-cash", map[string]interface{}{
		"rt_cd":  "0",
		"output": map[string]string{"ODNO": "0000117057"},
	})

	broker := newTestBroker(t, venue, "01")
	orderID, err := broker.PlaceOrder(context.Background(), "379810", core.SideBuy, 145, core.StyleMarket)
	require.NoError(t, err)
	assert.Equal(t, "0000117057", orderID)

	reqs := venue.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "VTTC0802U", reqs[0].TrID)
	assert.Equal(t, "test-hash", reqs[0].Hashkey)
	assert.Equal(t, "01", reqs[0].Body["ORD_DVSN"], "market order division")
	assert.Equal(t, "1", reqs[0].Body["ORD_UNPR"], "market orders carry the dummy unit price")
	assert.Equal(t, "145", reqs[0].Body["ORD_QTY"])
}

func TestPlaceOrderSellUsesSellTrID(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/order-cash", map[string]interface{}{
		"rt_cd":  "0",
		"output": map[string]string{"ODNO": "0000117058"},
	})

	broker := newTestBroker(t, venue, "01")
	_, err := broker.PlaceOrder(context.Background(), "379810", core.SideSell, 5, core.StyleMarket)
	require.NoError(t, err)

	reqs := venue.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "VTTC0801U", reqs[0].TrID)
}

func TestPlaceOrderRejectedByVenue(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/order-cash", map[string]interface{}{
		"rt_cd":  "1",
		"msg_cd": "40250000",
		"msg1":   "모의투자 주문가능금액이 부족합니다",
	})

	broker := newTestBroker(t, venue, "01")
	_, err := broker.PlaceOrder(context.Background(), "379810", core.SideBuy, 145, core.StyleMarket)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestPensionAccountRejectsOrderCallsLocally(t *testing.T) {
	venue := newFakeVenue(t)
	broker := newTestBroker(t, venue, "22")

	_, err := broker.PlaceOrder(context.Background(), "379810", core.SideBuy, 1, core.StyleMarket)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAccount)

	err = broker.CancelOrder(context.Background(), core.PendingOrder{OrderID: "1", Ticker: "379810", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAccount)

	assert.Empty(t, venue.recorded(), "no request may reach the venue")
}

func TestCancelOrderBody(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/order-rvsecncl", map[string]interface{}{
		"rt_cd": "0",
	})

	broker := newTestBroker(t, venue, "01")
	err := broker.CancelOrder(context.Background(), core.PendingOrder{
		OrderID:  "0000117057",
		Ticker:   "379810",
		Side:     core.SideBuy,
		Quantity: 6,
	})
	require.NoError(t, err)

	reqs := venue.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "VTTC0803U", reqs[0].TrID)
	assert.Equal(t, "0000117057", reqs[0].Body["ORGN_ODNO"])
	assert.Equal(t, "02", reqs[0].Body["RVSE_CNCL_DVSN_CD"])
	assert.Equal(t, "6", reqs[0].Body["ORD_QTY"])
}

func TestGetPrices(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/quotations/inquire-price", map[string]interface{}{
		"rt_cd":  "0",
		"output": map[string]string{"stck_prpr": "4551"},
	})

	broker := newTestBroker(t, venue, "01")
	prices, err := broker.GetPrices(context.Background(), []string{"475080", "379810"})
	require.NoError(t, err)

	require.Len(t, prices, 2)
	assert.True(t, prices["475080"].Equal(decimal.NewFromInt(4551)))
}

func TestGetPricesPropagatesFirstError(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/quotations/inquire-price", map[string]interface{}{
		"rt_cd":  "0",
		"output": map[string]string{"stck_prpr": "0"},
	})

	broker := newTestBroker(t, venue, "01")
	_, err := broker.GetPrices(context.Background(), []string{"475080", "379810", "329750"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTicker)
}

func TestGetPriceZeroIsError(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/quotations/inquire-price", map[string]interface{}{
		"rt_cd":  "0",
		"output": map[string]string{"stck_prpr": "0"},
	})

	broker := newTestBroker(t, venue, "01")
	_, err := broker.GetPrice(context.Background(), "475080")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTicker)
}

func TestProdEnvUsesLiveTrIDs(t *testing.T) {
	venue := newFakeVenue(t)
	venue.respond("/uapi/domestic-stock/v1/trading/inquire-balance", map[string]interface{}{
		"rt_cd":   "0",
		"output1": []map[string]string{},
		"output2": []map[string]string{{"ord_psbl_cash": "0"}},
	})

	broker := New(Config{
		BaseURL:     venue.server.URL,
		AppKey:      "key",
		AppSecret:   "secret",
		AccountNo:   "12345678",
		ProductCode: "01",
		Env:         "prod",
		RateLimit:   1000,
	}, logging.NopLogger{})
	broker.client.tokens.cachePath = filepath.Join(t.TempDir(), "token.json")
	broker.client.tokens.Invalidate()

	_, err := broker.GetBalance(context.Background())
	require.NoError(t, err)

	reqs := venue.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "TTTC8434R", reqs[0].TrID)
	assert.Equal(t, "N", reqs[0].Query["OFL_YN"])
}
