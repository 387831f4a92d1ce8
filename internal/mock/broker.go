// Package mock provides an in-memory broker for tests and dry-run wiring.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rebalancer/internal/core"
	apperrors "rebalancer/pkg/errors"
)

// Broker is a scripted in-memory implementation of core.IBroker. Snapshot,
// prices, and pending orders are set up front; placed orders and cancellations
// are recorded for assertions. Failures can be injected per ticker.
type Broker struct {
	mu sync.Mutex

	snapshot *core.AccountSnapshot
	prices   map[string]decimal.Decimal
	pending  []core.PendingOrder

	// failCounts maps ticker -> number of PlaceOrder calls that fail before
	// one succeeds. cancelFails maps order ID -> permanent cancel failure.
	failCounts  map[string]int
	cancelFails map[string]bool

	placed    []PlacedOrder
	cancelled []core.PendingOrder
}

// PlacedOrder records one accepted PlaceOrder call.
type PlacedOrder struct {
	OrderID string
	Ticker  string
	Side    core.OrderSide
	Qty     int64
	Style   core.OrderStyle
}

func NewBroker() *Broker {
	return &Broker{
		prices:      make(map[string]decimal.Decimal),
		failCounts:  make(map[string]int),
		cancelFails: make(map[string]bool),
	}
}

func (b *Broker) GetName() string { return "mock" }

func (b *Broker) CheckHealth(ctx context.Context) error { return nil }

// SetSnapshot scripts the balance response.
func (b *Broker) SetSnapshot(s *core.AccountSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = s
}

// SetPrice scripts one ticker's price.
func (b *Broker) SetPrice(ticker string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[ticker] = price
}

// SetPendingOrders scripts the open-order list.
func (b *Broker) SetPendingOrders(orders []core.PendingOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = orders
}

// FailOrders makes the next n PlaceOrder calls for the ticker fail.
func (b *Broker) FailOrders(ticker string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCounts[ticker] = n
}

// FailCancel makes every cancellation of the given order ID fail.
func (b *Broker) FailCancel(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelFails[orderID] = true
}

func (b *Broker) GetBalance(ctx context.Context) (*core.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, fmt.Errorf("mock broker: no snapshot scripted")
	}
	return b.snapshot, nil
}

func (b *Broker) GetPendingOrders(ctx context.Context) ([]core.PendingOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.PendingOrder, len(b.pending))
	copy(out, b.pending)
	return out, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, ticker string, side core.OrderSide, qty int64, style core.OrderStyle) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if qty <= 0 {
		return "", apperrors.ErrInvalidOrderParameter
	}
	if remaining := b.failCounts[ticker]; remaining > 0 {
		b.failCounts[ticker] = remaining - 1
		return "", apperrors.ErrOrderRejected
	}

	id := uuid.New().String()
	b.placed = append(b.placed, PlacedOrder{
		OrderID: id,
		Ticker:  ticker,
		Side:    side,
		Qty:     qty,
		Style:   style,
	})
	return id, nil
}

func (b *Broker) CancelOrder(ctx context.Context, order core.PendingOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelFails[order.OrderID] {
		return apperrors.ErrOrderNotFound
	}
	b.cancelled = append(b.cancelled, order)
	for i, p := range b.pending {
		if p.OrderID == order.OrderID {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Broker) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrInvalidTicker, ticker)
	}
	return price, nil
}

func (b *Broker) GetPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		price, err := b.GetPrice(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = price
	}
	return out, nil
}

// PlacedOrders returns every accepted order so far.
func (b *Broker) PlacedOrders() []PlacedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PlacedOrder, len(b.placed))
	copy(out, b.placed)
	return out
}

// CancelledOrders returns every successful cancellation so far.
func (b *Broker) CancelledOrders() []core.PendingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.PendingOrder, len(b.cancelled))
	copy(out, b.cancelled)
	return out
}
