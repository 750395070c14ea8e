package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
)

// CreateOrderRequest carries the parameters for a new order. Price is
// required for limit orders and must be absent for market orders; the
// client rejects invalid combinations before any network call.
type CreateOrderRequest struct {
	Symbol      string
	Type        core.OrderType
	Side        core.Side
	Amount      decimal.Decimal
	Price       decimal.Decimal
	PostOnly    bool
	TimeInForce string
	ClientID    int64
}

// Exchange is the narrow venue contract the engine depends on. Every call
// is a fresh blocking round trip; the implementation holds no engine state.
type Exchange interface {
	FetchTicker(ctx context.Context, symbol string) (core.Ticker, error)
	FetchBalance(ctx context.Context) (core.Balances, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (core.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
	FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]core.Trade, error)
}
