package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the venue-native order direction: Bid buys base, Ask sells base.
type Side string

type OrderType string

// OrderStatus is the status reported by the venue for an order record.
type OrderStatus string

const (
	Bid Side = "Bid"
	Ask Side = "Ask"
)

const (
	Limit  OrderType = "Limit"
	Market OrderType = "Market"
)

const (
	OrderNew             OrderStatus = "New"
	OrderPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderFilled          OrderStatus = "Filled"
	OrderCancelled       OrderStatus = "Cancelled"
	OrderExpired         OrderStatus = "Expired"
)

// Order is a venue order record as parsed from API responses.
type Order struct {
	ID               string
	ClientID         int64
	Symbol           string
	Side             Side
	Type             OrderType
	Price            decimal.Decimal
	Qty              decimal.Decimal
	ExecutedQty      decimal.Decimal
	ExecutedQuoteQty decimal.Decimal
	Status           OrderStatus
	TimeInForce      string
	PostOnly         bool
	CreatedAt        time.Time
}

// AvgFillPrice is the quantity-weighted average fill price, or zero if
// nothing executed yet.
func (o Order) AvgFillPrice() decimal.Decimal {
	if o.ExecutedQty.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	if o.ExecutedQuoteQty.Cmp(decimal.Zero) <= 0 {
		return o.Price
	}
	return o.ExecutedQuoteQty.Div(o.ExecutedQty)
}

type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Volume decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Change decimal.Decimal
}

// Trade is one fill as reported by the venue's fill history.
type Trade struct {
	ID       string
	OrderID  string
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Fee      decimal.Decimal
	FeeAsset string
	IsMaker  bool
	Time     time.Time
}

type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// Balances maps currency -> balance, as returned by the capital endpoint.
type Balances map[string]Balance

// Free returns the free balance for asset, zero if the asset is absent.
func (b Balances) Free(asset string) decimal.Decimal {
	return b[asset].Free
}
