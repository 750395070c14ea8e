package ledger

import (
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
)

// Status is the ledger's view of an order, distinct from the venue's
// richer status set. Transitions are Open -> {Closed, Cancelled} only.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Order is one ledger entry. FilledPrice/FilledAmount/Profit stay nil
// until the venue reports a fill; Profit is populated only for Ask fills.
type Order struct {
	ID           string
	Symbol       string
	Side         core.Side
	Price        decimal.Decimal
	Amount       decimal.Decimal
	Status       Status
	CreatedAt    time.Time
	ClosedAt     *time.Time
	FilledPrice  *decimal.Decimal
	FilledAmount *decimal.Decimal
	Profit       *decimal.Decimal
}

// Ledger is the in-memory record of every order the engine has placed,
// keyed by venue order id. It is owned by the engine's control loop and
// is not safe for concurrent use.
type Ledger struct {
	orders map[string]*Order
	logger *log.Logger
	now    func() time.Time
}

func New(logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		orders: make(map[string]*Order),
		logger: logger,
		now:    time.Now,
	}
}

// SetNow overrides the clock used for close stamping.
func (l *Ledger) SetNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

func (l *Ledger) Add(order Order) {
	if order.Status == "" {
		order.Status = StatusOpen
	}
	l.orders[order.ID] = &order
	l.logger.Printf("level=INFO event=ledger_order_added order_id=%s side=%s amount=%s price=%s",
		order.ID, order.Side, order.Amount.String(), order.Price.String())
}

// UpdateStatus moves an order to status and records fill details when both
// filledPrice and filledAmount are supplied. Unknown ids are logged and
// ignored: the order may belong to a prior run or be venue-external.
// Terminal states are sticky; the closed-at stamp is written exactly once.
func (l *Ledger) UpdateStatus(id string, status Status, filledPrice, filledAmount *decimal.Decimal) {
	order, ok := l.orders[id]
	if !ok {
		l.logger.Printf("level=WARN event=ledger_unknown_order order_id=%s status=%s", id, status)
		return
	}
	if order.Status != StatusOpen && order.Status != status {
		l.logger.Printf("level=WARN event=ledger_terminal_transition_ignored order_id=%s from=%s to=%s",
			id, order.Status, status)
		return
	}
	order.Status = status
	if (status == StatusClosed || status == StatusCancelled) && order.ClosedAt == nil {
		at := l.now()
		order.ClosedAt = &at
	}
	if filledPrice != nil && filledAmount != nil {
		order.FilledPrice = filledPrice
		order.FilledAmount = filledAmount
		if order.Side == core.Ask {
			profit := filledPrice.Sub(order.Price).Mul(*filledAmount)
			order.Profit = &profit
		}
	}
	l.logger.Printf("level=INFO event=ledger_order_updated order_id=%s status=%s", id, status)
}

func (l *Ledger) Get(id string) (Order, bool) {
	order, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

func (l *Ledger) OpenOrders() []Order {
	return l.byStatus(StatusOpen)
}

func (l *Ledger) ClosedOrders() []Order {
	return l.byStatus(StatusClosed)
}

// TotalRealizedProfit sums every populated profit field.
func (l *Ledger) TotalRealizedProfit() decimal.Decimal {
	total := decimal.Zero
	for _, order := range l.orders {
		if order.Profit != nil {
			total = total.Add(*order.Profit)
		}
	}
	return total
}

func (l *Ledger) byStatus(status Status) []Order {
	out := make([]Order, 0)
	for _, order := range l.orders {
		if order.Status == status {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Summary is the periodic human-readable status report.
type Summary struct {
	OpenCount   int
	ClosedCount int
	TotalProfit decimal.Decimal
	RecentFills []Order
}

const recentFillCount = 5

// Summarize reports open/closed counts, total realized profit, and the
// most recently closed orders.
func (l *Ledger) Summarize() Summary {
	closed := l.ClosedOrders()
	sort.Slice(closed, func(i, j int) bool {
		ti, tj := closed[i].CreatedAt, closed[j].CreatedAt
		if closed[i].ClosedAt != nil {
			ti = *closed[i].ClosedAt
		}
		if closed[j].ClosedAt != nil {
			tj = *closed[j].ClosedAt
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return closed[i].ID < closed[j].ID
	})
	recent := closed
	if len(recent) > recentFillCount {
		recent = recent[len(recent)-recentFillCount:]
	}
	return Summary{
		OpenCount:   len(l.OpenOrders()),
		ClosedCount: len(closed),
		TotalProfit: l.TotalRealizedProfit(),
		RecentFills: recent,
	}
}

// Log writes the summary in the engine's key=value format.
func (s Summary) Log(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("level=INFO event=order_summary open=%d closed=%d total_profit=%s",
		s.OpenCount, s.ClosedCount, s.TotalProfit.StringFixed(2))
	for _, order := range s.RecentFills {
		filledPrice := "-"
		if order.FilledPrice != nil {
			filledPrice = order.FilledPrice.String()
		}
		profit := "-"
		if order.Profit != nil {
			profit = order.Profit.StringFixed(2)
		}
		logger.Printf("level=INFO event=order_summary_fill order_id=%s side=%s amount=%s price=%s filled_price=%s profit=%s",
			order.ID, order.Side, order.Amount.String(), order.Price.String(), filledPrice, profit)
	}
}
