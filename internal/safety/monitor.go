package safety

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"backpack-grid/internal/alert"
	"backpack-grid/internal/core"
	"backpack-grid/internal/exchange"
)

// tracker counts consecutive failures for one action. Elevated is latched
// at the threshold and cleared by the next success.
type tracker struct {
	name        string
	maxFailures int
	failures    int
	elevated    bool
}

// Monitor wraps an exchange and watches order placement and cancellation
// for sustained failure streaks. It never blocks or rewrites a call; when
// a streak crosses the threshold it raises an alert, and raises another
// when the action recovers. The trading loop's own retry policy stays in
// charge.
type Monitor struct {
	inner   exchange.Exchange
	enabled bool
	logger  *log.Logger
	alerter alert.Alerter

	mu     sync.Mutex
	place  tracker
	cancel tracker
}

func NewMonitor(inner exchange.Exchange, enabled bool, maxPlaceFailures, maxCancelFailures int, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		inner:   inner,
		enabled: enabled,
		logger:  logger,
		place:   tracker{name: "place_order", maxFailures: maxPlaceFailures},
		cancel:  tracker{name: "cancel_order", maxFailures: maxCancelFailures},
	}
}

func (m *Monitor) SetAlerter(alerter alert.Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerter = alerter
}

var _ exchange.Exchange = (*Monitor)(nil)

func (m *Monitor) FetchTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	return m.inner.FetchTicker(ctx, symbol)
}

func (m *Monitor) FetchBalance(ctx context.Context) (core.Balances, error) {
	return m.inner.FetchBalance(ctx)
}

func (m *Monitor) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (core.Order, error) {
	order, err := m.inner.CreateOrder(ctx, req)
	m.record(&m.place, err)
	return order, err
}

func (m *Monitor) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	order, err := m.inner.CancelOrder(ctx, orderID, symbol)
	m.record(&m.cancel, err)
	return order, err
}

func (m *Monitor) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return m.inner.FetchOpenOrders(ctx, symbol)
}

func (m *Monitor) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]core.Trade, error) {
	return m.inner.FetchMyTrades(ctx, symbol, since, limit)
}

func (m *Monitor) record(t *tracker, err error) {
	if !m.enabled || t.maxFailures < 1 {
		return
	}
	m.mu.Lock()
	alerter := m.alerter
	if err == nil {
		streak := t.failures
		wasElevated := t.elevated
		t.failures = 0
		t.elevated = false
		m.mu.Unlock()
		if wasElevated {
			m.logger.Printf("level=INFO event=order_failures_recovered action=%s previous_streak=%d", t.name, streak)
			if alerter != nil {
				alerter.Important("order_failures_recovered", map[string]string{
					"action":          t.name,
					"previous_streak": strconv.Itoa(streak),
				})
			}
		}
		return
	}
	t.failures++
	streak := t.failures
	alreadyElevated := t.elevated
	if streak >= t.maxFailures {
		t.elevated = true
	}
	m.mu.Unlock()
	if streak >= t.maxFailures && !alreadyElevated {
		m.logger.Printf("level=WARN event=order_failures_elevated action=%s consecutive_failures=%d threshold=%d last_error=%q",
			t.name, streak, t.maxFailures, err.Error())
		if alerter != nil {
			alerter.Important("order_failures_elevated", map[string]string{
				"action":               t.name,
				"consecutive_failures": strconv.Itoa(streak),
				"threshold":            strconv.Itoa(t.maxFailures),
				"last_error":           err.Error(),
			})
		}
	}
}
