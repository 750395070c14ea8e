package safety

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
	"backpack-grid/internal/exchange"
)

type scriptedExchange struct {
	createErr error
	cancelErr error
}

func (s *scriptedExchange) FetchTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	return core.Ticker{Symbol: symbol, Last: decimal.NewFromInt(150)}, nil
}

func (s *scriptedExchange) FetchBalance(ctx context.Context) (core.Balances, error) {
	return core.Balances{}, nil
}

func (s *scriptedExchange) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (core.Order, error) {
	if s.createErr != nil {
		return core.Order{}, s.createErr
	}
	return core.Order{ID: "ok"}, nil
}

func (s *scriptedExchange) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	if s.cancelErr != nil {
		return core.Order{}, s.cancelErr
	}
	return core.Order{ID: orderID, Status: core.OrderCancelled}, nil
}

func (s *scriptedExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return nil, nil
}

func (s *scriptedExchange) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]core.Trade, error) {
	return nil, nil
}

type recordingAlerter struct {
	events []string
}

func (r *recordingAlerter) Important(event string, fields map[string]string) {
	r.events = append(r.events, event)
}

func placeOnce(t *testing.T, m *Monitor) error {
	t.Helper()
	_, err := m.CreateOrder(context.Background(), exchange.CreateOrderRequest{
		Symbol:      "SOL_USDC",
		Type:        core.Limit,
		Side:        core.Bid,
		Amount:      decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
		TimeInForce: "GTC",
	})
	return err
}

func TestMonitorElevatesAfterThreshold(t *testing.T) {
	inner := &scriptedExchange{createErr: errors.New("venue down")}
	m := NewMonitor(inner, true, 3, 3, log.New(io.Discard, "", 0))
	alerter := &recordingAlerter{}
	m.SetAlerter(alerter)

	for i := 0; i < 5; i++ {
		if err := placeOnce(t, m); err == nil {
			t.Fatalf("CreateOrder() error = nil, want passthrough failure")
		}
	}
	// One elevation alert at the threshold, not one per failure.
	if len(alerter.events) != 1 || alerter.events[0] != "order_failures_elevated" {
		t.Fatalf("alerts = %v, want single order_failures_elevated", alerter.events)
	}
}

func TestMonitorRecoversOnSuccess(t *testing.T) {
	inner := &scriptedExchange{createErr: errors.New("venue down")}
	m := NewMonitor(inner, true, 2, 2, log.New(io.Discard, "", 0))
	alerter := &recordingAlerter{}
	m.SetAlerter(alerter)

	for i := 0; i < 2; i++ {
		_ = placeOnce(t, m)
	}
	inner.createErr = nil
	if err := placeOnce(t, m); err != nil {
		t.Fatalf("CreateOrder() error = %v, want success", err)
	}

	want := []string{"order_failures_elevated", "order_failures_recovered"}
	if len(alerter.events) != len(want) {
		t.Fatalf("alerts = %v, want %v", alerter.events, want)
	}
	for i := range want {
		if alerter.events[i] != want[i] {
			t.Fatalf("alerts = %v, want %v", alerter.events, want)
		}
	}

	// A fresh streak below the threshold stays quiet.
	inner.createErr = errors.New("venue down")
	_ = placeOnce(t, m)
	if len(alerter.events) != 2 {
		t.Fatalf("alerts = %v, want no new alert below threshold", alerter.events)
	}
}

func TestMonitorDisabledIsPassive(t *testing.T) {
	inner := &scriptedExchange{createErr: errors.New("venue down")}
	m := NewMonitor(inner, false, 1, 1, log.New(io.Discard, "", 0))
	alerter := &recordingAlerter{}
	m.SetAlerter(alerter)

	for i := 0; i < 3; i++ {
		_ = placeOnce(t, m)
	}
	if len(alerter.events) != 0 {
		t.Fatalf("alerts = %v, want none when disabled", alerter.events)
	}
}

func TestMonitorTracksCancelSeparately(t *testing.T) {
	inner := &scriptedExchange{cancelErr: errors.New("cancel rejected")}
	m := NewMonitor(inner, true, 5, 2, log.New(io.Discard, "", 0))
	alerter := &recordingAlerter{}
	m.SetAlerter(alerter)

	// Place succeeds; only the cancel streak should elevate.
	if err := placeOnce(t, m); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.CancelOrder(context.Background(), "o1", "SOL_USDC"); err == nil {
			t.Fatalf("CancelOrder() error = nil, want failure")
		}
	}
	if len(alerter.events) != 1 || alerter.events[0] != "order_failures_elevated" {
		t.Fatalf("alerts = %v, want single cancel elevation", alerter.events)
	}
}
