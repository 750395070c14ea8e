package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/alert"
	"backpack-grid/internal/core"
	"backpack-grid/internal/exchange"
	"backpack-grid/internal/grid"
	"backpack-grid/internal/ledger"
	"backpack-grid/internal/risk"
)

// ErrRiskStopped is returned by Run when the risk guard breached. It is a
// designed terminal transition, not a failure.
var ErrRiskStopped = errors.New("risk stop triggered")

// State is the engine's run lifecycle. Transitions are
// Starting -> Active -> {RiskStopped, ShuttingDown}.
type State string

const (
	StateStarting     State = "starting"
	StateActive       State = "active"
	StateRiskStopped  State = "risk_stopped"
	StateShuttingDown State = "shutting_down"
)

type Options struct {
	Symbol        string
	Grid          grid.Spec
	Guard         risk.Guard
	FeeRate       decimal.Decimal
	PriceBand     decimal.Decimal
	MaxOpenOrders int
	PollInterval  time.Duration
	TimeInForce   string
	PostOnly      bool
	Logger        *log.Logger
	Alerts        alert.Alerter
}

// Engine owns the ladder and the ledger and drives order placement and
// cancellation through the exchange collaborator. Single-threaded: one
// synchronous poll-act-sleep cycle, shutdown checked at the loop boundary.
type Engine struct {
	exchange   exchange.Exchange
	ladder     grid.Ladder
	ledger     *ledger.Ledger
	policy     Policy
	guard      risk.Guard
	symbol     string
	baseAsset  string
	quoteAsset string
	band       decimal.Decimal
	maxOpen    int
	poll       time.Duration
	tif        string
	postOnly   bool
	logger     *log.Logger
	alerts     alert.Alerter
	state      State
	startedAt  time.Time
}

// New builds the ladder from the grid spec and wires the engine. Invalid
// ladder parameters fail here, before any venue call, and the engine does
// not start.
func New(ex exchange.Exchange, opts Options) (*Engine, error) {
	if ex == nil {
		return nil, errors.New("exchange is required")
	}
	base, quote, err := core.SplitSymbol(opts.Symbol)
	if err != nil {
		return nil, err
	}
	ladder, err := grid.Build(opts.Grid)
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("poll interval must be > 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	band := opts.PriceBand
	if band.Cmp(decimal.Zero) <= 0 {
		band = decimal.RequireFromString("0.1")
	}
	return &Engine{
		exchange:   ex,
		ladder:     ladder,
		ledger:     ledger.New(logger),
		policy:     Policy{Ladder: ladder, FeeRate: opts.FeeRate},
		guard:      opts.Guard,
		symbol:     opts.Symbol,
		baseAsset:  base,
		quoteAsset: quote,
		band:       band,
		maxOpen:    opts.MaxOpenOrders,
		poll:       opts.PollInterval,
		tif:        opts.TimeInForce,
		postOnly:   opts.PostOnly,
		logger:     logger,
		alerts:     opts.Alerts,
		state:      StateStarting,
	}, nil
}

// Ledger exposes the order ledger for reporting.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) State() State { return e.state }

// Run drives the engine until the context is cancelled or the risk guard
// breaches. Errors inside a single iteration are logged and retried on the
// next tick; they never escape the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now().UTC()
	e.setState(StateStarting)
	e.logStartBanner()
	e.alertImportant("engine_started", map[string]string{
		"symbol": e.symbol,
		"levels": fmt.Sprintf("%d", e.ladder.Len()),
	})

	if err := e.placeLadder(ctx); err != nil {
		// Startup placement is retried by the rebalance policy on the
		// next tick, same as any iteration error.
		e.logger.Printf("level=ERROR event=initial_placement_failed err=%q", err.Error())
	}
	e.setState(StateActive)

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(ctx.Err())
		default:
		}

		if err := e.iterate(ctx); err != nil {
			if errors.Is(err, ErrRiskStopped) {
				return err
			}
			e.logger.Printf("level=ERROR event=iteration_failed err=%q", err.Error())
		}

		select {
		case <-ctx.Done():
			return e.shutdown(ctx.Err())
		case <-time.After(e.poll):
		}
	}
}

// iterate runs one poll-act cycle: fetch price and balances, risk check,
// reconcile fills, rebalance decision, summary.
func (e *Engine) iterate(ctx context.Context) error {
	ticker, err := e.exchange.FetchTicker(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch ticker %s: %w", e.symbol, err)
	}
	price := ticker.Last
	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	if e.guard.Breached(price) {
		return e.riskStop(ctx, price)
	}

	open, err := e.exchange.FetchOpenOrders(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders %s: %w", e.symbol, err)
	}
	if err := e.reconcile(ctx, open); err != nil {
		return err
	}

	decision := e.policy.Evaluate(price, balances.Free(e.baseAsset), open)
	if decision.Relay() {
		e.logger.Printf("level=INFO event=rebalance_triggered price=%s relay_buy=%t relay_sell=%t open_buys=%d open_sells=%d possible_buys=%d possible_sells=%d affordable_sells=%d",
			price.String(), decision.RelayBuy, decision.RelaySell,
			decision.OpenBuys, decision.OpenSells,
			decision.PossibleBuys, decision.PossibleSells, decision.AffordableSells)
		e.alertImportant("rebalance_triggered", map[string]string{
			"price":      price.String(),
			"relay_buy":  fmt.Sprintf("%t", decision.RelayBuy),
			"relay_sell": fmt.Sprintf("%t", decision.RelaySell),
		})
		if err := e.placeLadder(ctx); err != nil {
			return err
		}
	}

	e.ledger.Summarize().Log(e.logger)
	return nil
}

// reconcile marks ledger orders that have left the venue's open set as
// closed, copying fill details from the fill history. Orders with no
// matching fill yet stay open until a later tick.
func (e *Engine) reconcile(ctx context.Context, open []core.Order) error {
	venueOpen := make(map[string]struct{}, len(open))
	for _, ord := range open {
		venueOpen[ord.ID] = struct{}{}
	}

	missing := make([]ledger.Order, 0)
	for _, entry := range e.ledger.OpenOrders() {
		if _, ok := venueOpen[entry.ID]; !ok {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	trades, err := e.exchange.FetchMyTrades(ctx, e.symbol, e.startedAt, 100)
	if err != nil {
		return fmt.Errorf("fetch fills %s: %w", e.symbol, err)
	}
	fills := aggregateFills(trades)
	for _, entry := range missing {
		fill, ok := fills[entry.ID]
		if !ok {
			continue
		}
		price := fill.price
		amount := fill.amount
		e.ledger.UpdateStatus(entry.ID, ledger.StatusClosed, &price, &amount)
		e.logger.Printf("level=INFO event=order_filled order_id=%s side=%s price=%s filled_price=%s filled_amount=%s",
			entry.ID, entry.Side, entry.Price.String(), price.String(), amount.String())
	}
	return nil
}

type fillTotal struct {
	price  decimal.Decimal
	amount decimal.Decimal
}

// aggregateFills merges per-order fills into a summed amount and a
// quantity-weighted average price.
func aggregateFills(trades []core.Trade) map[string]fillTotal {
	notional := make(map[string]decimal.Decimal)
	amounts := make(map[string]decimal.Decimal)
	for _, tr := range trades {
		if tr.OrderID == "" || tr.Qty.Cmp(decimal.Zero) <= 0 {
			continue
		}
		notional[tr.OrderID] = notional[tr.OrderID].Add(tr.Price.Mul(tr.Qty))
		amounts[tr.OrderID] = amounts[tr.OrderID].Add(tr.Qty)
	}
	out := make(map[string]fillTotal, len(amounts))
	for id, amount := range amounts {
		if amount.Cmp(decimal.Zero) <= 0 {
			continue
		}
		out[id] = fillTotal{price: notional[id].Div(amount), amount: amount}
	}
	return out
}

// placeLadder performs a full cancel-and-replace of the grid: cancel every
// open order for the symbol, then place one resting order per ladder level
// inside the price band.
func (e *Engine) placeLadder(ctx context.Context) error {
	if e.state != StateStarting && e.state != StateActive {
		return nil
	}
	ticker, err := e.exchange.FetchTicker(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch ticker %s: %w", e.symbol, err)
	}
	price := ticker.Last
	if price.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ticker %s returned non-positive last price %s", e.symbol, price)
	}

	if err := e.cancelAll(ctx); err != nil {
		return err
	}

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	baseFree := balances.Free(e.baseAsset)
	quoteFree := balances.Free(e.quoteAsset)

	one := decimal.NewFromInt(1)
	minPrice := price.Mul(one.Sub(e.band))
	maxPrice := price.Mul(one.Add(e.band))
	placed := 0

	for _, level := range e.ladder.Levels() {
		if level.Price.Cmp(minPrice) < 0 || level.Price.Cmp(maxPrice) > 0 {
			e.logger.Printf("level=INFO event=order_skipped reason=out_of_band price=%s band_min=%s band_max=%s",
				level.Price.String(), minPrice.StringFixed(2), maxPrice.StringFixed(2))
			continue
		}
		if e.maxOpen > 0 && placed >= e.maxOpen {
			e.logger.Printf("level=WARN event=order_skipped reason=max_open_orders limit=%d", e.maxOpen)
			break
		}
		cmp := level.Price.Cmp(price)
		if cmp == 0 {
			continue
		}
		side := core.Bid
		if cmp > 0 {
			side = core.Ask
		}
		if side == core.Bid {
			required := level.Amount.Mul(level.Price)
			if quoteFree.Cmp(required) < 0 {
				e.logger.Printf("level=WARN event=order_skipped reason=insufficient_quote asset=%s required=%s free=%s",
					e.quoteAsset, required.StringFixed(2), quoteFree.StringFixed(2))
				continue
			}
			if e.placeOrder(ctx, side, level.Amount, level.Price, price) {
				quoteFree = quoteFree.Sub(required)
				placed++
			}
			continue
		}
		if baseFree.Cmp(level.Amount) < 0 {
			e.logger.Printf("level=WARN event=order_skipped reason=insufficient_base asset=%s required=%s free=%s",
				e.baseAsset, level.Amount.String(), baseFree.String())
			continue
		}
		if e.placeOrder(ctx, side, level.Amount, level.Price, price) {
			baseFree = baseFree.Sub(level.Amount)
			placed++
		}
	}
	e.logger.Printf("level=INFO event=ladder_placed orders=%d price=%s", placed, price.String())
	return nil
}

// placeOrder places one resting limit order. A bid at or above the current
// price, or an ask at or below it, would cross the book and execute
// immediately; those are rejected here before any network call. Returns
// whether an order was placed.
func (e *Engine) placeOrder(ctx context.Context, side core.Side, amount, price, current decimal.Decimal) bool {
	if side == core.Bid && price.Cmp(current) >= 0 {
		e.logger.Printf("level=WARN event=order_skipped reason=would_cross side=Bid price=%s current=%s",
			price.String(), current.String())
		return false
	}
	if side == core.Ask && price.Cmp(current) <= 0 {
		e.logger.Printf("level=WARN event=order_skipped reason=would_cross side=Ask price=%s current=%s",
			price.String(), current.String())
		return false
	}
	order, err := e.exchange.CreateOrder(ctx, exchange.CreateOrderRequest{
		Symbol:      e.symbol,
		Type:        core.Limit,
		Side:        side,
		Amount:      amount,
		Price:       price,
		PostOnly:    e.postOnly,
		TimeInForce: e.tif,
	})
	if err != nil {
		e.logger.Printf("level=ERROR event=place_order_failed side=%s amount=%s price=%s err=%q",
			side, amount.String(), price.String(), err.Error())
		e.alertImportant("place_order_failed", map[string]string{
			"side":  string(side),
			"price": price.String(),
			"err":   err.Error(),
		})
		return false
	}
	e.ledger.Add(ledger.Order{
		ID:        order.ID,
		Symbol:    e.symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Status:    ledger.StatusOpen,
		CreatedAt: time.Now().UTC(),
	})
	e.logger.Printf("level=INFO event=order_placed order_id=%s side=%s amount=%s price=%s",
		order.ID, side, amount.String(), price.String())
	return true
}

// cancelAll sweeps the venue's current open-order snapshot for the symbol.
// Individual cancel failures are logged and do not abort the sweep. Orders
// that open after the snapshot are not covered; that race is accepted.
func (e *Engine) cancelAll(ctx context.Context) error {
	open, err := e.exchange.FetchOpenOrders(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders %s: %w", e.symbol, err)
	}
	if len(open) == 0 {
		return nil
	}
	for _, ord := range open {
		if ord.ID == "" {
			continue
		}
		if _, err := e.exchange.CancelOrder(ctx, ord.ID, e.symbol); err != nil {
			e.logger.Printf("level=ERROR event=cancel_order_failed order_id=%s err=%q", ord.ID, err.Error())
			e.alertImportant("cancel_order_failed", map[string]string{
				"order_id": ord.ID,
				"err":      err.Error(),
			})
			continue
		}
		if _, known := e.ledger.Get(ord.ID); known {
			e.ledger.UpdateStatus(ord.ID, ledger.StatusCancelled, nil, nil)
			e.logger.Printf("level=INFO event=order_cancelled order_id=%s", ord.ID)
		} else {
			e.logger.Printf("level=INFO event=external_order_cancelled order_id=%s", ord.ID)
		}
	}
	return nil
}

// riskStop cancels everything and terminates the run. Terminal: the engine
// places no further orders.
func (e *Engine) riskStop(ctx context.Context, price decimal.Decimal) error {
	reason := e.guard.Reason(price)
	e.logger.Printf("level=WARN event=risk_breach reason=%s price=%s stop_loss=%s take_profit=%s",
		reason, price.String(), e.guard.StopLoss.String(), e.guard.TakeProfit.String())
	if err := e.cancelAll(ctx); err != nil {
		e.logger.Printf("level=ERROR event=risk_stop_cancel_failed err=%q", err.Error())
	}
	e.setState(StateRiskStopped)
	e.ledger.Summarize().Log(e.logger)
	e.alertImportant("risk_stop", map[string]string{
		"reason": reason,
		"price":  price.String(),
	})
	return ErrRiskStopped
}

// shutdown runs the best-effort cancel sweep after an interrupt. The run
// context is already cancelled, so the sweep uses a fresh context bounded
// by the client's own call timeouts.
func (e *Engine) shutdown(cause error) error {
	e.setState(StateShuttingDown)
	e.logger.Printf("level=INFO event=shutdown_started")
	sweepCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := e.cancelAll(sweepCtx); err != nil {
		e.logger.Printf("level=ERROR event=shutdown_cancel_failed err=%q", err.Error())
	}
	e.ledger.Summarize().Log(e.logger)
	e.alertImportant("engine_stopped", map[string]string{
		"open":         fmt.Sprintf("%d", len(e.ledger.OpenOrders())),
		"closed":       fmt.Sprintf("%d", len(e.ledger.ClosedOrders())),
		"total_profit": e.ledger.TotalRealizedProfit().StringFixed(2),
	})
	e.logger.Printf("level=INFO event=shutdown_complete")
	return cause
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.logger.Printf("level=INFO event=engine_state from=%s to=%s", e.state, s)
	e.state = s
}

// logStartBanner prints the grid configuration and the per-level economics,
// then the account balances, best effort.
func (e *Engine) logStartBanner() {
	levels := e.ladder.Levels()
	e.logger.Printf("level=INFO event=grid_config symbol=%s levels=%d lower=%s upper=%s stop_loss=%s take_profit=%s poll_interval=%s",
		e.symbol, len(levels), levels[0].Price.String(), levels[len(levels)-1].Price.String(),
		e.guard.StopLoss.String(), e.guard.TakeProfit.String(), e.poll.String())
	for i := 0; i+1 < len(levels); i++ {
		buy := levels[i]
		sell := levels[i+1]
		invested := buy.Amount.Mul(buy.Price)
		profit := buy.Amount.Mul(sell.Price.Sub(buy.Price))
		pct := decimal.Zero
		if invested.Cmp(decimal.Zero) > 0 {
			pct = profit.Div(invested).Mul(decimal.NewFromInt(100))
		}
		e.logger.Printf("level=INFO event=grid_level index=%d buy=%s sell=%s invested=%s profit=%s profit_pct=%s",
			i+1, buy.Price.String(), sell.Price.String(),
			invested.StringFixed(2), profit.StringFixed(2), pct.StringFixed(2))
	}
	bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	balances, err := e.exchange.FetchBalance(bctx)
	if err != nil {
		e.logger.Printf("level=WARN event=startup_balance_unavailable err=%q", err.Error())
		return
	}
	e.logger.Printf("level=INFO event=startup_balance %s=%s %s=%s",
		e.baseAsset, balances.Free(e.baseAsset).String(),
		e.quoteAsset, balances.Free(e.quoteAsset).String())
}

func (e *Engine) alertImportant(event string, fields map[string]string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Important(event, fields)
}
