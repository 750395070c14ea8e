package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"backpack-grid/internal/config"
	"backpack-grid/internal/core"
	"backpack-grid/internal/exchange"
	"backpack-grid/internal/exchange/backpack"
	"backpack-grid/internal/grid"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

func main() {
	var (
		configPath   string
		timeoutSec   int
		outJSONPath  string
		runLifecycle bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&runLifecycle, "lifecycle", false, "place and cancel a tiny far-from-market order")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 30 {
		timeoutSec = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client, err := backpack.New(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}

	r := report{
		StartedAt: time.Now().UTC(),
		Symbol:    cfg.Symbol,
	}

	var (
		lastPrice decimal.Decimal
		quoteFree decimal.Decimal
	)
	_, quoteAsset, err := core.SplitSymbol(cfg.Symbol)
	if err != nil {
		fatal(err.Error())
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	run("public_ticker", func() (string, error) {
		ticker, err := client.FetchTicker(ctx, cfg.Symbol)
		if err != nil {
			return "", err
		}
		if ticker.Last.Cmp(decimal.Zero) <= 0 {
			return "", fmt.Errorf("non-positive last price %s", ticker.Last)
		}
		lastPrice = ticker.Last
		return fmt.Sprintf("last=%s bid=%s ask=%s volume=%s",
			ticker.Last, ticker.Bid, ticker.Ask, ticker.Volume), nil
	})

	run("signed_balance", func() (string, error) {
		balances, err := client.FetchBalance(ctx)
		if err != nil {
			return "", err
		}
		quoteFree = balances.Free(quoteAsset)
		return fmt.Sprintf("assets=%d %s_free=%s", len(balances), quoteAsset, quoteFree), nil
	})

	run("open_orders", func() (string, error) {
		open, err := client.FetchOpenOrders(ctx, cfg.Symbol)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("open=%d", len(open)), nil
	})

	run("fill_history", func() (string, error) {
		trades, err := client.FetchMyTrades(ctx, cfg.Symbol, time.Now().UTC().Add(-24*time.Hour), 100)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fills_24h=%d", len(trades)), nil
	})

	if runLifecycle {
		run("order_lifecycle_place_cancel", func() (string, error) {
			if lastPrice.Cmp(decimal.Zero) <= 0 {
				return "", errors.New("missing ticker price")
			}
			price := lastPrice.Mul(decimal.RequireFromString("0.5")).Round(grid.PriceScale)
			qty := cfg.Grid.MinOrderSize.Decimal
			if qty.Cmp(decimal.Zero) <= 0 {
				qty = decimal.RequireFromString("0.01")
			}
			notional := price.Mul(qty)
			if quoteFree.Cmp(notional) < 0 {
				return "", fmt.Errorf("insufficient quote for check order: need=%s have=%s", notional, quoteFree)
			}
			placed, err := client.CreateOrder(ctx, exchange.CreateOrderRequest{
				Symbol:      cfg.Symbol,
				Type:        core.Limit,
				Side:        core.Bid,
				Amount:      qty,
				Price:       price,
				PostOnly:    true,
				TimeInForce: "GTC",
			})
			if err != nil {
				return "", err
			}
			if placed.ID == "" {
				return "", errors.New("empty order id")
			}
			cancelled, err := client.CancelOrder(ctx, placed.ID, cfg.Symbol)
			if err != nil {
				return "", fmt.Errorf("cancel order failed: %w", err)
			}
			return fmt.Sprintf("id=%s price=%s qty=%s final_status=%s",
				placed.ID, price, qty, cancelled.Status), nil
		})
	}

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}

	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary symbol=%s pass=%d fail=%d duration=%s\n",
		r.Symbol, pass, fail, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String())
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
