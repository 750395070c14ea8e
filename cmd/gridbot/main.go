package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"backpack-grid/internal/alert"
	"backpack-grid/internal/config"
	"backpack-grid/internal/engine"
	"backpack-grid/internal/exchange"
	"backpack-grid/internal/exchange/backpack"
	"backpack-grid/internal/grid"
	"backpack-grid/internal/lock"
	"backpack-grid/internal/risk"
	"backpack-grid/internal/safety"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	// Credentials may live in a .env file next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	runID := uuid.NewString()
	logger := log.Default()
	logger.Printf("level=INFO event=gridbot_start run_id=%s symbol=%s instance=%s", runID, cfg.Symbol, cfg.InstanceID)

	alerts := buildAlertManager(cfg, runID)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				fmt.Fprintf(os.Stderr, "close alert manager failed: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.State.Dir != "" {
		stateDir := filepath.Join(cfg.State.Dir, cfg.Symbol)
		takeover := true
		if cfg.State.LockTakeover != nil {
			takeover = *cfg.State.LockTakeover
		}
		instanceLock, err := lock.Acquire(stateDir, cfg.InstanceID, runID, lock.Options{
			TakeoverEnabled: takeover,
			StaleAfter:      time.Duration(cfg.State.LockStaleSec) * time.Second,
		})
		if err != nil {
			fatal(err.Error())
		}
		defer func() {
			if relErr := instanceLock.Release(); relErr != nil {
				fmt.Fprintf(os.Stderr, "release instance lock failed: %v\n", relErr)
			}
		}()
	}

	client, err := backpack.New(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}
	var ex exchange.Exchange = client
	if cfg.Safety.Enabled {
		monitor := safety.NewMonitor(client, true, cfg.Safety.MaxPlaceFailures, cfg.Safety.MaxCancelFailures, logger)
		monitor.SetAlerter(alerts)
		ex = monitor
	}

	eng, err := engine.New(ex, engine.Options{
		Symbol: cfg.Symbol,
		Grid: grid.Spec{
			Lower:        cfg.Grid.LowerPrice.Decimal,
			Upper:        cfg.Grid.UpperPrice.Decimal,
			Levels:       cfg.Grid.Levels,
			Mode:         grid.Mode(cfg.Grid.Mode),
			Investment:   cfg.Grid.Investment.Decimal,
			MinOrderSize: cfg.Grid.MinOrderSize.Decimal,
		},
		Guard: risk.Guard{
			StopLoss:   cfg.Risk.StopLossPrice.Decimal,
			TakeProfit: cfg.Risk.TakeProfitPrice.Decimal,
		},
		FeeRate:       cfg.Grid.FeeRate.Decimal,
		PriceBand:     cfg.Grid.PriceBand.Decimal,
		MaxOpenOrders: cfg.Grid.MaxOpenOrders,
		PollInterval:  time.Duration(cfg.Engine.PollIntervalSec) * time.Second,
		TimeInForce:   cfg.Engine.TimeInForce,
		PostOnly:      cfg.Engine.PostOnly != nil && *cfg.Engine.PostOnly,
		Logger:        logger,
		Alerts:        alerts,
	})
	if err != nil {
		fatal(err.Error())
	}

	if err := eng.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, engine.ErrRiskStopped) {
			logger.Printf("level=INFO event=gridbot_exit reason=risk_stop run_id=%s", runID)
			return
		}
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func buildAlertManager(cfg config.Config, runID string) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(
		tg.Enabled,
		tg.BotToken,
		tg.ChatID,
		tg.APIBaseURL,
		time.Duration(tg.TimeoutSec)*time.Second,
	)
	return alert.NewManagerWithOptions(cfg.Symbol, runID, notifier, log.Default(), alert.ManagerOptions{
		DropReportInterval: time.Duration(cfg.Observability.Runtime.AlertDropReportSec) * time.Second,
	})
}
