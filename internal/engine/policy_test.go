package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
	"backpack-grid/internal/grid"
)

func testLadder(t *testing.T) grid.Ladder {
	t.Helper()
	ladder, err := grid.Build(grid.Spec{
		Lower:      decimal.RequireFromString("100"),
		Upper:      decimal.RequireFromString("200"),
		Levels:     4,
		Mode:       grid.ModeArithmetic,
		Investment: decimal.RequireFromString("1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return ladder
}

func bidAt(price string) core.Order {
	return core.Order{Side: core.Bid, Price: decimal.RequireFromString(price)}
}

func askAt(price string) core.Order {
	return core.Order{Side: core.Ask, Price: decimal.RequireFromString(price)}
}

func TestEvaluateRelaysBuySideWhenBidsMissing(t *testing.T) {
	p := Policy{Ladder: testLadder(t), FeeRate: decimal.RequireFromString("0.003")}
	price := decimal.RequireFromString("150")

	// Two ladder prices below 150 but only one resting bid.
	d := p.Evaluate(price, decimal.Zero, []core.Order{bidAt("100")})
	if !d.RelayBuy {
		t.Fatalf("RelayBuy = false, want true (open=%d possible=%d)", d.OpenBuys, d.PossibleBuys)
	}
	if d.RelaySell {
		t.Fatalf("RelaySell = true, want false with zero base balance")
	}
	if d.PossibleBuys != 2 {
		t.Fatalf("PossibleBuys = %d, want 2", d.PossibleBuys)
	}
}

func TestEvaluateNoRelayWhenBuySideFull(t *testing.T) {
	p := Policy{Ladder: testLadder(t)}
	price := decimal.RequireFromString("150")

	d := p.Evaluate(price, decimal.Zero, []core.Order{bidAt("100"), bidAt("125")})
	if d.Relay() {
		t.Fatalf("Relay() = true, want false when bids match ladder")
	}
}

func TestEvaluateSkipsSellSideWithZeroBase(t *testing.T) {
	p := Policy{Ladder: testLadder(t)}
	price := decimal.RequireFromString("150")

	// No asks open, but with no base inventory the sell side is quiet.
	d := p.Evaluate(price, decimal.Zero, []core.Order{bidAt("100"), bidAt("125")})
	if d.RelaySell {
		t.Fatalf("RelaySell = true, want false with zero base balance")
	}
}

func TestEvaluateRelaysSellSideUpToAffordable(t *testing.T) {
	p := Policy{Ladder: testLadder(t), FeeRate: decimal.RequireFromString("0.003")}
	price := decimal.RequireFromString("150")
	// Per-level amount at 150 is 250/150 rounded to 3dp = 1.667. A balance
	// of 3.4 covers two levels after the fee haircut.
	baseFree := decimal.RequireFromString("3.4")

	d := p.Evaluate(price, baseFree, nil)
	if d.PossibleSells != 2 {
		t.Fatalf("PossibleSells = %d, want 2", d.PossibleSells)
	}
	if d.AffordableSells != 2 {
		t.Fatalf("AffordableSells = %d, want 2", d.AffordableSells)
	}
	if !d.RelaySell {
		t.Fatalf("RelaySell = false, want true with no open asks")
	}
}

func TestEvaluateSellTargetCappedByBalance(t *testing.T) {
	p := Policy{Ladder: testLadder(t), FeeRate: decimal.RequireFromString("0.003")}
	price := decimal.RequireFromString("150")
	// Enough for exactly one level after fees.
	baseFree := decimal.RequireFromString("1.7")

	d := p.Evaluate(price, baseFree, []core.Order{askAt("175")})
	if d.AffordableSells != 1 {
		t.Fatalf("AffordableSells = %d, want 1", d.AffordableSells)
	}
	if d.RelaySell {
		t.Fatalf("RelaySell = true, want false when one ask covers the affordable target")
	}
}

func TestEvaluateFeeHaircutReducesAffordable(t *testing.T) {
	p := Policy{Ladder: testLadder(t), FeeRate: decimal.RequireFromString("0.003")}
	price := decimal.RequireFromString("150")
	// Exactly one per-level amount with no slack: the haircut drops it
	// below one level.
	baseFree := decimal.RequireFromString("1.667")

	d := p.Evaluate(price, baseFree, nil)
	if d.AffordableSells != 0 {
		t.Fatalf("AffordableSells = %d, want 0 after fee haircut", d.AffordableSells)
	}
	if d.RelaySell {
		t.Fatalf("RelaySell = true, want false with nothing affordable")
	}
}
