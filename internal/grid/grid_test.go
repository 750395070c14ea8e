package grid

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", v, err)
	}
	return d
}

func TestBuildArithmeticLadder(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "200"),
		Levels:     4,
		Mode:       ModeArithmetic,
		Investment: mustDecimal(t, "1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"100", "125", "150", "175", "200"}
	levels := ladder.Levels()
	if len(levels) != len(want) {
		t.Fatalf("len(levels) = %d, want %d", len(levels), len(want))
	}
	for i, w := range want {
		if !levels[i].Price.Equal(mustDecimal(t, w)) {
			t.Fatalf("levels[%d].Price = %s, want %s", i, levels[i].Price, w)
		}
	}
	// Constant spacing across adjacent levels.
	step := levels[1].Price.Sub(levels[0].Price)
	for i := 1; i+1 < len(levels); i++ {
		diff := levels[i+1].Price.Sub(levels[i].Price)
		if !diff.Equal(step) {
			t.Fatalf("spacing at %d = %s, want %s", i, diff, step)
		}
	}
}

func TestBuildGeometricLadderRatioIsConstant(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "400"),
		Levels:     2,
		Mode:       ModeGeometric,
		Investment: mustDecimal(t, "1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	levels := ladder.Levels()
	if len(levels) != 3 {
		t.Fatalf("len(levels) = %d, want 3", len(levels))
	}
	if !levels[0].Price.Equal(mustDecimal(t, "100")) {
		t.Fatalf("levels[0].Price = %s, want 100", levels[0].Price)
	}
	if !levels[1].Price.Equal(mustDecimal(t, "200")) {
		t.Fatalf("levels[1].Price = %s, want 200", levels[1].Price)
	}
	if !levels[2].Price.Equal(mustDecimal(t, "400")) {
		t.Fatalf("levels[2].Price = %s, want 400", levels[2].Price)
	}
}

func TestBuildAmountsUseMinOrderSizeFloor(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:        mustDecimal(t, "100"),
		Upper:        mustDecimal(t, "200"),
		Levels:       4,
		Mode:         ModeArithmetic,
		Investment:   mustDecimal(t, "100"),
		MinOrderSize: mustDecimal(t, "1"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// Per-level budget is 25 quote; at every price that is below one base
	// unit, so the floor applies everywhere.
	for i, level := range ladder.Levels() {
		if !level.Amount.Equal(mustDecimal(t, "1")) {
			t.Fatalf("levels[%d].Amount = %s, want 1", i, level.Amount)
		}
	}
}

func TestBuildAmountScalesWithPrice(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "200"),
		Levels:     4,
		Mode:       ModeArithmetic,
		Investment: mustDecimal(t, "1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	levels := ladder.Levels()
	// investment/levels = 250 quote per rung; 250/100 = 2.5, 250/200 = 1.25.
	if !levels[0].Amount.Equal(mustDecimal(t, "2.5")) {
		t.Fatalf("levels[0].Amount = %s, want 2.5", levels[0].Amount)
	}
	if !levels[4].Amount.Equal(mustDecimal(t, "1.25")) {
		t.Fatalf("levels[4].Amount = %s, want 1.25", levels[4].Amount)
	}
}

func TestBuildRejectsInvalidSpecs(t *testing.T) {
	base := Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "200"),
		Levels:     4,
		Mode:       ModeArithmetic,
		Investment: mustDecimal(t, "1000"),
	}

	cases := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{"zero levels", func(s *Spec) { s.Levels = 0 }, "levels must be >= 1"},
		{"inverted range", func(s *Spec) { s.Lower, s.Upper = s.Upper, s.Lower }, "0 < lower < upper"},
		{"equal bounds", func(s *Spec) { s.Upper = s.Lower }, "0 < lower < upper"},
		{"zero lower", func(s *Spec) { s.Lower = decimal.Zero }, "0 < lower < upper"},
		{"zero investment", func(s *Spec) { s.Investment = decimal.Zero }, "investment must be > 0"},
		{"negative min size", func(s *Spec) { s.MinOrderSize = mustDecimal(t, "-1") }, "min order size"},
		{"unknown mode", func(s *Spec) { s.Mode = "linear" }, "unknown grid mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := base
			tc.mutate(&spec)
			_, err := Build(spec)
			if err == nil {
				t.Fatalf("Build() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Build() error = %q, want contains %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestBuildRejectsCollapsedLevels(t *testing.T) {
	// A tight range over many levels collapses to equal prices after
	// rounding to two decimals.
	_, err := Build(Spec{
		Lower:      mustDecimal(t, "100.00"),
		Upper:      mustDecimal(t, "100.02"),
		Levels:     10,
		Mode:       ModeArithmetic,
		Investment: mustDecimal(t, "1000"),
	})
	if err == nil {
		t.Fatalf("Build() error = nil, want collapse error")
	}
	if !strings.Contains(err.Error(), "collapsed") {
		t.Fatalf("Build() error = %q, want contains %q", err.Error(), "collapsed")
	}
}

func TestPricesBelowAndAbove(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "200"),
		Levels:     4,
		Mode:       ModeArithmetic,
		Investment: mustDecimal(t, "1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	price := mustDecimal(t, "150")
	if got := ladder.PricesBelow(price); got != 2 {
		t.Fatalf("PricesBelow(150) = %d, want 2", got)
	}
	if got := ladder.PricesAbove(price); got != 2 {
		t.Fatalf("PricesAbove(150) = %d, want 2", got)
	}
	// A level price is neither below nor above itself.
	if got := ladder.PricesBelow(mustDecimal(t, "100")); got != 0 {
		t.Fatalf("PricesBelow(100) = %d, want 0", got)
	}
	if got := ladder.PricesAbove(mustDecimal(t, "200")); got != 0 {
		t.Fatalf("PricesAbove(200) = %d, want 0", got)
	}
}

func TestBuildDefaultsToArithmetic(t *testing.T) {
	ladder, err := Build(Spec{
		Lower:      mustDecimal(t, "100"),
		Upper:      mustDecimal(t, "200"),
		Levels:     4,
		Investment: mustDecimal(t, "1000"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !ladder.Levels()[1].Price.Equal(mustDecimal(t, "125")) {
		t.Fatalf("levels[1].Price = %s, want 125", ladder.Levels()[1].Price)
	}
}
