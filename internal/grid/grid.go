package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeArithmetic Mode = "arithmetic"
	ModeGeometric  Mode = "geometric"
)

// Venue precisions: prices quote to 2 decimals, base quantities to 3.
const (
	PriceScale = 2
	QtyScale   = 3
)

type Spec struct {
	Lower        decimal.Decimal
	Upper        decimal.Decimal
	Levels       int
	Mode         Mode
	Investment   decimal.Decimal
	MinOrderSize decimal.Decimal
}

// Level is one rung of the ladder: the resting price and the base amount
// to place there. Immutable once computed.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Ladder is the ordered set of grid levels, strictly increasing in price,
// length Levels+1. Immutable for the lifetime of one engine run.
type Ladder struct {
	levels    []Level
	perLevel  decimal.Decimal
	minAmount decimal.Decimal
}

// Build turns a spec into a ladder. Pure and deterministic: the same spec
// always yields the same ladder.
func Build(spec Spec) (Ladder, error) {
	if spec.Levels < 1 {
		return Ladder{}, errors.New("grid levels must be >= 1")
	}
	if spec.Lower.Cmp(decimal.Zero) <= 0 || spec.Upper.Cmp(spec.Lower) <= 0 {
		return Ladder{}, errors.New("price range requires 0 < lower < upper")
	}
	if spec.Investment.Cmp(decimal.Zero) <= 0 {
		return Ladder{}, errors.New("investment must be > 0")
	}
	if spec.MinOrderSize.Cmp(decimal.Zero) < 0 {
		return Ladder{}, errors.New("min order size must be >= 0")
	}
	if spec.Mode == "" {
		spec.Mode = ModeArithmetic
	}

	n := spec.Levels
	prices := make([]decimal.Decimal, 0, n+1)
	switch spec.Mode {
	case ModeArithmetic:
		step := spec.Upper.Sub(spec.Lower).Div(decimal.NewFromInt(int64(n)))
		for i := 0; i <= n; i++ {
			p := spec.Lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
			prices = append(prices, p.Round(PriceScale))
		}
	case ModeGeometric:
		ratio := math.Pow(spec.Upper.Div(spec.Lower).InexactFloat64(), 1/float64(n))
		for i := 0; i <= n; i++ {
			p := spec.Lower.Mul(decimal.NewFromFloat(math.Pow(ratio, float64(i))))
			prices = append(prices, p.Round(PriceScale))
		}
	default:
		return Ladder{}, fmt.Errorf("unknown grid mode %q", spec.Mode)
	}

	for i := 1; i < len(prices); i++ {
		if prices[i].Cmp(prices[i-1]) <= 0 {
			return Ladder{}, fmt.Errorf("grid collapsed at level %d after price rounding", i)
		}
	}

	perLevel := spec.Investment.Div(decimal.NewFromInt(int64(n)))
	levels := make([]Level, 0, len(prices))
	for _, p := range prices {
		levels = append(levels, Level{Price: p, Amount: amountAt(perLevel, spec.MinOrderSize, p)})
	}
	return Ladder{levels: levels, perLevel: perLevel, minAmount: spec.MinOrderSize}, nil
}

// Levels returns the ladder rungs in ascending price order.
func (l Ladder) Levels() []Level { return l.levels }

func (l Ladder) Len() int { return len(l.levels) }

// AmountFor computes the per-level order amount at an arbitrary price,
// using the same per-level budget and rounding as the ladder itself.
func (l Ladder) AmountFor(price decimal.Decimal) decimal.Decimal {
	if price.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	return amountAt(l.perLevel, l.minAmount, price)
}

// PricesBelow counts ladder prices strictly below p.
func (l Ladder) PricesBelow(p decimal.Decimal) int {
	n := 0
	for _, lv := range l.levels {
		if lv.Price.Cmp(p) < 0 {
			n++
		}
	}
	return n
}

// PricesAbove counts ladder prices strictly above p.
func (l Ladder) PricesAbove(p decimal.Decimal) int {
	n := 0
	for _, lv := range l.levels {
		if lv.Price.Cmp(p) > 0 {
			n++
		}
	}
	return n
}

func amountAt(perLevel, minAmount, price decimal.Decimal) decimal.Decimal {
	amount := perLevel.Div(price).Round(QtyScale)
	if amount.Cmp(minAmount) < 0 {
		return minAmount
	}
	return amount
}
