package engine

import (
	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
	"backpack-grid/internal/grid"
)

// Policy decides whether the ladder must be re-laid, separately for the
// buy and the sell side. Either signal triggers a full cancel-and-replace
// of the ladder rather than a partial top-up: higher churn, but the laid
// ladder always matches the computed one.
type Policy struct {
	Ladder  grid.Ladder
	FeeRate decimal.Decimal
}

// Decision reports the policy outcome plus the counts that produced it,
// for logging.
type Decision struct {
	RelayBuy  bool
	RelaySell bool

	OpenBuys        int
	OpenSells       int
	PossibleBuys    int
	PossibleSells   int
	AffordableSells int
}

func (d Decision) Relay() bool { return d.RelayBuy || d.RelaySell }

// Evaluate inspects the current price, the free base balance, and the live
// open-order set.
//
// Buy side: with no base inventory the ladder should be fully laid below
// the price; fewer open bids than ladder prices below price means bids
// were consumed.
//
// Sell side: base inventory should be resting as asks above the price,
// capped by what the balance can fund after the trading-fee haircut.
func (p Policy) Evaluate(price, baseFree decimal.Decimal, open []core.Order) Decision {
	d := Decision{
		PossibleBuys:  p.Ladder.PricesBelow(price),
		PossibleSells: p.Ladder.PricesAbove(price),
	}
	for _, ord := range open {
		switch ord.Side {
		case core.Bid:
			d.OpenBuys++
		case core.Ask:
			d.OpenSells++
		}
	}

	if baseFree.Cmp(decimal.Zero) == 0 {
		if d.OpenBuys < d.PossibleBuys {
			d.RelayBuy = true
		}
		return d
	}

	available := baseFree.Mul(decimal.NewFromInt(1).Sub(p.FeeRate))
	perLevel := p.Ladder.AmountFor(price)
	if perLevel.Cmp(decimal.Zero) > 0 {
		d.AffordableSells = int(available.Div(perLevel).IntPart())
	}
	target := d.PossibleSells
	if d.AffordableSells < target {
		target = d.AffordableSells
	}
	if d.OpenSells < target {
		d.RelaySell = true
	}
	return d
}
