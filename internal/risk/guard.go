package risk

import "github.com/shopspring/decimal"

// Guard evaluates the current price against the configured stop-loss and
// take-profit bounds. Stateless; a zero bound disables that side.
type Guard struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Breached reports whether price is at or beyond either bound.
func (g Guard) Breached(price decimal.Decimal) bool {
	if g.StopLoss.Cmp(decimal.Zero) > 0 && price.Cmp(g.StopLoss) <= 0 {
		return true
	}
	if g.TakeProfit.Cmp(decimal.Zero) > 0 && price.Cmp(g.TakeProfit) >= 0 {
		return true
	}
	return false
}

// Reason names the breached bound for logging, or "" when none.
func (g Guard) Reason(price decimal.Decimal) string {
	switch {
	case g.StopLoss.Cmp(decimal.Zero) > 0 && price.Cmp(g.StopLoss) <= 0:
		return "stop_loss"
	case g.TakeProfit.Cmp(decimal.Zero) > 0 && price.Cmp(g.TakeProfit) >= 0:
		return "take_profit"
	default:
		return ""
	}
}
