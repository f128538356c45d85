package engine

import "github.com/shopspring/decimal"

// OrderAction is the direction of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// Order is a strategy's instruction for one symbol. Either Qty or
// TargetPct is set; TargetPct expresses a desired equity weight in [0,1]
// and the engine resolves it into a buy or sell delta. Reason travels
// with the order into the trade and rejection logs and is never dropped.
type Order struct {
	Symbol    string
	Action    OrderAction
	Qty       decimal.Decimal
	TargetPct *decimal.Decimal
	Reason    string
}

// Position is one holding inside a portfolio snapshot.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// PortfolioSnapshot is the portfolio state observed by strategies at one
// simulation step. The engine hands strategies a copy; prior snapshots on
// the equity curve are never altered.
type PortfolioSnapshot struct {
	Cash      decimal.Decimal
	Equity    decimal.Decimal
	Positions map[string]Position
}

// Clone returns a deep copy so a recorded snapshot cannot be mutated
// through the positions map.
func (p PortfolioSnapshot) Clone() PortfolioSnapshot {
	positions := make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v
	}
	return PortfolioSnapshot{Cash: p.Cash, Equity: p.Equity, Positions: positions}
}

// PositionPct returns the symbol's share of equity, zero when flat or
// when equity is not positive.
func (p PortfolioSnapshot) PositionPct(symbol string, lastPrice decimal.Decimal) decimal.Decimal {
	pos, ok := p.Positions[symbol]
	if !ok || !p.Equity.IsPositive() {
		return decimal.Zero
	}
	return pos.Quantity.Mul(lastPrice).Div(p.Equity)
}
