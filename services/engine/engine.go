package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidParams marks a backtest that was rejected before starting.
var ErrInvalidParams = errors.New("invalid backtest params")

// BacktestParams is immutable for a run's lifetime and validated once.
type BacktestParams struct {
	StartDate    string
	EndDate      string
	InitialCash  decimal.Decimal
	FeeRate      decimal.Decimal
	SlippageRate decimal.Decimal
	AdjMode      AdjMode
	WarmupDays   int
}

// Validate fails fast so an invalid run never starts.
func (p BacktestParams) Validate() error {
	if _, ok := parseDate(p.StartDate); !ok {
		return fmt.Errorf("%w: bad start_date %q", ErrInvalidParams, p.StartDate)
	}
	if _, ok := parseDate(p.EndDate); !ok {
		return fmt.Errorf("%w: bad end_date %q", ErrInvalidParams, p.EndDate)
	}
	if p.StartDate >= p.EndDate {
		return fmt.Errorf("%w: start_date %s not before end_date %s", ErrInvalidParams, p.StartDate, p.EndDate)
	}
	if !p.InitialCash.IsPositive() {
		return fmt.Errorf("%w: initial_cash must be positive", ErrInvalidParams)
	}
	if p.FeeRate.IsNegative() || p.SlippageRate.IsNegative() {
		return fmt.Errorf("%w: fee/slippage rates must not be negative", ErrInvalidParams)
	}
	return nil
}

// warmupStart widens the fetch range so indicators have history before the
// first tradable date. Calendar days approximate trading days at 2:1.
func (p BacktestParams) warmupStart() string {
	start, ok := parseDate(p.StartDate)
	if !ok || p.WarmupDays <= 0 {
		return p.StartDate
	}
	return start.AddDate(0, 0, -2*p.WarmupDays).Format("2006-01-02")
}

// DataProvider materializes reference data before a run. Absent dates are
// omitted, never zero-filled.
type DataProvider interface {
	StockBasics(ctx context.Context) ([]StockInfo, error)
	DailyRange(ctx context.Context, symbols []string, startDate, endDate string) ([]DailyRow, error)
}

// TradeRecord is one executed fill.
type TradeRecord struct {
	Symbol    string          `json:"symbol"`
	TradeDate string          `json:"tradeDate"`
	Action    OrderAction     `json:"action"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	CashAfter decimal.Decimal `json:"cashAfter"`
	Reason    string          `json:"reason"`
}

// Order outcome statuses recorded in the daily log.
const (
	StatusExecuted = "executed"
	StatusRejected = "rejected"
	StatusSkipped  = "skipped"
	StatusIgnored  = "ignored"
)

// RejectionRecord is an order that did not execute, with the reason it
// was refused. The simulation continues undisturbed.
type RejectionRecord struct {
	Symbol    string      `json:"symbol"`
	TradeDate string      `json:"tradeDate"`
	Action    OrderAction `json:"action"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason"`
}

// OrderOutcome records how a submitted order fared on its day.
type OrderOutcome struct {
	Symbol    string           `json:"symbol"`
	Action    OrderAction      `json:"action"`
	Status    string           `json:"status"`
	Reason    string           `json:"reason"`
	ExecQty   *decimal.Decimal `json:"execQty,omitempty"`
	ExecPrice *decimal.Decimal `json:"execPrice,omitempty"`
}

// EquityPoint is one step of the equity curve.
type EquityPoint struct {
	Date   string          `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// CurvePoint is a dated ratio (drawdown, invested share).
type CurvePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// ScoredSymbol is a ranked candidate on one day.
type ScoredSymbol struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// DailyRecord is the per-date audit entry.
type DailyRecord struct {
	Date     string            `json:"date"`
	Selected []ScoredSymbol    `json:"selected"`
	Orders   []OrderOutcome    `json:"orders"`
	Snapshot PortfolioSnapshot `json:"snapshot"`
}

// Summary aggregates a finished run.
type Summary struct {
	TotalReturn float64         `json:"totalReturn"`
	MaxDrawdown float64         `json:"maxDrawdown"`
	TotalTrades int             `json:"totalTrades"`
	FinalEquity decimal.Decimal `json:"finalEquity"`
}

// RunResult is the full deterministic output of a backtest.
type RunResult struct {
	Summary        Summary           `json:"summary"`
	EquityCurve    []EquityPoint     `json:"equityCurve"`
	DrawdownCurve  []CurvePoint      `json:"drawdownCurve"`
	PositionsCurve []CurvePoint      `json:"positionsCurve"`
	DailyLog       []DailyRecord     `json:"dailyLog"`
	TradeLog       []TradeRecord     `json:"tradeLog"`
	Rejections     []RejectionRecord `json:"rejections"`
	Elapsed        time.Duration     `json:"-"`
}

// Backtest binds a strategy and filters to reference data for one run.
// Runs share no mutable state, so independent backtests may execute
// concurrently; a single run is strictly sequential over dates.
type Backtest struct {
	Params   BacktestParams
	Universe UniverseFilter
	Rules    DailyRuleFilter
	Score    ScoreConfig
	Strategy Strategy
	Provider DataProvider
}

// Run executes the simulation. Identical params and bar data always
// produce an identical result.
func (b *Backtest) Run(ctx context.Context) (*RunResult, error) {
	if err := b.Params.Validate(); err != nil {
		return nil, err
	}
	if b.Strategy == nil {
		return nil, fmt.Errorf("%w: no strategy", ErrInvalidParams)
	}
	started := time.Now()

	stocks, err := b.Provider.StockBasics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stock basics: %w", err)
	}
	universe := b.Universe.Members(stocks, b.Params.StartDate)
	rows, err := b.Provider.DailyRange(ctx, universe, b.Params.warmupStart(), b.Params.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load daily rows: %w", err)
	}

	mode := b.Params.AdjMode
	if mode == "" {
		mode = AdjForward
	}
	barsByDate, prevClose := BuildBarMaps(rows, mode)
	dates := SortedDates(barsByDate)

	state := &runState{
		cash:        b.Params.InitialCash,
		positions:   make(map[string]Position),
		lastPrices:  make(map[string]decimal.Decimal),
		lastBuyDate: make(map[string]string),
		peakEquity:  b.Params.InitialCash,
	}
	result := &RunResult{}

	b.Strategy.OnStart(b.Params.StartDate, b.Params.EndDate)
	for _, date := range dates {
		bars := barsByDate[date]
		selected, scored := b.selectCandidates(bars, prevClose[date])
		for _, symbol := range sortedSymbols(bars) {
			state.lastPrices[symbol] = bars[symbol].Close
		}
		snapshot := state.snapshot()
		if date < b.Params.StartDate {
			// Warmup date: feed the strategy, never trade or log.
			_ = b.Strategy.OnBar(date, selected, snapshot)
			continue
		}
		orders := b.Strategy.OnBar(date, selected, snapshot)
		outcomes := b.applyOrders(date, orders, bars, snapshot.Equity, state, result)
		equity := state.equity()
		state.recordPeak(equity)
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Date: date, Equity: equity})
		result.DrawdownCurve = append(result.DrawdownCurve, CurvePoint{Date: date, Value: state.drawdown(equity)})
		result.PositionsCurve = append(result.PositionsCurve, CurvePoint{Date: date, Value: state.investedRatio(equity)})
		final := state.snapshot()
		final.Equity = equity
		result.DailyLog = append(result.DailyLog, DailyRecord{
			Date:     date,
			Selected: scored,
			Orders:   outcomes,
			Snapshot: final,
		})
	}

	result.Summary = b.summarize(result, state)
	result.Elapsed = time.Since(started)
	return result, nil
}

// selectCandidates applies daily rules then keeps the top-N by score. The
// returned scored list is truncated to the kept set, highest first.
func (b *Backtest) selectCandidates(bars map[string]Bar, prevClose map[string]decimal.Decimal) (map[string]Bar, []ScoredSymbol) {
	scored := make([]ScoredSymbol, 0, len(bars))
	for _, symbol := range sortedSymbols(bars) {
		bar := bars[symbol]
		if !b.Rules.Accepts(bar) {
			continue
		}
		prev, ok := prevClose[symbol]
		if !ok {
			prev = bar.Close
		}
		scored = append(scored, ScoredSymbol{Symbol: symbol, Score: b.scoreBar(bar, prev)})
	}
	if len(scored) == 0 {
		return map[string]Bar{}, nil
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Symbol < scored[j].Symbol
	})
	topN := b.Score.TopN
	if topN < 1 {
		topN = 1
	}
	if len(scored) > topN {
		scored = scored[:topN]
	}
	selected := make(map[string]Bar, len(scored))
	for _, s := range scored {
		selected[s.Symbol] = bars[s.Symbol]
	}
	return selected, scored
}

func (b *Backtest) scoreBar(bar Bar, prevClose decimal.Decimal) float64 {
	momentum := 0.0
	if prevClose.IsPositive() {
		momentum = bar.Close.Div(prevClose).InexactFloat64() - 1.0
	}
	score := b.Score.MomentumWeight * momentum
	score += b.Score.VolumeWeight * math.Log1p(math.Max(bar.Volume.InexactFloat64(), 0))
	score += b.Score.AmountWeight * math.Log1p(math.Max(bar.Amount.InexactFloat64(), 0))
	return score
}

// applyOrders executes the day's orders in deterministic symbol order,
// one order per symbol (a later order for the same symbol supersedes an
// earlier one). Cash and position updates are atomic per order.
func (b *Backtest) applyOrders(date string, orders []Order, bars map[string]Bar, equity decimal.Decimal, state *runState, result *RunResult) []OrderOutcome {
	bySymbol := make(map[string]Order)
	for _, o := range orders {
		if o.Symbol != "" {
			bySymbol[o.Symbol] = o
		}
	}
	var outcomes []OrderOutcome
	for _, symbol := range sortedSymbols(bySymbol) {
		order := bySymbol[symbol]
		bar, ok := bars[symbol]
		if !ok {
			continue
		}
		action, qty, reason := b.resolveIntent(order, bar, equity, state)
		outcome := OrderOutcome{Symbol: symbol, Action: order.Action}
		if action != "" {
			// target-weight orders carry no action; record the resolved side
			outcome.Action = action
		}
		switch {
		case action == "": // nothing to do (already at target, bad qty)
			outcome.Status = StatusIgnored
			outcome.Reason = reason
		case action == ActionSell && state.lastBuyDate[symbol] == date:
			outcome.Status = StatusSkipped
			outcome.Reason = "t+1: same-day sell blocked"
			result.Rejections = append(result.Rejections, RejectionRecord{
				Symbol: symbol, TradeDate: date, Action: action,
				Status: StatusSkipped, Reason: outcome.Reason,
			})
		default:
			trade, rejectReason := state.execute(action, qty, bar, date, order.Reason, b.Params.FeeRate, b.Params.SlippageRate)
			if trade != nil {
				outcome.Status = StatusExecuted
				outcome.Reason = order.Reason
				outcome.ExecQty = &trade.Qty
				outcome.ExecPrice = &trade.Price
				result.TradeLog = append(result.TradeLog, *trade)
				if action == ActionBuy {
					state.lastBuyDate[symbol] = date
				}
			} else {
				outcome.Status = StatusRejected
				outcome.Reason = rejectReason
				result.Rejections = append(result.Rejections, RejectionRecord{
					Symbol: symbol, TradeDate: date, Action: action,
					Status: StatusRejected, Reason: rejectReason,
				})
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// resolveIntent turns an order into a concrete action and quantity.
// Target-weight orders become buy or sell deltas against current equity.
func (b *Backtest) resolveIntent(order Order, bar Bar, equity decimal.Decimal, state *runState) (OrderAction, decimal.Decimal, string) {
	price := bar.AvgPrice
	if !price.IsPositive() {
		return "", decimal.Zero, "no tradable price"
	}
	if order.TargetPct != nil {
		pct := clampPct(*order.TargetPct)
		desired := equity.Mul(pct).Div(price)
		current := state.positions[order.Symbol].Quantity
		delta := desired.Sub(current)
		switch {
		case delta.IsPositive():
			return ActionBuy, delta, ""
		case delta.IsNegative():
			return ActionSell, delta.Neg(), ""
		default:
			return "", decimal.Zero, "already at target weight"
		}
	}
	if order.Action != ActionBuy && order.Action != ActionSell {
		return "", decimal.Zero, fmt.Sprintf("unknown action %q", order.Action)
	}
	if !order.Qty.IsPositive() {
		return "", decimal.Zero, "non-positive quantity"
	}
	return order.Action, order.Qty, ""
}

func clampPct(pct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(one) {
		return one
	}
	return pct
}

func (b *Backtest) summarize(result *RunResult, state *runState) Summary {
	s := Summary{TotalTrades: len(result.TradeLog), FinalEquity: state.cash}
	if n := len(result.EquityCurve); n > 0 {
		s.FinalEquity = result.EquityCurve[n-1].Equity
		if b.Params.InitialCash.IsPositive() {
			s.TotalReturn = s.FinalEquity.Div(b.Params.InitialCash).InexactFloat64() - 1.0
		}
	}
	for _, p := range result.DrawdownCurve {
		if p.Value < s.MaxDrawdown {
			s.MaxDrawdown = p.Value
		}
	}
	return s
}

// runState is the mutable portfolio state owned by a single run.
type runState struct {
	cash        decimal.Decimal
	positions   map[string]Position
	lastPrices  map[string]decimal.Decimal
	lastBuyDate map[string]string
	peakEquity  decimal.Decimal
}

func (s *runState) snapshot() PortfolioSnapshot {
	return PortfolioSnapshot{Cash: s.cash, Equity: s.equity(), Positions: s.positions}.Clone()
}

func (s *runState) equity() decimal.Decimal {
	equity := s.cash
	for _, symbol := range sortedSymbols(s.positions) {
		equity = equity.Add(s.positions[symbol].Quantity.Mul(s.lastPrices[symbol]))
	}
	return equity
}

func (s *runState) recordPeak(equity decimal.Decimal) {
	if equity.GreaterThan(s.peakEquity) {
		s.peakEquity = equity
	}
}

func (s *runState) drawdown(equity decimal.Decimal) float64 {
	if !s.peakEquity.IsPositive() {
		return 0
	}
	return equity.Div(s.peakEquity).InexactFloat64() - 1.0
}

func (s *runState) investedRatio(equity decimal.Decimal) float64 {
	if !equity.IsPositive() {
		return 0
	}
	invested := decimal.Zero
	for symbol, pos := range s.positions {
		invested = invested.Add(pos.Quantity.Mul(s.lastPrices[symbol]))
	}
	return invested.Div(equity).InexactFloat64()
}

// execute applies one order atomically. A buy needs cash for cost plus
// fee, a sell needs the full position quantity; otherwise the order is
// rejected outright rather than clipped, so cash never goes negative.
func (s *runState) execute(action OrderAction, qty decimal.Decimal, bar Bar, date, reason string, feeRate, slippageRate decimal.Decimal) (*TradeRecord, string) {
	one := decimal.NewFromInt(1)
	if action == ActionBuy {
		price := bar.AvgPrice.Mul(one.Add(slippageRate))
		cost := qty.Mul(price)
		fee := cost.Mul(feeRate)
		total := cost.Add(fee)
		if total.GreaterThan(s.cash) {
			return nil, fmt.Sprintf("insufficient cash: need %s, have %s", total.StringFixed(4), s.cash.StringFixed(4))
		}
		s.cash = s.cash.Sub(total)
		pos := s.positions[bar.Symbol]
		newQty := pos.Quantity.Add(qty)
		pos.Symbol = bar.Symbol
		pos.AvgCost = pos.AvgCost.Mul(pos.Quantity).Add(price.Mul(qty)).Div(newQty)
		pos.Quantity = newQty
		s.positions[bar.Symbol] = pos
		return &TradeRecord{
			Symbol: bar.Symbol, TradeDate: date, Action: ActionBuy,
			Qty: qty, Price: price, Fee: fee, CashAfter: s.cash, Reason: reason,
		}, ""
	}

	held := s.positions[bar.Symbol].Quantity
	if qty.GreaterThan(held) {
		return nil, fmt.Sprintf("insufficient position: want %s, hold %s", qty.StringFixed(4), held.StringFixed(4))
	}
	price := bar.AvgPrice.Mul(one.Sub(slippageRate))
	proceeds := qty.Mul(price)
	fee := proceeds.Mul(feeRate)
	s.cash = s.cash.Add(proceeds).Sub(fee)
	pos := s.positions[bar.Symbol]
	pos.Quantity = held.Sub(qty)
	if pos.Quantity.IsZero() {
		delete(s.positions, bar.Symbol)
	} else {
		s.positions[bar.Symbol] = pos
	}
	return &TradeRecord{
		Symbol: bar.Symbol, TradeDate: date, Action: ActionSell,
		Qty: qty, Price: price, Fee: fee, CashAfter: s.cash, Reason: reason,
	}, ""
}
