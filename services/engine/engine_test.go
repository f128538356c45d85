package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memProvider serves fixed reference data for engine tests.
type memProvider struct {
	stocks []StockInfo
	rows   []DailyRow
}

func (p *memProvider) StockBasics(context.Context) ([]StockInfo, error) {
	return p.stocks, nil
}

func (p *memProvider) DailyRange(_ context.Context, symbols []string, startDate, endDate string) ([]DailyRow, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []DailyRow
	for _, r := range p.rows {
		if want[r.Symbol] && r.TradeDate >= startDate && r.TradeDate <= endDate {
			out = append(out, r)
		}
	}
	return out, nil
}

// scriptStrategy replays a fixed order script keyed by date.
type scriptStrategy struct {
	script map[string][]Order
	seen   []string
}

func (s *scriptStrategy) Name() string                   { return "script" }
func (s *scriptStrategy) OnStart(startDate, endDate string) {}
func (s *scriptStrategy) DefaultScoreConfig() ScoreConfig   { return DefaultScoreConfig() }

func (s *scriptStrategy) OnBar(tradeDate string, bars map[string]Bar, snapshot PortfolioSnapshot) []Order {
	s.seen = append(s.seen, tradeDate)
	return s.script[tradeDate]
}

func flatRows(symbol string, dates []string, price, volume float64) []DailyRow {
	out := make([]DailyRow, 0, len(dates))
	for _, d := range dates {
		out = append(out, DailyRow{
			Symbol: symbol, TradeDate: d,
			Open: price, High: price, Low: price, Close: price,
			Volume: volume, Amount: price * volume,
		})
	}
	return out
}

func testParams(cash int64) BacktestParams {
	return BacktestParams{
		StartDate:   "2024-01-02",
		EndDate:     "2024-01-05",
		InitialCash: decimal.NewFromInt(cash),
	}
}

func TestBacktestRejectsBuyExceedingCash(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	prov := &memProvider{
		stocks: []StockInfo{{Symbol: "600000.SH", Market: "CN"}},
		rows:   flatRows("600000.SH", dates, 10, 1000),
	}
	strat := &scriptStrategy{script: map[string][]Order{
		"2024-01-02": {{Symbol: "600000.SH", Action: ActionBuy, Qty: decimal.NewFromInt(200), Reason: "breakout"}},
	}}
	bt := &Backtest{Params: testParams(1000), Strategy: strat, Provider: prov}

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Rejections, 1)
	rej := result.Rejections[0]
	assert.Equal(t, StatusRejected, rej.Status)
	assert.Contains(t, rej.Reason, "insufficient cash")
	assert.Empty(t, result.TradeLog)

	// rejection leaves the portfolio untouched
	require.NotEmpty(t, result.DailyLog)
	snap := result.DailyLog[0].Snapshot
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(1000)), "cash %s", snap.Cash)
	assert.Empty(t, snap.Positions)
}

func TestBacktestRejectsOversell(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03"}
	prov := &memProvider{
		stocks: []StockInfo{{Symbol: "600000.SH", Market: "CN"}},
		rows:   flatRows("600000.SH", dates, 10, 1000),
	}
	strat := &scriptStrategy{script: map[string][]Order{
		"2024-01-02": {{Symbol: "600000.SH", Action: ActionBuy, Qty: decimal.NewFromInt(10)}},
		"2024-01-03": {{Symbol: "600000.SH", Action: ActionSell, Qty: decimal.NewFromInt(50)}},
	}}
	bt := &Backtest{Params: testParams(1000), Strategy: strat, Provider: prov}

	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Rejections, 1)
	assert.Contains(t, result.Rejections[0].Reason, "insufficient position")
	require.Len(t, result.TradeLog, 1)
}

func TestBacktestCashNeverNegativeAndEquityIdentity(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	prov := &memProvider{
		stocks: []StockInfo{{Symbol: "600000.SH", Market: "CN"}},
		rows:   flatRows("600000.SH", dates, 10, 1000),
	}
	strat := &scriptStrategy{script: map[string][]Order{
		"2024-01-02": {{Symbol: "600000.SH", Action: ActionBuy, Qty: decimal.NewFromInt(50)}},
		"2024-01-03": {{Symbol: "600000.SH", Action: ActionSell, Qty: decimal.NewFromInt(50)}},
	}}
	params := testParams(1000)
	params.FeeRate = decimal.NewFromFloat(0.001)
	params.SlippageRate = decimal.NewFromFloat(0.001)
	bt := &Backtest{Params: params, Strategy: strat, Provider: prov}

	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.TradeLog, 2)

	price := decimal.NewFromInt(10)
	for _, rec := range result.DailyLog {
		snap := rec.Snapshot
		assert.False(t, snap.Cash.IsNegative(), "cash went negative on %s", rec.Date)
		held := decimal.Zero
		for _, pos := range snap.Positions {
			held = held.Add(pos.Quantity.Mul(price))
		}
		assert.True(t, snap.Equity.Equal(snap.Cash.Add(held)),
			"equity identity broken on %s: %s != %s + %s", rec.Date, snap.Equity, snap.Cash, held)
	}

	// round trip through fees and slippage costs money
	final := result.Summary.FinalEquity
	assert.True(t, final.LessThan(decimal.NewFromInt(1000)))
	assert.True(t, final.GreaterThan(decimal.NewFromInt(990)))
}

func TestBacktestTargetWeightOrder(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03"}
	prov := &memProvider{
		stocks: []StockInfo{{Symbol: "600000.SH", Market: "CN"}},
		rows:   flatRows("600000.SH", dates, 10, 1000),
	}
	half := decimal.NewFromFloat(0.5)
	strat := &scriptStrategy{script: map[string][]Order{
		"2024-01-02": {{Symbol: "600000.SH", TargetPct: &half}},
	}}
	bt := &Backtest{Params: testParams(1000), Strategy: strat, Provider: prov}

	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.TradeLog, 1)
	trade := result.TradeLog[0]
	assert.Equal(t, ActionBuy, trade.Action)
	assert.True(t, trade.Qty.Equal(decimal.NewFromInt(50)), "qty %s", trade.Qty)

	// the daily audit entry carries the resolved side even though the
	// submitted order only named a target weight
	require.NotEmpty(t, result.DailyLog)
	day := result.DailyLog[0]
	require.Equal(t, "2024-01-02", day.Date)
	require.Len(t, day.Orders, 1)
	assert.Equal(t, ActionBuy, day.Orders[0].Action)
	assert.Equal(t, StatusExecuted, day.Orders[0].Status)
}

func TestBacktestDeterministic(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	var rows []DailyRow
	rows = append(rows, flatRows("600000.SH", dates, 10, 1000)...)
	rows = append(rows, flatRows("000001.SZ", dates, 20, 2000)...)
	rows = append(rows, flatRows("300750.SZ", dates, 30, 500)...)
	stocks := []StockInfo{
		{Symbol: "600000.SH", Market: "CN"},
		{Symbol: "000001.SZ", Market: "CN"},
		{Symbol: "300750.SZ", Market: "CN"},
	}
	script := map[string][]Order{
		"2024-01-02": {
			{Symbol: "600000.SH", Action: ActionBuy, Qty: decimal.NewFromInt(10)},
			{Symbol: "000001.SZ", Action: ActionBuy, Qty: decimal.NewFromInt(5)},
		},
		"2024-01-03": {
			{Symbol: "600000.SH", Action: ActionSell, Qty: decimal.NewFromInt(10)},
			{Symbol: "300750.SZ", Action: ActionBuy, Qty: decimal.NewFromInt(3)},
		},
	}

	run := func() []byte {
		bt := &Backtest{
			Params:   testParams(10000),
			Strategy: &scriptStrategy{script: script},
			Provider: &memProvider{stocks: stocks, rows: rows},
		}
		result, err := bt.Run(context.Background())
		require.NoError(t, err)
		data, err := json.Marshal(result)
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, string(run()), string(run()))
}

func TestBacktestEmptyUniverse(t *testing.T) {
	bt := &Backtest{
		Params:   testParams(1000),
		Strategy: &scriptStrategy{},
		Provider: &memProvider{},
	}
	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.EquityCurve)
	assert.Equal(t, 0, result.Summary.TotalTrades)
	assert.True(t, result.Summary.FinalEquity.Equal(decimal.NewFromInt(1000)))
}

func TestBacktestInvalidParams(t *testing.T) {
	params := testParams(1000)
	params.EndDate = "2023-01-01"
	bt := &Backtest{Params: params, Strategy: &scriptStrategy{}, Provider: &memProvider{}}
	_, err := bt.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestBacktestWarmupFeedsStrategyWithoutTrading(t *testing.T) {
	dates := []string{"2023-12-28", "2023-12-29", "2024-01-02", "2024-01-03"}
	prov := &memProvider{
		stocks: []StockInfo{{Symbol: "600000.SH", Market: "CN"}},
		rows:   flatRows("600000.SH", dates, 10, 1000),
	}
	strat := &scriptStrategy{script: map[string][]Order{
		// ignored: warmup dates never trade
		"2023-12-29": {{Symbol: "600000.SH", Action: ActionBuy, Qty: decimal.NewFromInt(10)}},
	}}
	params := testParams(1000)
	params.WarmupDays = 5
	bt := &Backtest{Params: params, Strategy: strat, Provider: prov}

	result, err := bt.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, strat.seen, "2023-12-29")
	assert.Empty(t, result.TradeLog)
	for _, rec := range result.DailyLog {
		assert.GreaterOrEqual(t, rec.Date, "2024-01-02")
	}
}
