package strategies

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantsync/services/engine"
)

func fixedRegime(label engine.RegimeLabel) engine.RegimeSource {
	return engine.RegimeFunc(func(string) engine.RegimeLabel { return label })
}

func emptyPortfolio() engine.PortfolioSnapshot {
	cash := decimal.NewFromInt(1000000)
	return engine.PortfolioSnapshot{Cash: cash, Equity: cash, Positions: map[string]engine.Position{}}
}

func barAt(symbol, date string, close, volume float64) engine.Bar {
	price := decimal.NewFromFloat(close)
	return engine.Bar{
		Symbol:    symbol,
		TradeDate: date,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		AvgPrice:  price,
		Volume:    decimal.NewFromFloat(volume),
	}
}

// climbCloses alternates up and down days around a rising drift and ends
// with two consecutive up days so the final bar is a fresh high.
func climbCloses(n int) []float64 {
	out := make([]float64, n)
	price := 10.0
	for i := range out {
		if i >= n-2 || i%2 == 0 {
			price *= 1.015
		} else {
			price *= 0.995
		}
		out[i] = price
	}
	return out
}

func fallingCloses(n int) []float64 {
	out := make([]float64, n)
	price := 10.0
	for i := range out {
		price *= 0.99
		out[i] = price
	}
	return out
}

// replay feeds one close series through OnBar a date at a time and
// returns the orders from the final date.
func replay(s *WatchlistTrendV6, symbol string, closes []float64) []engine.Order {
	var orders []engine.Order
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range closes {
		date := day.Format("2006-01-02")
		orders = s.OnBar(date, map[string]engine.Bar{symbol: barAt(symbol, date, c, 1000)}, emptyPortfolio())
		day = day.AddDate(0, 0, 1)
	}
	return orders
}

func TestWatchlistTrendV6BreakoutBuysFirstTranche(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeStrong))
	orders := replay(s, "600000.SH", climbCloses(40))

	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, engine.ActionBuy, order.Action)
	assert.Equal(t, "breakout tranche", order.Reason)
	require.NotNil(t, order.TargetPct)
	assert.InDelta(t, 1.0/3.0, order.TargetPct.InexactFloat64(), 1e-9)
}

func TestWatchlistTrendV6OnBarIdempotent(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeStrong))
	closes := climbCloses(40)
	first := replay(s, "600000.SH", closes)

	// replaying the last date must change nothing and return the same orders
	lastDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 39).Format("2006-01-02")
	again := s.OnBar(lastDate,
		map[string]engine.Bar{"600000.SH": barAt("600000.SH", lastDate, closes[39], 1000)},
		emptyPortfolio())

	assert.Equal(t, first, again)
	assert.Len(t, s.history["600000.SH"], 40, "replayed bar must not be appended")
}

func TestWatchlistTrendV6StopSellIdempotent(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeStrong))
	closes := climbCloses(40)
	replay(s, "600000.SH", closes)
	require.Contains(t, s.entryPrice, "600000.SH", "climb must have recorded an entry")

	// one 6% drop day breaches the ATR stop but none of the trend checks
	dropDate := "2024-02-10"
	bar := map[string]engine.Bar{
		"600000.SH": barAt("600000.SH", dropDate, closes[39]*0.94, 1000),
	}

	first := s.OnBar(dropDate, bar, emptyPortfolio())
	require.Len(t, first, 1)
	assert.Equal(t, engine.ActionSell, first[0].Action)
	assert.Equal(t, "trend weak/stop", first[0].Reason)

	// the stop must be recomputable from unchanged state on a replay
	again := s.OnBar(dropDate, bar, emptyPortfolio())
	assert.Equal(t, first, again)
	assert.Contains(t, s.entryPrice, "600000.SH", "entry state clears on the next date, not the exit date")
}

func TestWatchlistTrendV6SellsOnTrendBreak(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeStrong))
	orders := replay(s, "600000.SH", fallingCloses(40))

	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, engine.ActionSell, order.Action)
	assert.Equal(t, "trend weak/stop", order.Reason)
	require.NotNil(t, order.TargetPct)
	assert.True(t, order.TargetPct.IsZero())
}

func TestWatchlistTrendV6UnknownRegimeBlocksEntries(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeUnknown))
	orders := replay(s, "600000.SH", climbCloses(40))
	assert.Empty(t, orders, "unknown regime must not open positions")
}

func TestWatchlistTrendV6InsufficientHistory(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeStrong))
	orders := replay(s, "600000.SH", climbCloses(20))
	assert.Empty(t, orders)
}

func TestWatchlistTrendV6HistoryCapped(t *testing.T) {
	s := NewWatchlistTrendV6(fixedRegime(engine.RegimeWeak))
	day := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < historyCap+50; i++ {
		date := day.Format("2006-01-02")
		s.OnBar(date, map[string]engine.Bar{"600000.SH": barAt("600000.SH", date, 10, 1000)}, emptyPortfolio())
		day = day.AddDate(0, 0, 1)
	}
	assert.Len(t, s.history["600000.SH"], historyCap)
}

func TestRegistryBuildsNamedStrategies(t *testing.T) {
	reg := Registry()
	construct, ok := reg[WatchlistTrendV6Name]
	require.True(t, ok)
	strat := construct(Deps{Regimes: fixedRegime(engine.RegimeStrong)})
	assert.Equal(t, WatchlistTrendV6Name, strat.Name())
}
