package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Bar is one trading day's OHLCV record for a symbol. Prices and turnover
// are decimals so that persisted and compared quantities never drift the
// way binary floats do. Bars are immutable once built.
type Bar struct {
	Symbol    string
	TradeDate string // "2006-01-02"
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	AvgPrice  decimal.Decimal
	Volume    decimal.Decimal
	Amount    decimal.Decimal
}

// BarSeries holds one symbol's bars in strictly increasing trade-date
// order with no duplicate dates.
type BarSeries struct {
	Symbol string
	Bars   []Bar
}

// Append adds a bar, enforcing the date ordering invariant.
func (s *BarSeries) Append(b Bar) error {
	if b.Symbol != s.Symbol {
		return fmt.Errorf("bar symbol %q does not match series %q", b.Symbol, s.Symbol)
	}
	if n := len(s.Bars); n > 0 && b.TradeDate <= s.Bars[n-1].TradeDate {
		return fmt.Errorf("bar date %s not after %s", b.TradeDate, s.Bars[n-1].TradeDate)
	}
	s.Bars = append(s.Bars, b)
	return nil
}

// Closes returns the close prices as floats for indicator math.
func (s *BarSeries) Closes() []float64 { return extract(s.Bars, func(b Bar) decimal.Decimal { return b.Close }) }

// Opens returns the open prices as floats.
func (s *BarSeries) Opens() []float64 { return extract(s.Bars, func(b Bar) decimal.Decimal { return b.Open }) }

// Highs returns the high prices as floats.
func (s *BarSeries) Highs() []float64 { return extract(s.Bars, func(b Bar) decimal.Decimal { return b.High }) }

// Lows returns the low prices as floats.
func (s *BarSeries) Lows() []float64 { return extract(s.Bars, func(b Bar) decimal.Decimal { return b.Low }) }

// Volumes returns the volumes as floats.
func (s *BarSeries) Volumes() []float64 {
	return extract(s.Bars, func(b Bar) decimal.Decimal { return b.Volume })
}

func extract(bars []Bar, f func(Bar) decimal.Decimal) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = f(b).InexactFloat64()
	}
	return out
}

// DailyRow is a raw vendor row before adjustment. The data layer hands
// these to the engine; absence of a date is signalled by omission, never
// by a zero-filled row.
type DailyRow struct {
	Symbol    string
	TradeDate string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Amount    float64
	AdjFactor float64
}

// AdjMode selects the price adjustment applied when building bars.
type AdjMode string

const (
	AdjForward  AdjMode = "qfq" // anchor to the latest factor
	AdjBackward AdjMode = "hfq" // raw factor
)

const priceScale = 6

// BuildBarMaps groups raw rows into per-date bar maps and a previous-close
// lookup, applying the requested price adjustment. Rows are grouped per
// symbol and sorted by date before use, so unordered input is tolerated.
func BuildBarMaps(rows []DailyRow, mode AdjMode) (map[string]map[string]Bar, map[string]map[string]decimal.Decimal) {
	bySymbol := make(map[string][]DailyRow)
	for _, r := range rows {
		if r.Symbol == "" || r.TradeDate == "" {
			continue
		}
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}

	barsByDate := make(map[string]map[string]Bar)
	prevClose := make(map[string]map[string]decimal.Decimal)
	for symbol, items := range bySymbol {
		sort.Slice(items, func(i, j int) bool { return items[i].TradeDate < items[j].TradeDate })
		ratio := adjustRatio(items, mode)
		var prev decimal.Decimal
		havePrev := false
		for _, r := range items {
			mult := r.AdjFactor
			if mult <= 0 {
				mult = 1.0
			}
			if mode == AdjForward {
				mult *= ratio
			}
			bar := barFromRow(r, mult)
			if _, ok := barsByDate[r.TradeDate]; !ok {
				barsByDate[r.TradeDate] = make(map[string]Bar)
				prevClose[r.TradeDate] = make(map[string]decimal.Decimal)
			}
			barsByDate[r.TradeDate][symbol] = bar
			if havePrev {
				prevClose[r.TradeDate][symbol] = prev
			} else {
				prevClose[r.TradeDate][symbol] = bar.Close
			}
			prev = bar.Close
			havePrev = true
		}
	}
	return barsByDate, prevClose
}

// adjustRatio returns the forward-adjustment ratio: the inverse of the
// most recent positive factor, anchoring adjusted prices to today's scale.
func adjustRatio(sorted []DailyRow, mode AdjMode) float64 {
	if mode != AdjForward {
		return 1.0
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if f := sorted[i].AdjFactor; f > 0 {
			return 1.0 / f
		}
	}
	return 1.0
}

func barFromRow(r DailyRow, mult float64) Bar {
	open := decimal.NewFromFloat(r.Open * mult).Round(priceScale)
	high := decimal.NewFromFloat(r.High * mult).Round(priceScale)
	low := decimal.NewFromFloat(r.Low * mult).Round(priceScale)
	close := decimal.NewFromFloat(r.Close * mult).Round(priceScale)
	four := decimal.NewFromInt(4)
	return Bar{
		Symbol:    r.Symbol,
		TradeDate: r.TradeDate,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		AvgPrice:  open.Add(high).Add(low).Add(close).Div(four).Round(priceScale),
		Volume:    decimal.NewFromFloat(r.Volume),
		Amount:    decimal.NewFromFloat(r.Amount),
	}
}

// SortedDates returns the trade dates present in a bar map, ascending.
func SortedDates(barsByDate map[string]map[string]Bar) []string {
	dates := make([]string, 0, len(barsByDate))
	for d := range barsByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func sortedSymbols[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
