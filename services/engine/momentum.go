package engine

import (
	"math"
	"sort"
)

// WatchlistEntry is one held or watched symbol with its current equity
// share in [0,1].
type WatchlistEntry struct {
	Symbol      string  `json:"symbol"`
	PositionPct float64 `json:"positionPct"`
}

// MomentumRow is one symbol's live momentum state: read-only, intended
// for human review rather than automated execution.
type MomentumRow struct {
	Symbol      string      `json:"symbol"`
	AsOfDate    string      `json:"asOfDate,omitempty"`
	Regime      RegimeLabel `json:"regime,omitempty"`
	CurrentPct  float64     `json:"currentPct"`
	TargetPct   float64     `json:"targetPct"`
	BreakoutOK  bool        `json:"breakoutOk"`
	SellOK      bool        `json:"sellOk"`
	Action      string      `json:"action"` // exit | buy_add | hold
	Reason      string      `json:"reason"`
	MissingData []string    `json:"missingData,omitempty"`
}

// MomentumPlan aggregates the per-symbol rows with current/target totals
// and the dominant regime.
type MomentumPlan struct {
	Summary  MomentumSummary `json:"summary"`
	Holdings []MomentumRow   `json:"holdings"`
	Rows     []MomentumRow   `json:"rows"`
}

// MomentumSummary heads a plan.
type MomentumSummary struct {
	Regime          RegimeLabel `json:"regime,omitempty"`
	TotalCurrentPct float64     `json:"totalCurrentPct"`
	TotalTargetPct  float64     `json:"totalTargetPct"`
}

const momentumMinBars = 30

// regimeTargetPct is the per-symbol target weight the plan recommends
// under each regime.
func regimeTargetPct(regime RegimeLabel) float64 {
	switch regime {
	case RegimeStrong:
		return 0.25
	case RegimeDiverging:
		return 0.15
	default:
		return 0.05
	}
}

// ComputeWatchlistMomentumPlan scores each watchlist symbol's recent bar
// window against the breakout and exit signals and returns a plan. It
// never mutates a portfolio; bars come pre-fetched from the data layer.
func ComputeWatchlistMomentumPlan(entries []WatchlistEntry, barsBySymbol map[string][]Bar, regimes RegimeSource) MomentumPlan {
	rows := make([]MomentumRow, 0, len(entries))
	regimeCounts := make(map[RegimeLabel]int)
	for _, entry := range entries {
		row := momentumRow(entry, barsBySymbol[entry.Symbol], regimes)
		if len(row.MissingData) == 0 && row.Regime != "" {
			regimeCounts[row.Regime]++
		}
		rows = append(rows, row)
	}

	plan := MomentumPlan{Rows: rows}
	for _, r := range rows {
		if len(r.MissingData) > 0 {
			continue
		}
		plan.Summary.TotalCurrentPct += r.CurrentPct
		plan.Summary.TotalTargetPct += r.TargetPct
		if r.TargetPct > 0 {
			plan.Holdings = append(plan.Holdings, r)
		}
	}
	sort.SliceStable(plan.Holdings, func(i, j int) bool {
		if plan.Holdings[i].TargetPct != plan.Holdings[j].TargetPct {
			return plan.Holdings[i].TargetPct > plan.Holdings[j].TargetPct
		}
		return plan.Holdings[i].Symbol < plan.Holdings[j].Symbol
	})
	best := 0
	for _, regime := range []RegimeLabel{RegimeStrong, RegimeDiverging, RegimeWeak, RegimeUnknown} {
		if c := regimeCounts[regime]; c > best {
			best = c
			plan.Summary.Regime = regime
		}
	}
	plan.Summary.TotalCurrentPct = round4(plan.Summary.TotalCurrentPct)
	plan.Summary.TotalTargetPct = round4(plan.Summary.TotalTargetPct)
	return plan
}

func momentumRow(entry WatchlistEntry, bars []Bar, regimes RegimeSource) MomentumRow {
	row := MomentumRow{
		Symbol:     entry.Symbol,
		CurrentPct: round4(clip01(entry.PositionPct)),
	}
	if len(bars) == 0 {
		row.MissingData = append(row.MissingData, "no_bars")
		return row
	}
	series := BarSeries{Symbol: entry.Symbol, Bars: bars}
	closes := series.Closes()
	if len(closes) < momentumMinBars {
		row.MissingData = append(row.MissingData, "insufficient_bars")
		return row
	}
	highs := series.Highs()
	vols := series.Volumes()
	row.AsOfDate = bars[len(bars)-1].TradeDate

	ema20 := last(EMA(closes, 20))
	ema30 := last(EMA(closes, 30))
	macdLine, _, hist := MACD(closes, 12, 26, 9)
	rsi14 := 50.0
	if rsi := RSI(closes, 14); len(rsi) > 0 {
		rsi14 = last(rsi)
	}
	high20 := maxOf(highs[len(highs)-20:])
	volAvg20 := mean(vols[len(vols)-20:])
	volOK := volAvg20 > 0 && last(vols) > volAvg20*1.2

	row.BreakoutOK = last(closes) >= 0.99*high20 &&
		ema20 > ema30 &&
		last(hist) > 0 &&
		rsi14 >= 55.0 && rsi14 <= 82.0 &&
		volOK
	row.SellOK = last(closes) < ema20*0.98 || last(macdLine) < 0

	row.Regime = RegimeUnknown
	if regimes != nil {
		row.Regime = regimes.RegimeAt(row.AsOfDate)
	}
	switch {
	case row.SellOK:
		row.Action = "exit"
		row.Reason = "trend_weak"
		row.TargetPct = 0
	case row.BreakoutOK:
		row.Action = "buy_add"
		row.Reason = "breakout"
		row.TargetPct = round4(regimeTargetPct(row.Regime))
	default:
		row.Action = "hold"
		row.Reason = "no_action"
		row.TargetPct = row.CurrentPct
	}
	return row
}

func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }
