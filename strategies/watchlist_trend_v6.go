package strategies

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"quantsync/services/engine"
)

// WatchlistTrendV6Name identifies the reference trend-following strategy.
const WatchlistTrendV6Name = "watchlist_trend_v6"

const historyCap = 260

// WatchlistTrendV6 is a regime-aware trend follower: tranche entries on
// 20d-high breakouts or EMA20 pullbacks, volatility-adjusted targets and
// ATR-scaled stops with trailing, and a cooldown after stop-outs.
// Symbols with fewer bars than the slow window are not yet evaluable and
// produce no orders.
type WatchlistTrendV6 struct {
	fastWindow      int
	midWindow       int
	slowWindow      int
	atrWindow       int
	stopLossPct     float64
	atrStopMult     float64
	trailingAtrMult float64
	maxExtensionPct float64
	cooldownBars    int

	regimes engine.RegimeSource

	history     map[string][]engine.Bar
	regimeCache map[string]engine.RegimeLabel
	entryPrice  map[string]float64
	entryATR    map[string]float64
	peakPrice   map[string]float64
	exitedOn    map[string]string
	cooldown    map[string]int
	lastDate    string
}

// NewWatchlistTrendV6 builds the strategy with its tuned defaults.
func NewWatchlistTrendV6(regimes engine.RegimeSource) *WatchlistTrendV6 {
	return &WatchlistTrendV6{
		fastWindow:      5,
		midWindow:       20,
		slowWindow:      30,
		atrWindow:       14,
		stopLossPct:     0.12,
		atrStopMult:     2.5,
		trailingAtrMult: 3.0,
		maxExtensionPct: 0.18,
		cooldownBars:    5,
		regimes:         regimes,
		history:         make(map[string][]engine.Bar),
		regimeCache:     make(map[string]engine.RegimeLabel),
		entryPrice:      make(map[string]float64),
		entryATR:        make(map[string]float64),
		peakPrice:       make(map[string]float64),
		exitedOn:        make(map[string]string),
		cooldown:        make(map[string]int),
	}
}

func (s *WatchlistTrendV6) Name() string { return WatchlistTrendV6Name }

func (s *WatchlistTrendV6) OnStart(startDate, endDate string) {}

func (s *WatchlistTrendV6) DefaultScoreConfig() engine.ScoreConfig {
	cfg := engine.DefaultScoreConfig()
	cfg.TopN = 50
	return cfg
}

func (s *WatchlistTrendV6) regimeAt(tradeDate string) engine.RegimeLabel {
	if r, ok := s.regimeCache[tradeDate]; ok {
		return r
	}
	regime := engine.RegimeUnknown
	if s.regimes != nil {
		regime = s.regimes.RegimeAt(tradeDate)
	}
	s.regimeCache[tradeDate] = regime
	return regime
}

// baseTarget is the regime-scaled full position weight for one symbol.
func baseTarget(regime engine.RegimeLabel) float64 {
	switch regime {
	case engine.RegimeStrong:
		return 1.0
	case engine.RegimeDiverging:
		return 0.66
	case engine.RegimeWeak:
		return 0.3
	default: // Unknown: no aggressive entries
		return 0.0
	}
}

// nextTranche steps the position toward the target a third at a time.
func (s *WatchlistTrendV6) nextTranche(currentPct, target float64) float64 {
	if target <= 0 {
		return 0
	}
	step := target / 3.0
	switch {
	case currentPct < step:
		return step
	case currentPct < 2*step:
		return 2 * step
	default:
		return target
	}
}

// feed appends the bar to the symbol's rolling history. Replayed dates
// are dropped so a repeated OnBar call sees identical state.
func (s *WatchlistTrendV6) feed(symbol string, bar engine.Bar) []engine.Bar {
	h := s.history[symbol]
	if n := len(h); n == 0 || bar.TradeDate > h[n-1].TradeDate {
		h = append(h, bar)
		if len(h) > historyCap {
			h = h[len(h)-historyCap:]
		}
		s.history[symbol] = h
	}
	return s.history[symbol]
}

func (s *WatchlistTrendV6) calcATR(bars []engine.Bar) float64 {
	series := engine.BarSeries{Bars: bars}
	atr, ok := engine.ATR(series.Highs(), series.Lows(), series.Closes(), s.atrWindow)
	if !ok {
		return 0
	}
	return atr
}

func (s *WatchlistTrendV6) stopPrice(symbol string, atrNow float64) float64 {
	entry, ok := s.entryPrice[symbol]
	if !ok || entry <= 0 {
		return 0
	}
	pctStop := entry * (1.0 - s.stopLossPct)
	entryATR := s.entryATR[symbol]
	if entryATR <= 0 {
		entryATR = atrNow
	}
	atrStop := 0.0
	if entryATR > 0 {
		atrStop = entry - entryATR*s.atrStopMult
	}
	trailStop := 0.0
	if peak := s.peakPrice[symbol]; peak > 0 && atrNow > 0 {
		trailStop = peak - atrNow*s.trailingAtrMult
	}
	return math.Max(pctStop, math.Max(atrStop, trailStop))
}

func (s *WatchlistTrendV6) OnBar(tradeDate string, bars map[string]engine.Bar, portfolio engine.PortfolioSnapshot) []engine.Order {
	if len(bars) == 0 {
		return nil
	}
	regime := s.regimeAt(tradeDate)
	base := baseTarget(regime)
	// Cooldowns tick once per new trade date; a replayed date must see
	// identical state and return an identical order list.
	advancing := tradeDate > s.lastDate
	if advancing {
		s.lastDate = tradeDate
	}
	var orders []engine.Order

	for _, symbol := range sortedKeys(bars) {
		bar := bars[symbol]
		history := s.feed(symbol, bar)
		// entry state from an exit is cleared only once a strictly newer
		// date arrives; replaying the exit date must recompute the same stop
		if soldOn, ok := s.exitedOn[symbol]; ok && tradeDate > soldOn {
			delete(s.entryPrice, symbol)
			delete(s.entryATR, symbol)
			delete(s.peakPrice, symbol)
			delete(s.exitedOn, symbol)
		}
		if len(history) < s.slowWindow {
			continue
		}
		series := engine.BarSeries{Symbol: symbol, Bars: history}
		closes := series.Closes()
		highs := series.Highs()
		close := closes[len(closes)-1]

		emaFast := engine.EMA(closes, s.fastWindow)
		ema20 := engine.EMA(closes, s.midWindow)
		ema30 := engine.EMA(closes, s.slowWindow)
		ema20Up := len(ema20) > 1 && ema20[len(ema20)-1] >= ema20[len(ema20)-2]
		ema30Up := len(ema30) > 1 && ema30[len(ema30)-1] >= ema30[len(ema30)-2]
		macdLine, _, hist := engine.MACD(closes, 12, 26, 9)
		macdLast := macdLine[len(macdLine)-1]
		histLast := hist[len(hist)-1]
		histPrev := histLast
		if len(hist) > 1 {
			histPrev = hist[len(hist)-2]
		}
		rsi14 := 50.0
		if rsi := engine.RSI(closes, 14); len(rsi) > 0 {
			rsi14 = rsi[len(rsi)-1]
		}
		atrNow := s.calcATR(history)
		atrPct := 0.0
		if close > 0 && atrNow > 0 {
			atrPct = atrNow / close
		}

		high20 := maxTail(highs, 20)
		e20 := ema20[len(ema20)-1]
		e30 := ema30[len(ema30)-1]
		overExtended := close > e20*(1.0+s.maxExtensionPct)
		trendUp := e20 > e30 && ema20Up && ema30Up
		breakoutOK := close >= 0.98*high20 &&
			trendUp &&
			macdLast > 0 && histLast > 0 && histLast >= histPrev &&
			rsi14 >= 58.0 && rsi14 <= 85.0 &&
			!overExtended
		pullbackOK := trendUp &&
			emaFast[len(emaFast)-1] >= e20 &&
			close >= 0.98*e20 && close <= 1.03*e20 &&
			macdLast >= 0 &&
			rsi14 >= 45.0 && rsi14 <= 65.0 &&
			!overExtended

		currentQty := portfolio.Positions[symbol].Quantity
		if currentQty.IsPositive() {
			s.peakPrice[symbol] = math.Max(s.peakPrice[symbol], close)
		}
		stop := s.stopPrice(symbol, atrNow)
		stopHit := stop > 0 && close <= stop

		sellOK := close < e20*0.97 || e20 < e30 || macdLast < 0 || stopHit
		if sellOK {
			orders = append(orders, targetOrder(symbol, engine.ActionSell, 0, "trend weak/stop"))
			s.exitedOn[symbol] = tradeDate
			if s.cooldownBars > 0 {
				s.cooldown[symbol] = s.cooldownBars
			}
			continue
		}

		currentPct := 0.0
		if portfolio.Equity.IsPositive() {
			currentPct = currentQty.InexactFloat64() * close / portfolio.Equity.InexactFloat64()
		}
		cooldownLeft := s.cooldown[symbol]
		if cooldownLeft > 0 && advancing {
			s.cooldown[symbol] = cooldownLeft - 1
		}

		adjTarget := base
		switch {
		case atrPct >= 0.08:
			adjTarget = base * 0.6
		case atrPct >= 0.06:
			adjTarget = base * 0.8
		}

		if (breakoutOK || pullbackOK) && cooldownLeft <= 0 {
			target := s.nextTranche(currentPct, adjTarget)
			if target > currentPct {
				reason := "pullback tranche"
				if breakoutOK {
					reason = "breakout tranche"
				}
				orders = append(orders, targetOrder(symbol, engine.ActionBuy, target, reason))
				s.entryPrice[symbol] = close
				if atrNow > 0 {
					s.entryATR[symbol] = atrNow
				}
				s.peakPrice[symbol] = math.Max(s.peakPrice[symbol], close)
			}
		} else if adjTarget < 0.66 && currentPct > adjTarget {
			orders = append(orders, targetOrder(symbol, engine.ActionSell, adjTarget, "trim weak"))
		}
	}
	return orders
}

func targetOrder(symbol string, action engine.OrderAction, targetPct float64, reason string) engine.Order {
	pct := decimal.NewFromFloat(targetPct)
	return engine.Order{Symbol: symbol, Action: action, TargetPct: &pct, Reason: reason}
}

func maxTail(xs []float64, n int) float64 {
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func sortedKeys(m map[string]engine.Bar) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
