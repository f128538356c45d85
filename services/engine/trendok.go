package engine

import (
	"fmt"
	"math"
)

// Buy modes form a closed set: the two right-side entry patterns plus none.
const (
	BuyModeNone     = "none"
	BuyModePullback = "A_pullback" // breakout then pullback to support
	BuyModeMomentum = "B_momentum" // new high inside an established trend
)

// Buy actions.
const (
	BuyActionBuy   = "buy"
	BuyActionWait  = "wait"
	BuyActionAvoid = "avoid"
)

// Sell modes attached when an exit or trim is warranted.
const (
	SellModeExitNow    = "exit_now"
	SellModeReduceHalf = "reduce_half"
)

const trendLookbackDays = 5

// TrendInput is one symbol's evaluation request: its full chronological
// bar history plus optional industry and money-flow context and the
// current market regime.
type TrendInput struct {
	Symbol   string
	Name     string
	Industry string
	Bars     []Bar
	Flow     *IndustryFlowContext
	Regime   RegimeLabel
}

// TrendDecision is a report, not an order: callers decide whether to act.
// BuyWhy is never empty when BuyAction is not "buy".
type TrendDecision struct {
	Symbol        string             `json:"symbol"`
	Name          string             `json:"name,omitempty"`
	AsOfDate      string             `json:"asOfDate,omitempty"`
	TrendOK       *bool              `json:"trendOk"`
	Score         *float64           `json:"score"`
	ScoreParts    map[string]float64 `json:"scoreParts,omitempty"`
	StopLossPrice *float64           `json:"stopLossPrice"`
	StopLossParts map[string]float64 `json:"stopLossParts,omitempty"`
	BuyMode       string             `json:"buyMode"`
	BuyAction     string             `json:"buyAction"`
	BuyZoneLow    *float64           `json:"buyZoneLow,omitempty"`
	BuyZoneHigh   *float64           `json:"buyZoneHigh,omitempty"`
	BuyRefPrice   *float64           `json:"buyRefPrice,omitempty"`
	BuyWhy        string             `json:"buyWhy"`
	BuyChecks     map[string]bool    `json:"buyChecks,omitempty"`
	SellMode      string             `json:"sellMode,omitempty"`
	SellReasons   []string           `json:"sellReasons,omitempty"`
	Checks        map[string]bool    `json:"checks"`
	Values        map[string]float64 `json:"values"`
	MarketRegime  RegimeLabel        `json:"marketRegime"`
	MissingData   []string           `json:"missingData"`
}

// trendSeries caches the float views and indicator series shared by the
// check, score, stop-loss and buy stages.
type trendSeries struct {
	dates  []string
	opens  []float64
	highs  []float64
	lows   []float64
	closes []float64
	vols   []float64
	ema5   []float64
	ema20  []float64
	ema60  []float64
	hist   []float64
	macd   []float64
	rsi14  []float64
}

// EvaluateTrend scores one symbol's bar history against the
// breakout/pullback trend rules and returns a decision with auditable
// reasons. Insufficient history marks missing data instead of failing.
func EvaluateTrend(in TrendInput) TrendDecision {
	dec := TrendDecision{
		Symbol:       in.Symbol,
		Name:         in.Name,
		BuyMode:      BuyModeNone,
		BuyAction:    BuyActionWait,
		Checks:       map[string]bool{},
		BuyChecks:    map[string]bool{},
		Values:       map[string]float64{},
		ScoreParts:   map[string]float64{},
		MarketRegime: in.Regime,
		MissingData:  []string{},
	}
	ts := buildTrendSeries(in.Bars)
	if len(ts.closes) == 0 {
		dec.MissingData = append(dec.MissingData, "no_bars")
		dec.BuyWhy = "no bar history available"
		return dec
	}
	dec.AsOfDate = ts.dates[len(ts.dates)-1]
	dec.Values["close"] = last(ts.closes)
	if len(ts.closes) < 60 {
		dec.MissingData = append(dec.MissingData, "bars_lt_60")
	}

	computeTrendChecks(&dec, ts)
	computeTrendScore(&dec, ts, in.Industry, in.Flow)
	computeStopLoss(&dec, ts)
	computeBuyDecision(&dec, ts, in.Regime)
	decideTrendOK(&dec)
	return dec
}

func buildTrendSeries(bars []Bar) *trendSeries {
	ts := &trendSeries{}
	for _, b := range bars {
		c := b.Close.InexactFloat64()
		ts.closes = append(ts.closes, c)
		ts.opens = append(ts.opens, b.Open.InexactFloat64())
		ts.highs = append(ts.highs, b.High.InexactFloat64())
		ts.lows = append(ts.lows, b.Low.InexactFloat64())
		ts.vols = append(ts.vols, b.Volume.InexactFloat64())
		ts.dates = append(ts.dates, b.TradeDate)
	}
	if len(ts.closes) == 0 {
		return ts
	}
	ts.ema5 = EMA(ts.closes, 5)
	ts.ema20 = EMA(ts.closes, 20)
	ts.ema60 = EMA(ts.closes, 60)
	ts.macd, _, ts.hist = MACD(ts.closes, 12, 26, 9)
	ts.rsi14 = RSI(ts.closes, 14)
	return ts
}

func computeTrendChecks(dec *TrendDecision, ts *trendSeries) {
	n := len(ts.closes)
	close := last(ts.closes)
	if len(ts.ema5) > 0 && len(ts.ema20) > 0 && len(ts.ema60) > 0 {
		dec.Values["ema5"] = last(ts.ema5)
		dec.Values["ema20"] = last(ts.ema20)
		dec.Values["ema60"] = last(ts.ema60)
		// EMA5 short-term noise allowed: the gate is close>EMA20>EMA60.
		dec.Checks["emaOrder"] = close > last(ts.ema20) && last(ts.ema20) > last(ts.ema60)
	}
	if len(ts.macd) > 0 && len(ts.hist) > 0 {
		dec.Values["macd"] = last(ts.macd)
		dec.Values["macdHist"] = last(ts.hist)
		dec.Checks["macdPositive"] = last(ts.macd) > 0
		// Expansion proper is a soft signal handled by the score.
		dec.Checks["macdHistExpanding"] = last(ts.hist) > 0
	}
	if len(ts.rsi14) > 0 {
		dec.Values["rsi14"] = last(ts.rsi14)
		dec.Checks["rsiInRange"] = last(ts.rsi14) >= 50.0 && last(ts.rsi14) <= 82.0
	}
	if n >= 20 {
		high20 := maxOf(ts.closes[n-20:])
		dec.Values["high20"] = high20
		dec.Checks["closeNear20dHigh"] = close >= 0.95*high20
	}
	if n >= 30 {
		avg5 := mean(ts.vols[n-5:])
		avg30 := mean(ts.vols[n-30:])
		dec.Values["avgVol5"] = avg5
		dec.Values["avgVol30"] = avg30
		// Only block volume cliffs; surges are scored, not required.
		if avg30 > 0 {
			dec.Checks["volumeSurge"] = avg5 > 0.9*avg30
		} else {
			dec.Checks["volumeSurge"] = avg5 > 0
		}
	}
}

func computeTrendScore(dec *TrendDecision, ts *trendSeries, industry string, flow *IndustryFlowContext) {
	required := []string{"close", "ema5", "ema20", "ema60", "high20", "rsi14", "avgVol5", "avgVol30", "macd"}
	for _, key := range required {
		if _, ok := dec.Values[key]; !ok {
			return
		}
	}
	if len(ts.hist) < 4 {
		return
	}
	n := len(ts.closes)
	close := dec.Values["close"]
	h4 := ts.hist[len(ts.hist)-4:]

	emaPairs := 0.0
	if dec.Values["ema5"] > dec.Values["ema20"] {
		emaPairs++
	}
	if dec.Values["ema20"] > dec.Values["ema60"] {
		emaPairs++
	}
	sEMA := emaPairs / 2.0

	hpos := [4]float64{}
	for i, x := range h4 {
		hpos[i] = math.Max(0, x)
	}
	inc := 0.0
	for i := 1; i < 4; i++ {
		if hpos[i] > hpos[i-1] {
			inc++
		}
	}
	histMin := 0.0
	if close > 0 {
		histMin = 0.0005 * close
	}
	sHist := 0.0
	if hpos[3] >= histMin && hpos[3] > 0 {
		sHist = inc / 3.0
	}
	sMACD := 0.0
	if dec.Values["macd"] > 0 {
		sMACD = clip01(0.5 + 0.5*sHist)
	}

	high20High := dec.Values["high20"]
	if n >= 20 {
		high20High = maxOf(ts.highs[n-20:])
	}
	ratioHi := 0.0
	if high20High > 0 {
		ratioHi = close / high20High
	}
	sBreak := clip01((ratioHi - 0.85) / 0.10)
	bonusNewHigh := 0.0
	if high20High > 0 && close >= high20High {
		bonusNewHigh = 3.0
	}

	// RSI centered at 70, decaying to zero at 55/85: momentum friendly.
	sRSI := clip01(1.0 - math.Abs(dec.Values["rsi14"]-70.0)/15.0)

	avg5, avg30 := dec.Values["avgVol5"], dec.Values["avgVol30"]
	ratioVol := 0.0
	if avg30 > 0 {
		ratioVol = avg5 / avg30
	} else if avg5 > 0 {
		ratioVol = 1.0
	}
	sVol := clip01((ratioVol - 1.0) / 0.30)

	// Breakout/new-high carries the largest weight as the primary
	// right-side signal.
	pts := map[string]float64{
		"ema":      100.0 * 0.25 * sEMA,
		"macd":     100.0 * 0.15 * sMACD,
		"breakout": 100.0 * 0.25 * sBreak,
		"rsi":      100.0 * 0.15 * sRSI,
		"volume":   100.0 * 0.20 * sVol,
	}
	total := bonusNewHigh
	for k, v := range pts {
		dec.ScoreParts[k] = round3(v)
		total += v
	}
	if bonusNewHigh > 0 {
		dec.ScoreParts["bonus_new_high20"] = round3(bonusNewHigh)
	}

	if atr14, ok := ATR(ts.highs, ts.lows, ts.closes, 14); ok && close > 0 {
		// Tolerate high ATR in strong themes: penalize above 3% only.
		pVol := clip01((atr14/close-0.03)/0.05) * 5.0
		total -= pVol
		dec.ScoreParts["penalty_volatility_atr"] = -round3(pVol)
	}
	if ema20 := dec.Values["ema20"]; ema20 > 0 && close < ema20 {
		pBelow := clip01(((ema20-close)/ema20)/0.05) * 10.0
		total -= pBelow
		dec.ScoreParts["penalty_below_ema20"] = -round3(pBelow)
	}

	score := round3(math.Max(0, math.Min(100, total)))
	dec.Score = &score

	if industry != "" && flow != nil {
		delta, parts, reasons := flow.ScoreAdjustment(industry)
		for k, v := range parts {
			dec.ScoreParts[k] = v
		}
		if len(reasons) > 0 {
			dec.Values["industryFlowAdjust"] = delta
		}
		if delta != 0 {
			adjusted := round3(math.Max(0, math.Min(100, score+delta)))
			dec.Score = &adjusted
		}
	}
}

// computeStopLoss derives the stop price from structural support minus an
// ATR buffer, floored by a hard max-loss stop, with exit-now overrides
// for trend structure breaks and momentum exhaustion.
func computeStopLoss(dec *TrendDecision, ts *trendSeries) {
	n := len(ts.closes)
	current := last(ts.closes)
	parts := map[string]float64{"current_price": round6(current)}

	ema20, haveEMA20 := dec.Values["ema20"]
	if len(ts.lows) == 0 || !haveEMA20 {
		dec.MissingData = append(dec.MissingData, "stoploss_missing_inputs")
		return
	}

	swingLow := minOf(ts.lows)
	if n >= 10 {
		swingLow = minOf(ts.lows[n-10:])
	}
	platformLow := swingLow
	switch {
	case n >= 25:
		platformLow = minOf(ts.lows[n-20 : n-5])
	case n >= 20:
		platformLow = minOf(ts.lows[:n-5])
	case n > 5:
		platformLow = minOf(ts.lows[:n-5])
	}
	support := math.Max(math.Max(swingLow, platformLow), ema20)
	parts["swing_low_10d"] = round6(swingLow)
	parts["platform_low_20d_excl_5d"] = round6(platformLow)
	parts["ema20"] = round6(ema20)
	parts["final_support"] = round6(support)

	var exitReasons []string
	if ema5, ok := dec.Values["ema5"]; ok && ema5 < ema20 {
		exitReasons = append(exitReasons, "trend_structure_break:ema5_below_ema20")
	}
	if current < ema20 {
		exitReasons = append(exitReasons, "trend_structure_break:close_below_ema20")
	}

	var warnReasons []string
	avg5, haveAvg5 := dec.Values["avgVol5"]
	avg30, haveAvg30 := dec.Values["avgVol30"]
	if len(ts.hist) >= 4 {
		h4 := ts.hist[len(ts.hist)-4:]
		shrinkThenFlip := h4[0] > h4[1] && h4[1] > h4[2] && h4[2] > 0 && h4[3] < 0
		volDry := haveAvg5 && haveAvg30 && avg30 > 0 && avg5 < avg30
		if haveAvg5 && haveAvg30 && shrinkThenFlip && volDry {
			exitReasons = append(exitReasons, "momentum_exhaustion:hist_shrink3_flip_negative_and_volume_dry")
		}
		if !shrinkThenFlip {
			shrinkCnt := 0
			for i := 1; i < 4; i++ {
				if h4[i] < h4[i-1] {
					shrinkCnt++
				}
			}
			parts["warn_hist_shrink_cnt_3"] = float64(shrinkCnt)
			if h4[3] > 0 && shrinkCnt >= 2 {
				warnReasons = append(warnReasons, warnReason(haveAvg5 && haveAvg30, volDry))
			}
		}
	}

	if len(exitReasons) > 0 {
		stop := round6(current)
		dec.StopLossPrice = &stop
		parts["final_stop_loss"] = stop
		dec.StopLossParts = parts
		dec.SellMode = SellModeExitNow
		dec.SellReasons = exitReasons
		return
	}
	if len(warnReasons) > 0 {
		dec.SellMode = SellModeReduceHalf
		dec.SellReasons = warnReasons
	}

	atrK, maxLossPct := 1.2, 0.08
	if vol, ok := stdReturns20(ts.closes); ok {
		parts["vol_std20"] = round6(vol)
		switch {
		case vol <= 0.02:
			atrK, maxLossPct = 1.1, 0.06
		case vol <= 0.04:
			atrK, maxLossPct = 1.2, 0.08
		default:
			atrK, maxLossPct = 1.4, 0.10
		}
	}
	parts["atr_k"] = atrK
	parts["max_loss_pct"] = maxLossPct

	atr14, ok := ATR(ts.highs, ts.lows, ts.closes, 14)
	if !ok {
		dec.MissingData = append(dec.MissingData, "atr14_unavailable")
		dec.StopLossParts = parts
		return
	}
	buffer := atrK * atr14
	hardStop := current * (1.0 - maxLossPct)
	finalStop := math.Min(math.Max(support-buffer, hardStop), current)
	parts["atr14"] = round6(atr14)
	parts["buffer"] = round6(buffer)
	parts["hard_stop"] = round6(hardStop)
	parts["final_stop_loss"] = round6(finalStop)
	stop := round6(finalStop)
	dec.StopLossPrice = &stop
	dec.StopLossParts = parts
}

func warnReason(haveVolAvgs, volDry bool) string {
	switch {
	case !haveVolAvgs:
		return "momentum_warning:hist_shrinking_volume_unknown"
	case volDry:
		return "momentum_warning:hist_shrinking_and_volume_dry"
	default:
		return "momentum_warning:hist_shrinking"
	}
}

// computeBuyDecision picks between the two right-side entry modes.
// Mode B (momentum new high) needs a Strong regime; everything else falls
// through to mode A (breakout then pullback). Every non-buy decision
// carries a descriptive reason.
func computeBuyDecision(dec *TrendDecision, ts *trendSeries, regime RegimeLabel) {
	n := len(ts.closes)
	if len(ts.closes) > 0 {
		ref := round6(last(ts.closes))
		dec.BuyRefPrice = &ref
	}
	if dec.SellMode == SellModeExitNow {
		dec.BuyMode = BuyModeNone
		dec.BuyAction = BuyActionAvoid
		dec.BuyWhy = "risk: immediate exit triggered, buying disabled"
		return
	}
	if n < 26 {
		dec.BuyMode = BuyModeNone
		dec.BuyAction = BuyActionWait
		dec.BuyWhy = "insufficient history (need at least 26 daily bars)"
		return
	}

	close := last(ts.closes)
	vol := last(ts.vols)
	volPrev := vol
	if n >= 2 {
		volPrev = ts.vols[n-2]
	}
	var volSMA20 float64
	haveVolSMA20 := n >= 21
	if haveVolSMA20 {
		volSMA20 = mean(ts.vols[n-21 : n-1])
	}

	ema20Rising := len(ts.ema20) >= 2 && ts.ema20[len(ts.ema20)-1] > ts.ema20[len(ts.ema20)-2]
	histNow := 0.0
	if len(ts.hist) > 0 {
		histNow = last(ts.hist)
	}
	ema20, haveEMA20 := dec.Values["ema20"]
	inTrend := haveEMA20 && close > ema20 && ema20Rising && histNow > 0
	allowModeB := regime == RegimeStrong
	dec.BuyChecks["mode_b_allowed"] = allowModeB
	if inTrend && !allowModeB {
		dec.BuyChecks["mode_b_blocked"] = true
		inTrend = false
	}
	dec.BuyChecks["in_trend"] = inTrend
	dec.BuyChecks["ema20_rising"] = ema20Rising

	if inTrend {
		dec.BuyMode = BuyModeMomentum
		prev10High := maxOf(ts.highs[:n-1])
		if n >= 11 {
			prev10High = maxOf(ts.highs[n-11 : n-1])
		}
		newHigh := close > prev10High
		volOK := haveVolSMA20 && vol > volSMA20*1.2
		macdInc := len(ts.hist) >= 2 && ts.hist[len(ts.hist)-1] > ts.hist[len(ts.hist)-2]
		rsiOK := false
		if rsi, ok := dec.Values["rsi14"]; ok {
			rsiOK = rsi < 80.0
		}
		dec.BuyChecks["b_new_high"] = newHigh
		dec.BuyChecks["b_vol_ok"] = volOK
		dec.BuyChecks["b_macd_inc"] = macdInc
		dec.BuyChecks["b_rsi_ok"] = rsiOK
		lo, hi := round6(prev10High), round6(prev10High*1.02)
		dec.BuyZoneLow, dec.BuyZoneHigh = &lo, &hi
		if newHigh && volOK && macdInc && rsiOK {
			dec.BuyAction = BuyActionBuy
			dec.BuyWhy = "mode B: new 10d high in trend with volume and momentum confirmation"
		} else {
			dec.BuyAction = BuyActionWait
			dec.BuyWhy = "mode B: in trend, waiting for new high with volume/momentum confirmation"
		}
		return
	}

	dec.BuyMode = BuyModePullback
	// Scan the last 1..5 sessions (today excluded) for a breakout day:
	// close above the prior 20d high on volume 1.2x the 20d average.
	breakoutIdx := -1
	breakoutLevel := 0.0
	for k := 1; k < minInt(trendLookbackDays+1, n); k++ {
		di := n - 1 - k
		if di < 21 {
			continue
		}
		level := maxOf(ts.highs[di-20 : di])
		volMA := mean(ts.vols[di-20 : di])
		if ts.closes[di] > level && ts.vols[di] > volMA*1.2 {
			breakoutIdx = di
			breakoutLevel = level
			break
		}
	}
	inWindow := breakoutIdx >= 0
	dec.BuyChecks["a_in_pullback_window"] = inWindow

	if !inWindow {
		dec.BuyAction = BuyActionWait
		dec.BuyWhy = fmt.Sprintf("mode A: no breakout day found in the last %d days", trendLookbackDays)
		return
	}
	if !haveEMA20 {
		dec.BuyAction = BuyActionWait
		dec.BuyWhy = "mode A: insufficient history for EMA20"
		return
	}

	low10 := minOf(ts.lows)
	if n >= 10 {
		low10 = minOf(ts.lows[n-10:])
	}
	support := math.Max(low10, ema20)
	pullback := last(ts.lows) <= breakoutLevel*1.01 &&
		close >= support*0.99 &&
		vol < volPrev &&
		close > last(ts.opens)
	dec.BuyChecks["a_pullback_signal"] = pullback
	lo, hi := round6(math.Max(support*0.99, breakoutLevel*0.99)), round6(breakoutLevel*1.01)
	dec.BuyZoneLow, dec.BuyZoneHigh = &lo, &hi
	if pullback {
		dec.BuyAction = BuyActionBuy
		dec.BuyWhy = "mode A: pullback to support after breakout with drying volume"
	} else {
		dec.BuyAction = BuyActionWait
		dec.BuyWhy = "mode A: inside pullback window, waiting for volume to dry up at support"
	}
}

// decideTrendOK requires all six checks; any missing one leaves the
// verdict unknown rather than false.
func decideTrendOK(dec *TrendDecision) {
	required := []string{"emaOrder", "macdPositive", "macdHistExpanding", "closeNear20dHigh", "rsiInRange", "volumeSurge"}
	all := true
	for _, key := range required {
		v, ok := dec.Checks[key]
		if !ok {
			dec.MissingData = append(dec.MissingData, "insufficient_indicators")
			return
		}
		all = all && v
	}
	dec.TrendOK = &all
}

func stdReturns20(closes []float64) (float64, bool) {
	n := len(closes)
	if n < 21 {
		return 0, false
	}
	rets := make([]float64, 0, 20)
	for i := n - 20; i < n; i++ {
		if closes[i-1] > 0 {
			rets = append(rets, closes[i]/closes[i-1]-1.0)
		}
	}
	if len(rets) < 10 {
		return 0, false
	}
	mu := mean(rets)
	varSum := 0.0
	for _, r := range rets {
		varSum += (r - mu) * (r - mu)
	}
	return math.Sqrt(math.Max(0, varSum/float64(len(rets)))), true
}

func last(xs []float64) float64 { return xs[len(xs)-1] }

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func round3(x float64) float64 { return math.Round(x*1e3) / 1e3 }
func round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }
