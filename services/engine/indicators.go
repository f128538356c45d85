package engine

import "math"

// Indicator transforms are pure functions over float slices. Results align
// to the input's tail; insufficient history yields an empty or shorter
// slice, never a panic. Callers supply exactly the window they want.

// EMA returns the exponential moving average seeded from the first value.
// The result has the same length as the input.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	prev := values[0]
	out[0] = prev
	for i := 1; i < len(values); i++ {
		prev = alpha*values[i] + (1.0-alpha)*prev
		out[i] = prev
	}
	return out
}

// MACD returns the MACD line, signal line and histogram, all aligned to
// the input.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist []float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	line = make([]float64, len(values))
	for i := range values {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// RSI returns the Wilder-smoothed relative strength index in [0,100],
// aligned to the input with a zero leading element. Fewer than two values
// yields an empty result.
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) < 2 {
		return nil
	}
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		chg := values[i] - values[i-1]
		gains[i] = math.Max(0, chg)
		losses[i] = math.Max(0, -chg)
	}
	out := make([]float64, len(values))
	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		if i <= period {
			var sg, sl float64
			for j := 1; j <= i; j++ {
				sg += gains[j]
				sl += losses[j]
			}
			n := math.Max(1, float64(i))
			avgGain = sg / n
			avgLoss = sl / n
		} else {
			avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		}
		switch {
		case avgLoss <= 0 && avgGain > 0:
			out[i] = 100.0
		case avgLoss <= 0:
			out[i] = 50.0
		default:
			rs := avgGain / avgLoss
			out[i] = 100.0 - 100.0/(1.0+rs)
		}
	}
	return out
}

// ATR returns the Wilder-smoothed average true range, or false when there
// is not enough history (period+1 bars).
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 {
		return 0, false
	}
	n := min(len(highs), min(len(lows), len(closes)))
	if n < period+1 {
		return 0, false
	}
	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		h, l, pc := highs[i], lows[i], closes[i-1]
		tr = append(tr, math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc))))
	}
	atr := 0.0
	for _, x := range tr[:period] {
		atr += x
	}
	atr /= float64(period)
	for _, x := range tr[period:] {
		atr = (atr*float64(period-1) + x) / float64(period)
	}
	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, false
	}
	return atr, true
}

func clip01(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return x
}
