package engine

import (
	"math"
	"sync"
	"time"
)

// RegimeLabel is the coarse market-trend category used to gate strategy
// aggressiveness.
type RegimeLabel string

const (
	RegimeStrong    RegimeLabel = "Strong"
	RegimeDiverging RegimeLabel = "Diverging"
	RegimeWeak      RegimeLabel = "Weak"
	RegimeUnknown   RegimeLabel = "Unknown"
)

// Reference indices the regime is derived from: SSE composite and ChiNext.
var IndexRefs = []struct {
	Symbol string
	Name   string
}{
	{"000001.SH", "SSE Composite"},
	{"399006.SZ", "ChiNext"},
}

// IndexClose is one index-level closing observation.
type IndexClose struct {
	Date  string
	Close float64
}

// IndexSignal is the per-index traffic light derived from MA5/MA20.
type IndexSignal struct {
	Symbol        string   `json:"tsCode"`
	Name          string   `json:"name"`
	AsOfDate      string   `json:"asOfDate"`
	Close         float64  `json:"close"`
	MA5           float64  `json:"ma5"`
	MA20          float64  `json:"ma20"`
	MA20Prev      float64  `json:"ma20Prev"`
	Signal        string   `json:"signal"` // green | yellow | red | unknown
	PositionRange string   `json:"positionRange"`
	Rules         []string `json:"rules"`
}

// MarketRegime is the classified market state with its inputs.
type MarketRegime struct {
	Regime  RegimeLabel   `json:"regime"`
	Bias    string        `json:"bias,omitempty"`
	Signals []IndexSignal `json:"indexSignals"`
}

const regimeMinCloses = 21

// ComputeIndexSignal derives the traffic light for one index from its
// closing series (ascending by date). Fewer than 21 closes yields the
// unknown signal.
func ComputeIndexSignal(symbol, name string, series []IndexClose) IndexSignal {
	sig := IndexSignal{Symbol: symbol, Name: name, Signal: "unknown", PositionRange: "—"}
	if len(series) > 0 {
		last := series[len(series)-1]
		sig.AsOfDate = last.Date
		sig.Close = last.Close
	}
	if len(series) < regimeMinCloses {
		sig.Rules = []string{"insufficient data for MA20"}
		return sig
	}
	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
	}
	sig.MA5 = mean(closes[len(closes)-5:])
	sig.MA20 = mean(closes[len(closes)-20:])
	sig.MA20Prev = mean(closes[len(closes)-21 : len(closes)-1])
	close := sig.Close

	switch {
	case close > sig.MA20 && sig.MA20 > sig.MA20Prev:
		sig.Signal = "green"
		sig.PositionRange = "80%-100%"
		sig.Rules = []string{"close>MA20 && MA20 up"}
	case close < sig.MA20 && sig.MA20 < sig.MA20Prev:
		sig.Signal = "red"
		sig.PositionRange = "0%-20%"
		sig.Rules = []string{"close<MA20 && MA20 down"}
	default:
		sig.Signal = "yellow"
		sig.PositionRange = "40%-50%"
		switch {
		case close < sig.MA5 && close >= sig.MA20:
			sig.Rules = []string{"close<MA5 but hold MA20"}
		case math.Abs(close-sig.MA20)/sig.MA20 <= 0.01:
			sig.Rules = []string{"close near MA20"}
		default:
			sig.Rules = []string{"range/sideways"}
		}
	}
	return sig
}

// ClassifyRegime combines the reference index signals into a regime. With
// fewer than two usable signals the classification is Unknown, which
// strategies must treat conservatively.
func ClassifyRegime(signals []IndexSignal) MarketRegime {
	out := MarketRegime{Regime: RegimeUnknown, Signals: signals}
	if len(signals) < 2 {
		return out
	}
	sse, cyb := signals[0], signals[1]
	if sse.Signal == "unknown" && cyb.Signal == "unknown" {
		return out
	}
	g1 := sse.Signal == "green"
	g2 := cyb.Signal == "green"
	switch {
	case g1 && g2:
		out.Regime = RegimeStrong
	case g1 || g2:
		out.Regime = RegimeDiverging
		r1, r2 := signalRank(sse.Signal), signalRank(cyb.Signal)
		switch {
		case r1 == r2:
			out.Bias = "mixed"
		case r1 > r2:
			out.Bias = "sse_stronger"
		default:
			out.Bias = "cyb_stronger"
		}
	default:
		out.Regime = RegimeWeak
	}
	return out
}

func signalRank(s string) int {
	switch s {
	case "green":
		return 3
	case "yellow":
		return 2
	case "red":
		return 1
	}
	return 0
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

var (
	shanghaiOnce sync.Once
	shanghaiLoc  *time.Location
)

// ShanghaiLocation returns the exchange timezone. Falls back to a fixed
// UTC+8 zone when the tzdata is unavailable.
func ShanghaiLocation() *time.Location {
	shanghaiOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Shanghai")
		if err != nil {
			loc = time.FixedZone("CST", 8*3600)
		}
		shanghaiLoc = loc
	})
	return shanghaiLoc
}

// InTradingSession reports whether t falls inside the A-share live trading
// session (Mon-Fri 09:30-11:30, 13:00-15:00 Asia/Shanghai).
func InTradingSession(t time.Time) bool {
	local := t.In(ShanghaiLocation())
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	morning := minutes >= 9*60+30 && minutes <= 11*60+30
	afternoon := minutes >= 13*60 && minutes <= 15*60
	return morning || afternoon
}

// InSyncWindow reports whether t belongs to the trading day for sync
// purposes: the live session plus the midday recess. A timestamp inside
// the lunch break is still in window; evenings and weekends are not.
func InSyncWindow(t time.Time) bool {
	local := t.In(ShanghaiLocation())
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	lunch := minutes > 11*60+30 && minutes < 13*60
	return InTradingSession(t) || lunch
}
