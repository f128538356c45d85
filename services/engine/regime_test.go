package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingCloses(start float64, n int) []IndexClose {
	out := make([]IndexClose, n)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = IndexClose{Date: day.Format("2006-01-02"), Close: start + float64(i)}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func fallingCloses(start float64, n int) []IndexClose {
	out := make([]IndexClose, n)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = IndexClose{Date: day.Format("2006-01-02"), Close: start - float64(i)}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func TestComputeIndexSignalGreen(t *testing.T) {
	sig := ComputeIndexSignal("000001.SH", "SSE Composite", risingCloses(3000, 30))
	assert.Equal(t, "green", sig.Signal)
	assert.Equal(t, "80%-100%", sig.PositionRange)
	assert.Greater(t, sig.MA20, sig.MA20Prev)
}

func TestComputeIndexSignalRed(t *testing.T) {
	sig := ComputeIndexSignal("399006.SZ", "ChiNext", fallingCloses(3000, 30))
	assert.Equal(t, "red", sig.Signal)
	assert.Equal(t, "0%-20%", sig.PositionRange)
}

func TestComputeIndexSignalInsufficientData(t *testing.T) {
	sig := ComputeIndexSignal("000001.SH", "SSE Composite", risingCloses(3000, 20))
	assert.Equal(t, "unknown", sig.Signal)
	require.Len(t, sig.Rules, 1)
	assert.Equal(t, "insufficient data for MA20", sig.Rules[0])
}

func TestClassifyRegimeCombinations(t *testing.T) {
	green := IndexSignal{Symbol: "000001.SH", Signal: "green"}
	red := IndexSignal{Symbol: "399006.SZ", Signal: "red"}
	yellow := IndexSignal{Symbol: "399006.SZ", Signal: "yellow"}
	unknown := IndexSignal{Symbol: "399006.SZ", Signal: "unknown"}

	assert.Equal(t, RegimeStrong, ClassifyRegime([]IndexSignal{green, {Symbol: "x", Signal: "green"}}).Regime)

	div := ClassifyRegime([]IndexSignal{green, red})
	assert.Equal(t, RegimeDiverging, div.Regime)
	assert.Equal(t, "sse_stronger", div.Bias)

	assert.Equal(t, RegimeWeak, ClassifyRegime([]IndexSignal{yellow, red}).Regime)
	assert.Equal(t, RegimeUnknown, ClassifyRegime([]IndexSignal{unknown, {Symbol: "000001.SH", Signal: "unknown"}}).Regime)
	assert.Equal(t, RegimeUnknown, ClassifyRegime([]IndexSignal{green}).Regime)
}

func TestClassifyRegimeMixedBias(t *testing.T) {
	a := IndexSignal{Symbol: "000001.SH", Signal: "green"}
	b := IndexSignal{Symbol: "399006.SZ", Signal: "yellow"}
	got := ClassifyRegime([]IndexSignal{a, b})
	assert.Equal(t, RegimeDiverging, got.Regime)
	assert.Equal(t, "sse_stronger", got.Bias)

	got = ClassifyRegime([]IndexSignal{b, a})
	assert.Equal(t, RegimeDiverging, got.Regime)
	assert.Equal(t, "cyb_stronger", got.Bias)
}

func cnTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	// 2024-06-05 is a Wednesday
	return time.Date(2024, 6, 5, hour, minute, 0, 0, ShanghaiLocation())
}

func TestSyncWindowIncludesLunchBreak(t *testing.T) {
	assert.True(t, InSyncWindow(cnTime(t, 12, 0)), "lunch break belongs to the trading day")
	assert.False(t, InTradingSession(cnTime(t, 12, 0)), "lunch break is not a live session")
}

func TestSyncWindowMorningSession(t *testing.T) {
	assert.True(t, InSyncWindow(cnTime(t, 10, 15)))
	assert.True(t, InTradingSession(cnTime(t, 10, 15)))
}

func TestSyncWindowExcludesEvening(t *testing.T) {
	assert.False(t, InSyncWindow(cnTime(t, 20, 0)))
	assert.False(t, InTradingSession(cnTime(t, 20, 0)))
}

func TestSessionExcludesWeekend(t *testing.T) {
	// 2024-06-08 is a Saturday
	sat := time.Date(2024, 6, 8, 10, 0, 0, 0, ShanghaiLocation())
	assert.False(t, InTradingSession(sat))
	assert.False(t, InSyncWindow(sat))
}

func TestSessionBoundaries(t *testing.T) {
	cases := []struct {
		hour, minute int
		inSession    bool
	}{
		{9, 29, false},
		{9, 30, true},
		{11, 30, true},
		{12, 59, false},
		{13, 0, true},
		{15, 0, true},
		{15, 1, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%02d:%02d", tc.hour, tc.minute), func(t *testing.T) {
			assert.Equal(t, tc.inSession, InTradingSession(cnTime(t, tc.hour, tc.minute)))
		})
	}
}
