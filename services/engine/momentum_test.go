package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steadyClimbBars(n int, lastVol float64) []Bar {
	closes := make([]float64, n)
	vols := make([]float64, n)
	price := 10.0
	for i := range closes {
		if i%2 == 0 {
			price *= 1.015
		} else {
			price *= 0.995
		}
		closes[i] = price
		vols[i] = 1000
	}
	vols[n-1] = lastVol
	return trendBars(closes, vols)
}

func fallingBars(n int) []Bar {
	closes := make([]float64, n)
	price := 10.0
	for i := range closes {
		price *= 0.99
		closes[i] = price
	}
	return trendBars(closes, nil)
}

func fixedRegime(label RegimeLabel) RegimeSource {
	return RegimeFunc(func(string) RegimeLabel { return label })
}

func TestMomentumPlanMissingBars(t *testing.T) {
	plan := ComputeWatchlistMomentumPlan(
		[]WatchlistEntry{{Symbol: "600000.SH", PositionPct: 0.1}},
		map[string][]Bar{},
		fixedRegime(RegimeStrong),
	)
	require.Len(t, plan.Rows, 1)
	assert.Contains(t, plan.Rows[0].MissingData, "no_bars")
	assert.Empty(t, plan.Holdings)
	assert.Zero(t, plan.Summary.TotalCurrentPct)
}

func TestMomentumPlanExitOnWeakTrend(t *testing.T) {
	plan := ComputeWatchlistMomentumPlan(
		[]WatchlistEntry{{Symbol: "600000.SH", PositionPct: 0.2}},
		map[string][]Bar{"600000.SH": fallingBars(40)},
		fixedRegime(RegimeStrong),
	)
	require.Len(t, plan.Rows, 1)
	row := plan.Rows[0]
	assert.True(t, row.SellOK)
	assert.Equal(t, "exit", row.Action)
	assert.Equal(t, "trend_weak", row.Reason)
	assert.Zero(t, row.TargetPct)
	assert.Empty(t, plan.Holdings, "an exit row is not a holding")
}

func TestMomentumPlanBreakoutAddsUnderStrongRegime(t *testing.T) {
	plan := ComputeWatchlistMomentumPlan(
		[]WatchlistEntry{{Symbol: "600000.SH", PositionPct: 0.1}},
		map[string][]Bar{"600000.SH": steadyClimbBars(40, 3000)},
		fixedRegime(RegimeStrong),
	)
	require.Len(t, plan.Rows, 1)
	row := plan.Rows[0]
	assert.True(t, row.BreakoutOK)
	assert.False(t, row.SellOK)
	assert.Equal(t, "buy_add", row.Action)
	assert.Equal(t, "breakout", row.Reason)
	assert.Equal(t, 0.25, row.TargetPct)
	assert.Equal(t, RegimeStrong, plan.Summary.Regime)
	require.Len(t, plan.Holdings, 1)
}

func TestMomentumPlanRegimeScalesTarget(t *testing.T) {
	bars := map[string][]Bar{"600000.SH": steadyClimbBars(40, 3000)}
	entries := []WatchlistEntry{{Symbol: "600000.SH", PositionPct: 0.1}}

	for _, tc := range []struct {
		regime RegimeLabel
		target float64
	}{
		{RegimeStrong, 0.25},
		{RegimeDiverging, 0.15},
		{RegimeWeak, 0.05},
		{RegimeUnknown, 0.05},
	} {
		plan := ComputeWatchlistMomentumPlan(entries, bars, fixedRegime(tc.regime))
		require.Len(t, plan.Rows, 1)
		assert.Equal(t, tc.target, plan.Rows[0].TargetPct, "regime %s", tc.regime)
	}
}

func TestMomentumPlanHoldKeepsCurrentWeight(t *testing.T) {
	// flat tape: no breakout, no exit
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10
	}
	plan := ComputeWatchlistMomentumPlan(
		[]WatchlistEntry{{Symbol: "600000.SH", PositionPct: 0.12}},
		map[string][]Bar{"600000.SH": trendBars(closes, nil)},
		fixedRegime(RegimeWeak),
	)
	require.Len(t, plan.Rows, 1)
	row := plan.Rows[0]
	assert.Equal(t, "hold", row.Action)
	assert.Equal(t, "no_action", row.Reason)
	assert.Equal(t, 0.12, row.TargetPct)
}

func TestMomentumPlanHoldingsSorted(t *testing.T) {
	bars := map[string][]Bar{
		"600000.SH": steadyClimbBars(40, 3000),
		"000001.SZ": steadyClimbBars(40, 3000),
	}
	entries := []WatchlistEntry{
		{Symbol: "600000.SH", PositionPct: 0.1},
		{Symbol: "000001.SZ", PositionPct: 0.1},
	}
	plan := ComputeWatchlistMomentumPlan(entries, bars, fixedRegime(RegimeStrong))
	require.Len(t, plan.Holdings, 2)
	assert.Equal(t, "000001.SZ", plan.Holdings[0].Symbol, "equal targets sort by symbol")
}
