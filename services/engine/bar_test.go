package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarSeriesAppendEnforcesOrder(t *testing.T) {
	s := BarSeries{Symbol: "600000.SH"}
	require.NoError(t, s.Append(Bar{Symbol: "600000.SH", TradeDate: "2024-01-02"}))
	require.NoError(t, s.Append(Bar{Symbol: "600000.SH", TradeDate: "2024-01-03"}))

	err := s.Append(Bar{Symbol: "600000.SH", TradeDate: "2024-01-03"})
	assert.Error(t, err, "duplicate date")

	err = s.Append(Bar{Symbol: "600000.SH", TradeDate: "2024-01-01"})
	assert.Error(t, err, "out of order date")

	err = s.Append(Bar{Symbol: "000001.SZ", TradeDate: "2024-01-04"})
	assert.Error(t, err, "wrong symbol")
}

func TestBuildBarMapsForwardAdjustAnchorsToLatest(t *testing.T) {
	rows := []DailyRow{
		{Symbol: "600000.SH", TradeDate: "2024-01-02", Open: 10, High: 10, Low: 10, Close: 10, AdjFactor: 1.0},
		{Symbol: "600000.SH", TradeDate: "2024-01-03", Open: 5, High: 5, Low: 5, Close: 5, AdjFactor: 2.0},
	}
	barsByDate, prevClose := BuildBarMaps(rows, AdjForward)

	// latest factor anchors: day2 stays at its raw price
	day2 := barsByDate["2024-01-03"]["600000.SH"]
	assert.True(t, day2.Close.Equal(decimal.NewFromInt(5)), "close %s", day2.Close)

	// day1 is scaled by factor/latest = 1/2
	day1 := barsByDate["2024-01-02"]["600000.SH"]
	assert.True(t, day1.Close.Equal(decimal.NewFromInt(5)), "close %s", day1.Close)

	// prev close chains in adjusted terms
	assert.True(t, prevClose["2024-01-03"]["600000.SH"].Equal(day1.Close))
	// first date has no predecessor: prev falls back to its own close
	assert.True(t, prevClose["2024-01-02"]["600000.SH"].Equal(day1.Close))
}

func TestBuildBarMapsBackwardAdjustUsesRawFactor(t *testing.T) {
	rows := []DailyRow{
		{Symbol: "600000.SH", TradeDate: "2024-01-02", Open: 10, High: 10, Low: 10, Close: 10, AdjFactor: 1.0},
		{Symbol: "600000.SH", TradeDate: "2024-01-03", Open: 5, High: 5, Low: 5, Close: 5, AdjFactor: 2.0},
	}
	barsByDate, _ := BuildBarMaps(rows, AdjBackward)
	day1 := barsByDate["2024-01-02"]["600000.SH"]
	day2 := barsByDate["2024-01-03"]["600000.SH"]
	assert.True(t, day1.Close.Equal(decimal.NewFromInt(10)))
	assert.True(t, day2.Close.Equal(decimal.NewFromInt(10)))
}

func TestBuildBarMapsToleratesUnorderedInput(t *testing.T) {
	rows := []DailyRow{
		{Symbol: "600000.SH", TradeDate: "2024-01-03", Open: 11, High: 11, Low: 11, Close: 11},
		{Symbol: "600000.SH", TradeDate: "2024-01-02", Open: 10, High: 10, Low: 10, Close: 10},
	}
	barsByDate, prevClose := BuildBarMaps(rows, AdjForward)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, SortedDates(barsByDate))
	assert.True(t, prevClose["2024-01-03"]["600000.SH"].Equal(decimal.NewFromInt(10)))
}

func TestBuildBarMapsSkipsBlankRows(t *testing.T) {
	rows := []DailyRow{
		{Symbol: "", TradeDate: "2024-01-02", Close: 10},
		{Symbol: "600000.SH", TradeDate: "", Close: 10},
	}
	barsByDate, _ := BuildBarMaps(rows, AdjForward)
	assert.Empty(t, barsByDate)
}

func TestBarAvgPrice(t *testing.T) {
	rows := []DailyRow{
		{Symbol: "600000.SH", TradeDate: "2024-01-02", Open: 10, High: 12, Low: 9, Close: 11},
	}
	barsByDate, _ := BuildBarMaps(rows, AdjForward)
	bar := barsByDate["2024-01-02"]["600000.SH"]
	assert.True(t, bar.AvgPrice.Equal(decimal.NewFromFloat(10.5)), "avg %s", bar.AvgPrice)
}
