package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StockInfo is the listing metadata a universe filter works from.
type StockInfo struct {
	Symbol   string
	Name     string
	Market   string
	Industry string
	ListDate string // "2006-01-02", may be empty
}

// UniverseFilter decides membership of the tradable symbol set as of a
// date. Given the same reference data it is deterministic.
type UniverseFilter struct {
	Market          string
	ExcludeKeywords []string
	MinListDays     int
}

var cnMarkets = map[string]bool{
	"CN": true, "主板": true, "中小板": true, "创业板": true, "科创板": true,
}

// Members returns the symbols tradable as of asOfDate, preserving the
// input order of stocks.
func (f UniverseFilter) Members(stocks []StockInfo, asOfDate string) []string {
	var keywords []string
	for _, k := range f.ExcludeKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	asOf, haveAsOf := parseDate(asOfDate)
	out := make([]string, 0, len(stocks))
	for _, s := range stocks {
		symbol := strings.TrimSpace(s.Symbol)
		if symbol == "" {
			continue
		}
		if strings.EqualFold(f.Market, "CN") && !cnMarkets[strings.ToUpper(strings.TrimSpace(s.Market))] {
			continue
		}
		if containsAny(s.Name, keywords) {
			continue
		}
		if haveAsOf && f.MinListDays > 0 {
			listed, ok := parseDate(s.ListDate)
			if !ok {
				continue
			}
			if listed.After(asOf.AddDate(0, 0, -f.MinListDays)) {
				continue
			}
		}
		out = append(out, symbol)
	}
	return out
}

func containsAny(name string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DailyRuleFilter rejects individual bars that are not tradable on the
// day (price bands, dried-up or locked volume). Rejection is silent; the
// symbol simply drops out of the day's candidate set.
type DailyRuleFilter struct {
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	MinVolume *decimal.Decimal
	MaxVolume *decimal.Decimal
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
}

// Accepts reports whether the bar passes every configured bound.
func (f DailyRuleFilter) Accepts(bar Bar) bool {
	if f.MinPrice != nil && bar.Close.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && bar.Close.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.MinVolume != nil && bar.Volume.LessThan(*f.MinVolume) {
		return false
	}
	if f.MaxVolume != nil && bar.Volume.GreaterThan(*f.MaxVolume) {
		return false
	}
	if f.MinAmount != nil && bar.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && bar.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}
