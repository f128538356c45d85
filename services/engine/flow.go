package engine

// IndustryFlowContext is the external money-flow picture the trend
// evaluator can consult: per-industry net inflows for the last two
// sessions plus 5-day ranking sets. Built by the caller from whatever
// flow source it has; the evaluator treats it as read-only.
type IndustryFlowContext struct {
	AsOfDate      string
	TopToday3     map[string]bool
	TopToday5     map[string]bool
	TopYesterday3 map[string]bool
	Top5D3        map[string]bool
	Bottom5D5     map[string]bool
	NetToday      map[string]float64
	NetYesterday  map[string]float64
}

// largeOutflowCNY marks a day's net outflow big enough to matter.
const largeOutflowCNY = -1.0e8

// ScoreAdjustment returns the score delta for one industry along with the
// per-rule parts and reason tags.
func (c *IndustryFlowContext) ScoreAdjustment(industry string) (float64, map[string]float64, []string) {
	if c == nil || industry == "" {
		return 0, nil, nil
	}
	delta := 0.0
	parts := map[string]float64{}
	var reasons []string
	apply := func(name string, points float64) {
		delta += points
		parts[name] = points
		reasons = append(reasons, name)
	}

	if c.Top5D3[industry] {
		apply("industry_flow_5d_top3", 10.0)
	}
	if c.Bottom5D5[industry] {
		apply("industry_flow_5d_bottom5", -20.0)
	}
	switch {
	case c.TopToday3[industry]:
		apply("hotspots_today_top3", 5.0)
	case c.TopToday5[industry]:
		apply("hotspots_today_top4_5", 3.0)
	}

	todayInflow := c.NetToday[industry]
	yesterdayInflow := c.NetYesterday[industry]
	inHotToday := c.TopToday5[industry]

	if c.TopYesterday3[industry] && !inHotToday && todayInflow <= largeOutflowCNY {
		apply("hotspot_falloff_big_outflow", -15.0)
	}
	if !inHotToday && todayInflow <= largeOutflowCNY && yesterdayInflow <= largeOutflowCNY {
		apply("hotspot_absent_2d_big_outflow", -10.0)
	}
	return delta, parts, reasons
}
