package engine

// ScoreConfig tunes the daily candidate ranking. The weights are policy,
// not structure, and stay fixed for a run's lifetime.
type ScoreConfig struct {
	TopN           int
	MomentumWeight float64
	VolumeWeight   float64
	AmountWeight   float64
}

// DefaultScoreConfig keeps every candidate and ranks by momentum alone.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{TopN: 1000, MomentumWeight: 1.0}
}

// Strategy is the polymorphic decision unit driven by the backtest
// engine. OnBar must not mutate the given portfolio and must be
// idempotent: called twice with the same date, bars and portfolio it
// returns the same order list. Symbols with insufficient history are
// treated as not yet evaluable, never as a sell signal.
type Strategy interface {
	Name() string
	OnStart(startDate, endDate string)
	OnBar(tradeDate string, bars map[string]Bar, portfolio PortfolioSnapshot) []Order
	DefaultScoreConfig() ScoreConfig
}

// RegimeSource supplies the market regime as of a trade date. Strategies
// and the live alert path consult it; implementations must treat missing
// reference data as RegimeUnknown.
type RegimeSource interface {
	RegimeAt(asOfDate string) RegimeLabel
}

// RegimeFunc adapts a plain function to a RegimeSource.
type RegimeFunc func(asOfDate string) RegimeLabel

func (f RegimeFunc) RegimeAt(asOfDate string) RegimeLabel { return f(asOfDate) }
