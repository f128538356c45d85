// Package strategies hosts the concrete trading strategies the backtest
// engine can run. Lookup is an explicit name-to-constructor map built
// once at startup and passed where needed; there is no hidden mutable
// registry.
package strategies

import "quantsync/services/engine"

// Deps are the collaborators a strategy may consult.
type Deps struct {
	Regimes engine.RegimeSource
}

// Constructor builds a fresh strategy instance for one run.
type Constructor func(deps Deps) engine.Strategy

// Registry returns the closed set of known strategies.
func Registry() map[string]Constructor {
	return map[string]Constructor{
		WatchlistTrendV6Name: func(deps Deps) engine.Strategy {
			return NewWatchlistTrendV6(deps.Regimes)
		},
	}
}
