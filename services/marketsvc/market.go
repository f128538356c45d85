// Package marketsvc is the live-read service layer: it materializes bars
// and index closes from the store and hands them to the pure engine
// evaluators. It holds no state of its own.
package marketsvc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantsync/services/engine"
)

const (
	regimeCloseDepth = 60
	trendBarDepth    = 120
	momentumBarDepth = 80
)

// Store is the read surface marketsvc needs.
type Store interface {
	IndexCloses(ctx context.Context, symbol string, limit int) ([]engine.IndexClose, error)
	LastBars(ctx context.Context, symbols []string, days int, mode engine.AdjMode) (map[string][]engine.Bar, error)
	StockBasics(ctx context.Context) ([]engine.StockInfo, error)
}

type Service struct {
	store Store
	log   *zap.Logger
}

func New(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// Regime classifies the current market regime from the reference indices.
// Missing index data degrades to Unknown rather than failing.
func (s *Service) Regime(ctx context.Context) engine.MarketRegime {
	signals := make([]engine.IndexSignal, 0, len(engine.IndexRefs))
	for _, ref := range engine.IndexRefs {
		closes, err := s.store.IndexCloses(ctx, ref.Symbol, regimeCloseDepth)
		if err != nil {
			s.log.Warn("load index closes", zap.String("symbol", ref.Symbol), zap.Error(err))
			closes = nil
		}
		signals = append(signals, engine.ComputeIndexSignal(ref.Symbol, ref.Name, closes))
	}
	return engine.ClassifyRegime(signals)
}

// RegimeSource adapts the live regime to the strategy-facing interface.
// The as-of date is ignored; live callers always want the current regime.
func (s *Service) RegimeSource(ctx context.Context) engine.RegimeSource {
	return engine.RegimeFunc(func(string) engine.RegimeLabel {
		return s.Regime(ctx).Regime
	})
}

// EvaluateWatchlist runs the trend evaluator over the given symbols with
// the current regime and stock metadata attached.
func (s *Service) EvaluateWatchlist(ctx context.Context, symbols []string, flow *engine.IndustryFlowContext) ([]engine.TrendDecision, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	bars, err := s.store.LastBars(ctx, symbols, trendBarDepth, engine.AdjForward)
	if err != nil {
		return nil, fmt.Errorf("load watchlist bars: %w", err)
	}
	meta, err := s.stockMeta(ctx)
	if err != nil {
		return nil, err
	}
	regime := s.Regime(ctx).Regime

	out := make([]engine.TrendDecision, 0, len(symbols))
	for _, sym := range symbols {
		in := engine.TrendInput{
			Symbol: sym,
			Bars:   bars[sym],
			Flow:   flow,
			Regime: regime,
		}
		if info, ok := meta[sym]; ok {
			in.Name = info.Name
			in.Industry = info.Industry
		}
		out = append(out, engine.EvaluateTrend(in))
	}
	return out, nil
}

// MomentumPlan computes the watchlist momentum plan for current holdings.
func (s *Service) MomentumPlan(ctx context.Context, entries []engine.WatchlistEntry) (engine.MomentumPlan, error) {
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	bars, err := s.store.LastBars(ctx, symbols, momentumBarDepth, engine.AdjForward)
	if err != nil {
		return engine.MomentumPlan{}, fmt.Errorf("load momentum bars: %w", err)
	}
	return engine.ComputeWatchlistMomentumPlan(entries, bars, s.RegimeSource(ctx)), nil
}

func (s *Service) stockMeta(ctx context.Context) (map[string]engine.StockInfo, error) {
	stocks, err := s.store.StockBasics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stock basics: %w", err)
	}
	meta := make(map[string]engine.StockInfo, len(stocks))
	for _, st := range stocks {
		meta[st.Symbol] = st
	}
	return meta, nil
}

// SessionState reports where now falls relative to the trading day.
type SessionState struct {
	Now          string `json:"now"`
	InSession    bool   `json:"inTradingSession"`
	InSyncWindow bool   `json:"inSyncWindow"`
}

func (s *Service) Session(now time.Time) SessionState {
	local := now.In(engine.ShanghaiLocation())
	return SessionState{
		Now:          local.Format(time.RFC3339),
		InSession:    engine.InTradingSession(local),
		InSyncWindow: engine.InSyncWindow(local),
	}
}
