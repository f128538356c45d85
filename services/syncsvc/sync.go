// Package syncsvc owns the scheduled data-sync jobs. The close sync is
// calendar-driven: it walks trading days, pulls market-wide bars and
// adjustment factors per day, and records one job-run row per calendar
// day so a retry never re-ingests a finished day.
package syncsvc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantsync/services/chstore"
	"quantsync/services/engine"
)

const JobTypeCloseSync = "stock_close_sync"

// Store is the persistence surface the sync jobs need.
type Store interface {
	InsertDailyRows(ctx context.Context, rows []engine.DailyRow) (int, error)
	InsertIndexCloses(ctx context.Context, symbol string, closes []engine.IndexClose) (int, error)
	UpsertStockBasics(ctx context.Context, stocks []engine.StockInfo) (int, error)
	UpsertTradeCalendar(ctx context.Context, exchange string, dates map[string]bool) (int, error)
	TodayRun(ctx context.Context, jobType, runDate string) (*chstore.JobRun, error)
	LastSuccess(ctx context.Context, jobType string) (*chstore.JobRun, error)
	InsertJobRun(ctx context.Context, run chstore.JobRun) error
	IsTradingDay(ctx context.Context, exchange, date string) (*bool, error)
	OpenDates(ctx context.Context, exchange, startDate, endDate string) ([]string, error)
}

// Vendor is the upstream data source surface.
type Vendor interface {
	StockBasics(ctx context.Context) ([]engine.StockInfo, error)
	DailyByDate(ctx context.Context, tradeDate string) ([]engine.DailyRow, error)
	AdjFactorsByDate(ctx context.Context, tradeDate string) (map[string]float64, error)
	TradeCalendar(ctx context.Context, exchange, startDate, endDate string) (map[string]bool, error)
	IndexDaily(ctx context.Context, symbol, startDate, endDate string) ([]engine.IndexClose, error)
}

type Service struct {
	store    Store
	vendor   Vendor
	exchange string
	log      *zap.Logger
	now      func() time.Time
}

func New(store Store, vendor Vendor, exchange string, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		vendor:   vendor,
		exchange: exchange,
		log:      log,
		now:      time.Now,
	}
}

// Result is the JSON-facing outcome of a sync invocation.
type Result struct {
	OK         bool     `json:"ok"`
	Skipped    bool     `json:"skipped,omitempty"`
	Message    string   `json:"message,omitempty"`
	Updated    int      `json:"updated"`
	TradeDates []string `json:"tradeDates,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (s *Service) cnToday() string {
	return s.now().In(engine.ShanghaiLocation()).Format("2006-01-02")
}

// SyncClose pulls daily bars and adjustment factors for every trading day
// since the last successful run. It skips when today already succeeded,
// when today is not a trading day, or when called outside the sync window.
func (s *Service) SyncClose(ctx context.Context) Result {
	now := s.now().In(engine.ShanghaiLocation())
	today := now.Format("2006-01-02")

	if engine.InSyncWindow(now) {
		// closes are not final until the session ends
		return Result{OK: true, Skipped: true, Message: "market open; close sync runs after the session"}
	}

	run, err := s.store.TodayRun(ctx, JobTypeCloseSync, today)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	if run != nil && run.Success {
		return Result{OK: true, Skipped: true, Message: "already synced today"}
	}

	open, err := s.store.IsTradingDay(ctx, s.exchange, today)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	if open == nil {
		return Result{OK: false, Error: "trade calendar missing for today; sync calendar first"}
	}
	if !*open {
		return Result{OK: true, Skipped: true, Message: "not a trading day"}
	}

	start := today
	if run != nil && !run.Success && run.LastMarker != "" {
		// resume from the day after the last completed marker
		d, perr := time.Parse("2006-01-02", run.LastMarker)
		if perr == nil {
			start = d.AddDate(0, 0, 1).Format("2006-01-02")
		}
	} else if last, lerr := s.store.LastSuccess(ctx, JobTypeCloseSync); lerr == nil && last != nil {
		start = last.SyncAt.In(engine.ShanghaiLocation()).AddDate(0, 0, 1).Format("2006-01-02")
	}
	if start > today {
		return Result{OK: true, Skipped: true, Message: "already up to date"}
	}

	dates, err := s.store.OpenDates(ctx, s.exchange, start, today)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	if len(dates) == 0 {
		return Result{OK: true, Updated: 0, Message: "no trading dates in range"}
	}

	total := 0
	lastCompleted := ""
	for _, d := range dates {
		n, err := s.syncOneDay(ctx, d)
		if err != nil {
			s.log.Warn("close sync day failed", zap.String("date", d), zap.Error(err))
			s.recordRun(ctx, today, false, lastCompleted, err.Error())
			return Result{OK: false, Error: err.Error(), Updated: total}
		}
		total += n
		lastCompleted = d
		s.log.Info("close sync day done", zap.String("date", d), zap.Int("rows", n))
	}
	s.recordRun(ctx, today, true, lastCompleted, "")
	return Result{OK: true, Updated: total, TradeDates: dates}
}

func (s *Service) syncOneDay(ctx context.Context, date string) (int, error) {
	rows, err := s.vendor.DailyByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("fetch daily %s: %w", date, err)
	}
	factors, err := s.vendor.AdjFactorsByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("fetch adj factors %s: %w", date, err)
	}
	for i := range rows {
		rows[i].AdjFactor = factors[rows[i].Symbol]
	}
	return s.store.InsertDailyRows(ctx, rows)
}

func (s *Service) recordRun(ctx context.Context, today string, success bool, marker, errMsg string) {
	err := s.store.InsertJobRun(ctx, chstore.JobRun{
		JobType:    JobTypeCloseSync,
		RunDate:    today,
		SyncAt:     s.now(),
		Success:    success,
		LastMarker: marker,
		ErrMessage: errMsg,
	})
	if err != nil {
		s.log.Error("record sync run", zap.Error(err))
	}
}

// SyncCalendar refreshes the trade calendar from today back one year and
// forward three months.
func (s *Service) SyncCalendar(ctx context.Context) Result {
	now := s.now().In(engine.ShanghaiLocation())
	start := now.AddDate(-1, 0, 0).Format("2006-01-02")
	end := now.AddDate(0, 3, 0).Format("2006-01-02")
	dates, err := s.vendor.TradeCalendar(ctx, s.exchange, start, end)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	n, err := s.store.UpsertTradeCalendar(ctx, s.exchange, dates)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, Updated: n}
}

// SyncStockBasics refreshes the listed-stock metadata snapshot.
func (s *Service) SyncStockBasics(ctx context.Context) Result {
	stocks, err := s.vendor.StockBasics(ctx)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	n, err := s.store.UpsertStockBasics(ctx, stocks)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, Updated: n}
}

// SyncIndexes refreshes daily closes for the given index symbols. An empty
// symbol list is a no-op success, not an error.
func (s *Service) SyncIndexes(ctx context.Context, symbols []string) Result {
	if len(symbols) == 0 {
		return Result{OK: true, Updated: 0}
	}
	now := s.now().In(engine.ShanghaiLocation())
	start := now.AddDate(0, -6, 0).Format("2006-01-02")
	end := now.Format("2006-01-02")
	total := 0
	for _, sym := range symbols {
		closes, err := s.vendor.IndexDaily(ctx, sym, start, end)
		if err != nil {
			return Result{OK: false, Error: err.Error(), Updated: total}
		}
		n, err := s.store.InsertIndexCloses(ctx, sym, closes)
		if err != nil {
			return Result{OK: false, Error: err.Error(), Updated: total}
		}
		total += n
	}
	return Result{OK: true, Updated: total}
}
