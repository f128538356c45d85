// Package main runs the market-data service: HTTP API plus scheduled
// sync jobs.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quantsync/services/chstore"
	"quantsync/services/config"
	"quantsync/services/engine"
	"quantsync/services/marketsvc"
	"quantsync/services/provider"
	"quantsync/services/syncsvc"
	"quantsync/strategies"
)

type server struct {
	store  *chstore.Store
	market *marketsvc.Service
	sync   *syncsvc.Service
	logger *zap.Logger
}

type backtestRequest struct {
	Strategy     string   `json:"strategy"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate"`
	InitialCash  string   `json:"initialCash"`
	FeeRate      string   `json:"feeRate"`
	SlippageRate string   `json:"slippageRate"`
	AdjMode      string   `json:"adjMode"`
	WarmupDays   int      `json:"warmupDays"`
	Market       string   `json:"market"`
	ExcludeWords []string `json:"excludeKeywords"`
	MinListDays  int      `json:"minListDays"`
}

func (s *server) handleBacktestRun(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	construct, ok := strategies.Registry()[req.Strategy]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy: " + req.Strategy})
		return
	}

	jobID := uuid.New().String()
	ctx := c.Request.Context()
	strat := construct(strategies.Deps{Regimes: s.market.RegimeSource(ctx)})

	cash, err := decimal.NewFromString(orDefault(req.InitialCash, "1000000"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad initialCash: " + err.Error()})
		return
	}
	fee, err := decimal.NewFromString(orDefault(req.FeeRate, "0.00025"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad feeRate: " + err.Error()})
		return
	}
	slip, err := decimal.NewFromString(orDefault(req.SlippageRate, "0.0005"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad slippageRate: " + err.Error()})
		return
	}

	bt := &engine.Backtest{
		Params: engine.BacktestParams{
			StartDate:    req.StartDate,
			EndDate:      req.EndDate,
			InitialCash:  cash,
			FeeRate:      fee,
			SlippageRate: slip,
			AdjMode:      engine.AdjMode(req.AdjMode),
			WarmupDays:   req.WarmupDays,
		},
		Universe: engine.UniverseFilter{
			Market:          req.Market,
			ExcludeKeywords: req.ExcludeWords,
			MinListDays:     req.MinListDays,
		},
		Score:    strat.DefaultScoreConfig(),
		Strategy: strat,
		Provider: s.store,
	}

	s.logger.Info("backtest run started",
		zap.String("job_id", jobID),
		zap.String("strategy", req.Strategy),
		zap.String("start", req.StartDate),
		zap.String("end", req.EndDate),
	)
	started := time.Now()
	result, err := bt.Run(ctx)
	if err != nil {
		s.logger.Error("backtest run failed", zap.String("job_id", jobID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrInvalidParams) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"jobId": jobID, "error": err.Error()})
		return
	}
	s.logger.Info("backtest run finished",
		zap.String("job_id", jobID),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("trades", len(result.TradeLog)),
	)
	c.JSON(http.StatusOK, gin.H{"jobId": jobID, "result": result})
}

type trendokRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *server) handleTrendok(c *gin.Context) {
	var req trendokRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decisions, err := s.market.EvaluateWatchlist(c.Request.Context(), req.Symbols, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

type momentumRequest struct {
	Entries []engine.WatchlistEntry `json:"entries"`
}

func (s *server) handleMomentumPlan(c *gin.Context) {
	var req momentumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan, err := s.market.MomentumPlan(c.Request.Context(), req.Entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *server) handleRegime(c *gin.Context) {
	regime := s.market.Regime(c.Request.Context())
	session := s.market.Session(time.Now())
	c.JSON(http.StatusOK, gin.H{"regime": regime, "session": session})
}

func (s *server) handleSyncClose(c *gin.Context) {
	c.JSON(http.StatusOK, s.sync.SyncClose(c.Request.Context()))
}

func (s *server) handleSyncCalendar(c *gin.Context) {
	c.JSON(http.StatusOK, s.sync.SyncCalendar(c.Request.Context()))
}

func (s *server) handleSyncBasics(c *gin.Context) {
	c.JSON(http.StatusOK, s.sync.SyncStockBasics(c.Request.Context()))
}

type syncIndexRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *server) handleSyncIndexes(c *gin.Context) {
	var req syncIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.sync.SyncIndexes(c.Request.Context(), req.Symbols))
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *server) routes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/backtest/run", s.handleBacktestRun)
		api.POST("/watchlist/trendok", s.handleTrendok)
		api.POST("/watchlist/momentum-plan", s.handleMomentumPlan)
		api.GET("/market/regime", s.handleRegime)
		api.POST("/sync/close", s.handleSyncClose)
		api.POST("/sync/calendar", s.handleSyncCalendar)
		api.POST("/sync/basics", s.handleSyncBasics)
		api.POST("/sync/indexes", s.handleSyncIndexes)
		api.GET("/health", s.handleHealth)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := chstore.Open(ctx, chstore.Options{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		logger.Fatal("open clickhouse", zap.Error(err))
	}
	defer store.Close()

	vendor := provider.NewClient(cfg.Vendor.BaseURL, cfg.Vendor.Token)
	srv := &server{
		store:  store,
		market: marketsvc.New(store, logger),
		sync:   syncsvc.New(store, vendor, cfg.Sync.Exchange, logger),
		logger: logger,
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Sync.CloseCron, func() {
		res := srv.sync.SyncClose(context.Background())
		if !res.OK {
			logger.Warn("scheduled close sync failed", zap.String("error", res.Error))
		} else if !res.Skipped {
			logger.Info("scheduled close sync done", zap.Int("updated", res.Updated))
		}
	}); err != nil {
		logger.Fatal("register close sync cron", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.routes(router)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown HTTP server", zap.Error(err))
	}
	logger.Info("stopped")
}
