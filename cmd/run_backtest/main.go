// Command run_backtest replays a strategy over daily bars loaded from a
// local CSV export or straight from ClickHouse, and prints the summary.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"quantsync/services/chstore"
	"quantsync/services/engine"
	"quantsync/strategies"
)

func main() {
	csvPath := flag.String("csv", "", "Path to local daily-bar CSV; if set, skip ClickHouse")
	chAddr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	chDB := flag.String("ch-db", "quant", "ClickHouse database")
	chUser := flag.String("ch-user", "default", "ClickHouse user")
	chPass := flag.String("ch-pass", "", "ClickHouse password")
	stratName := flag.String("strategy", strategies.WatchlistTrendV6Name, "Strategy name")
	from := flag.String("from", "", "Start date (YYYY-MM-DD)")
	to := flag.String("to", "", "End date (YYYY-MM-DD)")
	cash := flag.String("cash", "1000000", "Initial cash")
	fee := flag.String("fee", "0.00025", "Fee rate")
	slippage := flag.String("slippage", "0.0005", "Slippage rate")
	adj := flag.String("adj", "qfq", "Price adjustment mode (qfq|hfq)")
	warmup := flag.Int("warmup", 60, "Warmup trading days")
	regimeFlag := flag.String("regime", "Unknown", "Fixed market regime for the run (Strong|Diverging|Weak|Unknown)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	var prov engine.DataProvider
	if *csvPath != "" {
		rows, err := loadCSV(*csvPath)
		if err != nil {
			logger.Fatal("load csv", zap.Error(err))
		}
		logger.Info("loaded bars from CSV", zap.Int("rows", len(rows)))
		prov = &csvProvider{rows: rows}
	} else {
		store, err := chstore.Open(ctx, chstore.Options{
			Addr: *chAddr, Database: *chDB, User: *chUser, Password: *chPass,
		})
		if err != nil {
			logger.Fatal("open clickhouse", zap.Error(err))
		}
		defer store.Close()
		prov = store
	}

	construct, ok := strategies.Registry()[*stratName]
	if !ok {
		logger.Fatal("unknown strategy", zap.String("name", *stratName))
	}
	regime := engine.RegimeLabel(*regimeFlag)
	strat := construct(strategies.Deps{
		Regimes: engine.RegimeFunc(func(string) engine.RegimeLabel { return regime }),
	})

	initialCash, err := decimal.NewFromString(*cash)
	if err != nil {
		logger.Fatal("bad cash", zap.Error(err))
	}
	feeRate, err := decimal.NewFromString(*fee)
	if err != nil {
		logger.Fatal("bad fee", zap.Error(err))
	}
	slipRate, err := decimal.NewFromString(*slippage)
	if err != nil {
		logger.Fatal("bad slippage", zap.Error(err))
	}

	bt := &engine.Backtest{
		Params: engine.BacktestParams{
			StartDate:    *from,
			EndDate:      *to,
			InitialCash:  initialCash,
			FeeRate:      feeRate,
			SlippageRate: slipRate,
			AdjMode:      engine.AdjMode(*adj),
			WarmupDays:   *warmup,
		},
		Score:    strat.DefaultScoreConfig(),
		Strategy: strat,
		Provider: prov,
	}

	result, err := bt.Run(ctx)
	if err != nil {
		logger.Fatal("backtest run", zap.Error(err))
	}

	sum := result.Summary
	fmt.Println("=== Backtest Summary ===")
	fmt.Printf("Strategy: %s\n", strat.Name())
	fmt.Printf("Period: %s to %s\n", *from, *to)
	fmt.Printf("Total return: %.2f%%\n", sum.TotalReturn*100)
	fmt.Printf("Max drawdown: %.2f%%\n", sum.MaxDrawdown*100)
	fmt.Printf("Trades: %d, Rejections: %d\n", sum.TotalTrades, len(result.Rejections))
	fmt.Printf("Final equity: %s\n", sum.FinalEquity.StringFixed(2))
}

// loadCSV reads daily bars from a vendor export. Handles UTF-16 BOM and
// GBK encodings, both common in CN broker exports.
// Expected header: symbol,trade_date,open,high,low,close,volume,amount[,adj_factor]
func loadCSV(path string) ([]engine.DailyRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(2)
	var reader io.Reader = br
	switch {
	case len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)):
		reader = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	case len(head) >= 1 && head[0] >= 0x80:
		reader = transform.NewReader(br, simplifiedchinese.GBK.NewDecoder())
	}

	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv %s: no data rows", path)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimPrefix(strings.TrimSpace(strings.ToLower(name)), "\ufeff")] = i
	}
	for _, required := range []string{"symbol", "trade_date", "open", "high", "low", "close", "volume", "amount"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv %s: missing column %q", path, required)
		}
	}

	num := func(rec []string, name string) float64 {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return 0
		}
		v, _ := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v
	}

	rows := make([]engine.DailyRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, engine.DailyRow{
			Symbol:    strings.TrimSpace(rec[col["symbol"]]),
			TradeDate: strings.TrimSpace(rec[col["trade_date"]]),
			Open:      num(rec, "open"),
			High:      num(rec, "high"),
			Low:       num(rec, "low"),
			Close:     num(rec, "close"),
			Volume:    num(rec, "volume"),
			Amount:    num(rec, "amount"),
			AdjFactor: num(rec, "adj_factor"),
		})
	}
	return rows, nil
}

// csvProvider serves a preloaded row set as reference data.
type csvProvider struct {
	rows []engine.DailyRow
}

func (p *csvProvider) StockBasics(context.Context) ([]engine.StockInfo, error) {
	seen := map[string]bool{}
	var out []engine.StockInfo
	for _, r := range p.rows {
		if seen[r.Symbol] {
			continue
		}
		seen[r.Symbol] = true
		out = append(out, engine.StockInfo{Symbol: r.Symbol, Market: "CN"})
	}
	return out, nil
}

func (p *csvProvider) DailyRange(_ context.Context, symbols []string, startDate, endDate string) ([]engine.DailyRow, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []engine.DailyRow
	for _, r := range p.rows {
		if want[r.Symbol] && r.TradeDate >= startDate && r.TradeDate <= endDate {
			out = append(out, r)
		}
	}
	return out, nil
}
