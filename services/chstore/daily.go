package chstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quantsync/services/engine"
)

// InsertDailyRows batch-writes daily bars. Duplicate (symbol, trade_date)
// pairs collapse on merge; the latest version wins.
func (s *Store) InsertDailyRows(ctx context.Context, rows []engine.DailyRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s.daily_bar SETTINGS insert_deduplicate=1", s.db))
	if err != nil {
		return 0, fmt.Errorf("prepare daily batch: %w", err)
	}
	ver := version()
	for _, r := range rows {
		d, err := parseDay(r.TradeDate)
		if err != nil {
			return 0, err
		}
		if err := batch.Append(
			r.Symbol, d, r.Open, r.High, r.Low, r.Close,
			r.Volume, r.Amount, r.AdjFactor, ver,
		); err != nil {
			return 0, fmt.Errorf("append daily row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send daily batch: %w", err)
	}
	return len(rows), nil
}

// DailyRange returns raw rows for the given symbols across [startDate, endDate],
// ordered by (symbol, trade_date). An empty symbol list returns no rows.
func (s *Store) DailyRange(ctx context.Context, symbols []string, startDate, endDate string) ([]engine.DailyRow, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	start, err := parseDay(startDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDay(endDate)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT symbol, trade_date, open, high, low, close, volume, amount, adj_factor
		FROM %s.daily_bar FINAL
		WHERE symbol IN (?) AND trade_date >= ? AND trade_date <= ?
		ORDER BY symbol, trade_date
	`, s.db)
	rows, err := s.conn.Query(ctx, q, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("query daily range: %w", err)
	}
	defer rows.Close()

	var out []engine.DailyRow
	for rows.Next() {
		var r engine.DailyRow
		var d time.Time
		if err := rows.Scan(&r.Symbol, &d, &r.Open, &r.High, &r.Low, &r.Close,
			&r.Volume, &r.Amount, &r.AdjFactor); err != nil {
			return nil, fmt.Errorf("scan daily row: %w", err)
		}
		r.TradeDate = d.Format("2006-01-02")
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastBars returns up to days adjusted bars per symbol, oldest first,
// suitable for trend evaluation and momentum plans.
func (s *Store) LastBars(ctx context.Context, symbols []string, days int, mode engine.AdjMode) (map[string][]engine.Bar, error) {
	if len(symbols) == 0 || days <= 0 {
		return map[string][]engine.Bar{}, nil
	}
	// Calendar span is wider than the trading-day count; 2x covers
	// weekends and holidays comfortably.
	end := time.Now().Format("2006-01-02")
	start := time.Now().AddDate(0, 0, -2*days).Format("2006-01-02")
	rows, err := s.DailyRange(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	barsByDate, _ := engine.BuildBarMaps(rows, mode)
	out := make(map[string][]engine.Bar, len(symbols))
	for _, date := range engine.SortedDates(barsByDate) {
		for sym, bar := range barsByDate[date] {
			out[sym] = append(out[sym], bar)
		}
	}
	for sym, bars := range out {
		sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate < bars[j].TradeDate })
		if len(bars) > days {
			out[sym] = bars[len(bars)-days:]
		}
	}
	return out, nil
}

// UpsertStockBasics replaces the stock metadata snapshot.
func (s *Store) UpsertStockBasics(ctx context.Context, stocks []engine.StockInfo) (int, error) {
	if len(stocks) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.stock_basic", s.db))
	if err != nil {
		return 0, fmt.Errorf("prepare basics batch: %w", err)
	}
	ver := version()
	for _, st := range stocks {
		if err := batch.Append(st.Symbol, st.Name, st.Market, st.Industry, st.ListDate, ver); err != nil {
			return 0, fmt.Errorf("append stock basic: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send basics batch: %w", err)
	}
	return len(stocks), nil
}

// StockBasics loads all known stock metadata ordered by symbol.
func (s *Store) StockBasics(ctx context.Context) ([]engine.StockInfo, error) {
	q := fmt.Sprintf(`
		SELECT symbol, name, market, industry, list_date
		FROM %s.stock_basic FINAL
		ORDER BY symbol
	`, s.db)
	rows, err := s.conn.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stock basics: %w", err)
	}
	defer rows.Close()

	var out []engine.StockInfo
	for rows.Next() {
		var st engine.StockInfo
		if err := rows.Scan(&st.Symbol, &st.Name, &st.Market, &st.Industry, &st.ListDate); err != nil {
			return nil, fmt.Errorf("scan stock basic: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InsertIndexCloses writes daily index closes for one index symbol.
func (s *Store) InsertIndexCloses(ctx context.Context, symbol string, closes []engine.IndexClose) (int, error) {
	if len(closes) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.index_daily", s.db))
	if err != nil {
		return 0, fmt.Errorf("prepare index batch: %w", err)
	}
	ver := version()
	for _, c := range closes {
		d, err := parseDay(c.Date)
		if err != nil {
			return 0, err
		}
		if err := batch.Append(symbol, d, c.Close, ver); err != nil {
			return 0, fmt.Errorf("append index close: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send index batch: %w", err)
	}
	return len(closes), nil
}

// IndexCloses returns the most recent closes for an index, oldest first.
func (s *Store) IndexCloses(ctx context.Context, symbol string, limit int) ([]engine.IndexClose, error) {
	q := fmt.Sprintf(`
		SELECT trade_date, close
		FROM %s.index_daily FINAL
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT ?
	`, s.db)
	rows, err := s.conn.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query index closes: %w", err)
	}
	defer rows.Close()

	var out []engine.IndexClose
	for rows.Next() {
		var c engine.IndexClose
		var d time.Time
		if err := rows.Scan(&d, &c.Close); err != nil {
			return nil, fmt.Errorf("scan index close: %w", err)
		}
		c.Date = d.Format("2006-01-02")
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// query is newest-first for the LIMIT; callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
