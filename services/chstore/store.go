// Package chstore persists daily bars, stock metadata, index closes and
// sync bookkeeping in ClickHouse. All tables are ReplacingMergeTree so
// re-running a sync for the same trade date is harmless.
package chstore

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
)

type Options struct {
	Addr     string
	Database string
	User     string
	Password string
}

type Store struct {
	conn clickhouse.Conn
	db   string
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(60),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &Store{conn: conn, db: opts.Database}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.db)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddls := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.daily_bar (
				symbol LowCardinality(String),
				trade_date Date,
				open Float64,
				high Float64,
				low Float64,
				close Float64,
				volume Float64,
				amount Float64,
				adj_factor Float64,
				version UInt64
			)
			ENGINE = ReplacingMergeTree(version)
			ORDER BY (symbol, trade_date)
			SETTINGS index_granularity = 8192
		`, s.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.stock_basic (
				symbol LowCardinality(String),
				name String,
				market LowCardinality(String),
				industry LowCardinality(String),
				list_date String,
				version UInt64
			)
			ENGINE = ReplacingMergeTree(version)
			ORDER BY symbol
		`, s.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.index_daily (
				symbol LowCardinality(String),
				trade_date Date,
				close Float64,
				version UInt64
			)
			ENGINE = ReplacingMergeTree(version)
			ORDER BY (symbol, trade_date)
		`, s.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.trade_calendar (
				exchange LowCardinality(String),
				cal_date Date,
				is_open UInt8,
				version UInt64
			)
			ENGINE = ReplacingMergeTree(version)
			ORDER BY (exchange, cal_date)
		`, s.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.sync_job_record (
				job_type LowCardinality(String),
				run_date Date,
				sync_at DateTime64(3),
				success UInt8,
				last_marker String,
				error_message String,
				version UInt64
			)
			ENGINE = ReplacingMergeTree(version)
			ORDER BY (job_type, run_date)
		`, s.db),
	}
	for _, ddl := range ddls {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func version() uint64 { return uint64(time.Now().UnixNano()) }

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
