package chstore

import (
	"context"
	"fmt"
	"time"
)

// JobRun is one recorded sync attempt for a job type on a given day.
type JobRun struct {
	JobType    string
	RunDate    string
	SyncAt     time.Time
	Success    bool
	LastMarker string
	ErrMessage string
}

// InsertJobRun records the outcome of a sync attempt. One row per
// (job_type, run_date); a retry on the same day replaces the earlier row.
func (s *Store) InsertJobRun(ctx context.Context, run JobRun) error {
	d, err := parseDay(run.RunDate)
	if err != nil {
		return err
	}
	ok := uint8(0)
	if run.Success {
		ok = 1
	}
	q := fmt.Sprintf(`
		INSERT INTO %s.sync_job_record
		(job_type, run_date, sync_at, success, last_marker, error_message, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.db)
	if err := s.conn.Exec(ctx, q, run.JobType, d, run.SyncAt, ok, run.LastMarker, run.ErrMessage, version()); err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// TodayRun returns the recorded run for jobType on runDate, or nil if none.
func (s *Store) TodayRun(ctx context.Context, jobType, runDate string) (*JobRun, error) {
	d, err := parseDay(runDate)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT job_type, run_date, sync_at, success, last_marker, error_message
		FROM %s.sync_job_record FINAL
		WHERE job_type = ? AND run_date = ?
		LIMIT 1
	`, s.db)
	rows, err := s.conn.Query(ctx, q, jobType, d)
	if err != nil {
		return nil, fmt.Errorf("query today run: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanJobRun(rows)
}

// LastSuccess returns the most recent successful run for jobType, or nil.
func (s *Store) LastSuccess(ctx context.Context, jobType string) (*JobRun, error) {
	q := fmt.Sprintf(`
		SELECT job_type, run_date, sync_at, success, last_marker, error_message
		FROM %s.sync_job_record FINAL
		WHERE job_type = ? AND success = 1
		ORDER BY run_date DESC
		LIMIT 1
	`, s.db)
	rows, err := s.conn.Query(ctx, q, jobType)
	if err != nil {
		return nil, fmt.Errorf("query last success: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanJobRun(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRun(r rowScanner) (*JobRun, error) {
	var run JobRun
	var d time.Time
	var ok uint8
	if err := r.Scan(&run.JobType, &d, &run.SyncAt, &ok, &run.LastMarker, &run.ErrMessage); err != nil {
		return nil, fmt.Errorf("scan job run: %w", err)
	}
	run.RunDate = d.Format("2006-01-02")
	run.Success = ok == 1
	return &run, nil
}

// UpsertTradeCalendar writes open/closed flags for calendar dates.
func (s *Store) UpsertTradeCalendar(ctx context.Context, exchange string, dates map[string]bool) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.trade_calendar", s.db))
	if err != nil {
		return 0, fmt.Errorf("prepare calendar batch: %w", err)
	}
	ver := version()
	for date, open := range dates {
		d, err := parseDay(date)
		if err != nil {
			return 0, err
		}
		flag := uint8(0)
		if open {
			flag = 1
		}
		if err := batch.Append(exchange, d, flag, ver); err != nil {
			return 0, fmt.Errorf("append calendar day: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send calendar batch: %w", err)
	}
	return len(dates), nil
}

// IsTradingDay reports whether date is a trading day on exchange.
// A nil result means the calendar has no row for that date.
func (s *Store) IsTradingDay(ctx context.Context, exchange, date string) (*bool, error) {
	d, err := parseDay(date)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT is_open
		FROM %s.trade_calendar FINAL
		WHERE exchange = ? AND cal_date = ?
		LIMIT 1
	`, s.db)
	rows, err := s.conn.Query(ctx, q, exchange, d)
	if err != nil {
		return nil, fmt.Errorf("query trading day: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var flag uint8
	if err := rows.Scan(&flag); err != nil {
		return nil, fmt.Errorf("scan trading day: %w", err)
	}
	open := flag == 1
	return &open, nil
}

// OpenDates lists trading days on exchange within [start, end], ascending.
func (s *Store) OpenDates(ctx context.Context, exchange, startDate, endDate string) ([]string, error) {
	start, err := parseDay(startDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDay(endDate)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT cal_date
		FROM %s.trade_calendar FINAL
		WHERE exchange = ? AND cal_date >= ? AND cal_date <= ? AND is_open = 1
		ORDER BY cal_date
	`, s.db)
	rows, err := s.conn.Query(ctx, q, exchange, start, end)
	if err != nil {
		return nil, fmt.Errorf("query open dates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan open date: %w", err)
		}
		out = append(out, d.Format("2006-01-02"))
	}
	return out, rows.Err()
}
