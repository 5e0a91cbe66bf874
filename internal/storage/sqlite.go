package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"fxreport/internal/rates"
)

const (
	sqliteUpsertRateSQL = `INSERT INTO exchange_rates (base, date, currency, rate)
    VALUES (?, ?, ?, ?)
    ON CONFLICT (date, base, currency) DO UPDATE
    SET rate = excluded.rate`

	sqliteReadAllSQL = `SELECT base, date, currency, rate
    FROM exchange_rates
    ORDER BY currency, date, base`

	sqliteListDatesSQL = `SELECT DISTINCT date
    FROM exchange_rates
    WHERE base = ? AND date >= ? AND date <= ?`

	sqliteListRecentSQL = `SELECT base, date, currency, rate
    FROM exchange_rates
    WHERE (? = '' OR currency = ?)
    ORDER BY date DESC, currency
    LIMIT ?`

	sqliteStartRunSQL = `INSERT INTO pipeline_runs (run_id, run_date, status, started_at)
    VALUES (?, ?, ?, ?)`

	sqliteFinishRunSQL = `UPDATE pipeline_runs
    SET status = ?, failed_stage = ?, error = ?, results = ?, finished_at = ?
    WHERE run_id = ?`

	sqliteListRunsSQL = `SELECT run_id, run_date, status, failed_stage, error, results, started_at, finished_at
    FROM pipeline_runs
    ORDER BY started_at DESC
    LIMIT ?`
)

// SQLite is a single-file (or in-memory) rate store for local runs and tests.
type SQLite struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]bool
}

// OpenSQLite opens dsn and applies the embedded schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one connection: :memory: databases are per connection, and pragmas apply per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, locks: make(map[string]bool)}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Upsert writes the batch inside one transaction; any failure rolls the whole batch back.
func (s *SQLite) Upsert(ctx context.Context, records []rates.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := checkRecords(records); err != nil {
		return 0, persistErr("upsert", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("upsert", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertRateSQL)
	if err != nil {
		return 0, persistErr("upsert", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Base, rates.FormatDate(rec.Date), rec.Currency, rec.Rate.InexactFloat64()); err != nil {
			return 0, persistErr("upsert", fmt.Errorf("%s %s/%s: %w", rates.FormatDate(rec.Date), rec.Base, rec.Currency, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr("upsert", fmt.Errorf("commit: %w", err))
	}
	return len(records), nil
}

// ReadAll returns the full history ordered by currency, then date.
func (s *SQLite) ReadAll(ctx context.Context) (rates.History, error) {
	rows, err := s.db.QueryContext(ctx, sqliteReadAllSQL)
	if err != nil {
		return nil, persistErr("read all", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanSQLiteRecords(rows)
	if err != nil {
		return nil, persistErr("read all", err)
	}
	return rates.History(records), nil
}

// ListDates returns the dates that already hold at least one rate for base.
func (s *SQLite) ListDates(ctx context.Context, base string, from, to time.Time) (map[time.Time]bool, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListDatesSQL, base, rates.FormatDate(from), rates.FormatDate(to))
	if err != nil {
		return nil, persistErr("list dates", err)
	}
	defer func() { _ = rows.Close() }()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, persistErr("list dates", err)
		}
		d, err := rates.ParseDate(raw)
		if err != nil {
			return nil, persistErr("list dates", fmt.Errorf("parse date %q: %w", raw, err))
		}
		dates[d] = true
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list dates", err)
	}
	return dates, nil
}

// ListRecent lists the newest records, optionally for one currency.
func (s *SQLite) ListRecent(ctx context.Context, currency string, limit int) ([]rates.Record, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListRecentSQL, currency, currency, limit)
	if err != nil {
		return nil, persistErr("list recent", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanSQLiteRecords(rows)
	if err != nil {
		return nil, persistErr("list recent", err)
	}
	return records, nil
}

func scanSQLiteRecords(rows *sql.Rows) ([]rates.Record, error) {
	records := make([]rates.Record, 0)
	for rows.Next() {
		var (
			rec  rates.Record
			date string
			rate float64
		)
		if err := rows.Scan(&rec.Base, &date, &rec.Currency, &rate); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		d, err := rates.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		rec.Date = d
		rec.Rate = decimal.NewFromFloat(rate)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StartRun inserts a journal row for a run that just began.
func (s *SQLite) StartRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx, sqliteStartRunSQL,
		run.ID.String(),
		rates.FormatDate(run.RunDate),
		run.Status,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	return persistErr("start run", err)
}

// FinishRun records the outcome of a run.
func (s *SQLite) FinishRun(ctx context.Context, run RunRecord) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx, sqliteFinishRunSQL,
		run.Status, run.FailedStage, run.Error, run.Results, finished, run.ID.String())
	if err != nil {
		return persistErr("finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistErr("finish run", sql.ErrNoRows)
	}
	return nil
}

// ListRuns lists the most recent runs.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListRunsSQL, limit)
	if err != nil {
		return nil, persistErr("list runs", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			rec                  RunRecord
			id, runDate, started string
			finished             sql.NullString
		)
		if err := rows.Scan(&id, &runDate, &rec.Status, &rec.FailedStage, &rec.Error, &rec.Results, &started, &finished); err != nil {
			return nil, persistErr("list runs", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, persistErr("list runs", fmt.Errorf("parse run id: %w", err))
		}
		if rec.RunDate, err = rates.ParseDate(runDate); err != nil {
			return nil, persistErr("list runs", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, persistErr("list runs", err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, persistErr("list runs", err)
			}
			rec.FinishedAt = &t
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list runs", err)
	}
	return runs, nil
}

// TryLockDate guards a date within this process; SQLite has no advisory locks.
func (s *SQLite) TryLockDate(_ context.Context, date time.Time) (func(), bool, error) {
	key := rates.FormatDate(date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, key)
			s.mu.Unlock()
		})
	}
	return unlock, true, nil
}

var _ Backend = (*SQLite)(nil)
