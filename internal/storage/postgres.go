package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fxreport/internal/config"
	"fxreport/internal/rates"
)

const (
	upsertRateSQL = `INSERT INTO exchange_rates (base, date, currency, rate)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (date, base, currency) DO UPDATE
    SET rate = EXCLUDED.rate;`

	readAllRatesSQL = `SELECT base, date, currency, rate
    FROM exchange_rates
    ORDER BY currency, date, base;`

	listDatesSQL = `SELECT DISTINCT date
    FROM exchange_rates
    WHERE base = $1
      AND date >= $2
      AND date <= $3;`

	listRecentRatesSQL = `SELECT base, date, currency, rate
    FROM exchange_rates
    WHERE ($1::text = '' OR currency = $1::text)
    ORDER BY date DESC, currency
    LIMIT $2;`

	startRunSQL = `INSERT INTO pipeline_runs (run_id, run_date, status, started_at)
    VALUES ($1, $2, $3, $4);`

	finishRunSQL = `UPDATE pipeline_runs
    SET status = $2, failed_stage = $3, error = $4, results = $5, finished_at = $6
    WHERE run_id = $1;`

	listRunsSQL = `SELECT run_id, run_date, status, failed_stage, error, results, started_at, finished_at
    FROM pipeline_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Postgres stores exchange rates and the run journal in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Upsert writes the batch inside one transaction; any failure rolls the whole batch back.
func (s *Postgres) Upsert(ctx context.Context, records []rates.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := checkRecords(records); err != nil {
		return 0, persistErr("upsert", err)
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, persistErr("upsert", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, persistErr("upsert", fmt.Errorf("begin: %w", err))
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(context.Background())
	}()

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertRateSQL, rec.Base, rec.Date, rec.Currency, rec.Rate.InexactFloat64())
	}

	results := tx.SendBatch(ctx, batch)
	for _, rec := range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, persistErr("upsert", fmt.Errorf("%s %s/%s: %w", rates.FormatDate(rec.Date), rec.Base, rec.Currency, err))
		}
	}
	if err := results.Close(); err != nil {
		return 0, persistErr("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, persistErr("upsert", fmt.Errorf("commit: %w", err))
	}
	return len(records), nil
}

// ReadAll returns the full history ordered by currency, then date.
func (s *Postgres) ReadAll(ctx context.Context) (rates.History, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, persistErr("read all", err)
	}

	rows, err := pool.Query(ctx, readAllRatesSQL)
	if err != nil {
		return nil, persistErr("read all", err)
	}
	defer rows.Close()

	history, err := scanRecords(rows)
	if err != nil {
		return nil, persistErr("read all", err)
	}
	return rates.History(history), nil
}

// ListDates returns the dates that already hold at least one rate for base.
func (s *Postgres) ListDates(ctx context.Context, base string, from, to time.Time) (map[time.Time]bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, persistErr("list dates", err)
	}

	rows, err := pool.Query(ctx, listDatesSQL, base, from, to)
	if err != nil {
		return nil, persistErr("list dates", err)
	}
	defer rows.Close()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, persistErr("list dates", err)
		}
		dates[rates.Date(d)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list dates", err)
	}
	return dates, nil
}

// ListRecent lists the newest records, optionally for one currency.
func (s *Postgres) ListRecent(ctx context.Context, currency string, limit int) ([]rates.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, persistErr("list recent", err)
	}

	rows, err := pool.Query(ctx, listRecentRatesSQL, currency, limit)
	if err != nil {
		return nil, persistErr("list recent", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, persistErr("list recent", err)
	}
	return records, nil
}

func scanRecords(rows pgx.Rows) ([]rates.Record, error) {
	records := make([]rates.Record, 0)
	for rows.Next() {
		var (
			rec  rates.Record
			rate float64
		)
		if err := rows.Scan(&rec.Base, &rec.Date, &rec.Currency, &rate); err != nil {
			return nil, err
		}
		rec.Date = rates.Date(rec.Date)
		rec.Rate = decimal.NewFromFloat(rate)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// StartRun inserts a journal row for a run that just began.
func (s *Postgres) StartRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return persistErr("start run", err)
	}
	if _, err := pool.Exec(ctx, startRunSQL, run.ID.String(), run.RunDate, run.Status, run.StartedAt); err != nil {
		return persistErr("start run", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Postgres) FinishRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return persistErr("finish run", err)
	}
	tag, err := pool.Exec(ctx, finishRunSQL, run.ID.String(), run.Status, run.FailedStage, run.Error, run.Results, run.FinishedAt)
	if err != nil {
		return persistErr("finish run", err)
	}
	if tag.RowsAffected() == 0 {
		return persistErr("finish run", pgx.ErrNoRows)
	}
	return nil
}

// ListRuns lists the most recent runs.
func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, persistErr("list runs", err)
	}

	rows, err := pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, persistErr("list runs", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			rec      RunRecord
			id       string
			finished sql.NullTime
		)
		if err := rows.Scan(&id, &rec.RunDate, &rec.Status, &rec.FailedStage, &rec.Error, &rec.Results, &rec.StartedAt, &finished); err != nil {
			return nil, persistErr("list runs", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, persistErr("list runs", fmt.Errorf("parse run id: %w", err))
		}
		rec.RunDate = rates.Date(rec.RunDate)
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list runs", err)
	}
	return runs, nil
}

// TryLockDate takes a session-level advisory lock for date and returns its release func.
func (s *Postgres) TryLockDate(ctx context.Context, date time.Time) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, persistErr("lock date", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, persistErr("lock date", fmt.Errorf("acquire connection: %w", err))
	}

	key := dateLockKey(date)
	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, persistErr("lock date", fmt.Errorf("try advisory lock: %w", err))
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// session locks die with the connection, so a failed unlock only delays release
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var _ Backend = (*Postgres)(nil)
