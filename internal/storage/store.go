package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"fxreport/internal/config"
	"fxreport/internal/rates"
)

var (
	// ErrPersistence marks every storage failure surfaced to callers.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrRunInProgress is returned when another run holds the lock for a date.
	ErrRunInProgress = errors.New("storage: run for date already in progress")
)

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// checkRecords rejects records the table must never hold, before any write starts.
func checkRecords(records []rates.Record) error {
	for _, rec := range records {
		switch {
		case rec.Date.IsZero():
			return fmt.Errorf("%s/%s: missing date", rec.Base, rec.Currency)
		case !rates.ValidCode(rec.Base):
			return fmt.Errorf("%s: invalid base %q", rates.FormatDate(rec.Date), rec.Base)
		case !rates.ValidCode(rec.Currency):
			return fmt.Errorf("%s: invalid currency %q", rates.FormatDate(rec.Date), rec.Currency)
		case !rec.Rate.IsPositive():
			return fmt.Errorf("%s %s/%s: rate %s must be positive", rates.FormatDate(rec.Date), rec.Base, rec.Currency, rec.Rate)
		}
	}
	return nil
}

// RateStore is the durable time series of exchange rates.
type RateStore interface {
	// Upsert applies the whole batch atomically and returns the number of records applied.
	Upsert(ctx context.Context, records []rates.Record) (int, error)
	// ReadAll returns every stored record ordered by currency, then date.
	ReadAll(ctx context.Context) (rates.History, error)
	ListDates(ctx context.Context, base string, from, to time.Time) (map[time.Time]bool, error)
	ListRecent(ctx context.Context, currency string, limit int) ([]rates.Record, error)
}

// RunJournal records pipeline executions for operators.
type RunJournal interface {
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// DateLocker serialises runs for the same calendar date.
type DateLocker interface {
	TryLockDate(ctx context.Context, date time.Time) (unlock func(), acquired bool, err error)
}

// Backend bundles everything the pipeline needs from storage.
type Backend interface {
	RateStore
	RunJournal
	DateLocker
	Close()
}

// Open connects the backend selected by cfg.Driver and, when enabled, applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql", "pgx":
		if cfg.AutoMigrate {
			if err := MigratePostgres(ctx, cfg.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, persistErr("connect", err)
		}
		return NewPostgres(pool), nil
	case "sqlite", "sqlite3":
		store, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, persistErr("connect", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// dateLockKey maps a calendar date onto a stable advisory lock key.
func dateLockKey(date time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("fxreport:" + rates.FormatDate(date)))
	return int64(h.Sum64())
}
