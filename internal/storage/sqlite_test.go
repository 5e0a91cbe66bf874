package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxreport/internal/config"
	"fxreport/internal/rates"
)

func setupTestStore(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func date(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := rates.ParseDate(v)
	require.NoError(t, err)
	return d
}

func rateSet(t *testing.T, day string, values map[string]string) rates.RateSet {
	t.Helper()
	set := rates.RateSet{Base: "USD", Date: date(t, day), Rates: map[string]decimal.Decimal{}}
	for code, v := range values {
		set.Rates[code] = decimal.RequireFromString(v)
	}
	return set
}

func TestUpsertIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	set := rateSet(t, "2024-09-01", map[string]string{"EUR": "0.90", "JPY": "145.5"})

	n, err := store.Upsert(ctx, set.Records())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	once, err := store.ReadAll(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.Upsert(ctx, set.Records())
		require.NoError(t, err)
	}
	again, err := store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, once, again)
	assert.Len(t, again, 2)
}

func TestUpsertReplacesOnlyRate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, rateSet(t, "2024-09-01", map[string]string{"EUR": "0.90", "JPY": "145.5"}).Records())
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rateSet(t, "2024-09-01", map[string]string{"EUR": "0.93"}).Records())
	require.NoError(t, err)

	history, err := store.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "EUR", history[0].Currency)
	assert.Equal(t, "0.93", history[0].Rate.String())
	assert.Equal(t, "2024-09-01", rates.FormatDate(history[0].Date))
	assert.Equal(t, "USD", history[0].Base)
	assert.Equal(t, "JPY", history[1].Currency)
	assert.Equal(t, "145.5", history[1].Rate.String())
}

func TestUpsertBatchIsAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	batch := []rates.Record{
		{Base: "USD", Date: date(t, "2024-09-01"), Currency: "EUR", Rate: decimal.RequireFromString("0.9")},
		{Base: "USD", Date: date(t, "2024-09-01"), Currency: "eu", Rate: decimal.RequireFromString("1.1")},
	}
	_, err := store.Upsert(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "upsert", pe.Op)

	history, err := store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, history, "failed batch must not leave partial writes")
}

func TestUpsertRejectsInvalidRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	valid := rates.Record{Base: "USD", Date: date(t, "2024-09-01"), Currency: "EUR", Rate: decimal.RequireFromString("0.9")}

	cases := map[string]rates.Record{
		"zero date":     {Base: "USD", Currency: "JPY", Rate: decimal.RequireFromString("140")},
		"bad base":      {Base: "usd", Date: date(t, "2024-09-01"), Currency: "JPY", Rate: decimal.RequireFromString("140")},
		"bad currency":  {Base: "USD", Date: date(t, "2024-09-01"), Currency: "JPYX", Rate: decimal.RequireFromString("140")},
		"zero rate":     {Base: "USD", Date: date(t, "2024-09-01"), Currency: "JPY", Rate: decimal.Zero},
		"negative rate": {Base: "USD", Date: date(t, "2024-09-01"), Currency: "JPY", Rate: decimal.RequireFromString("-1")},
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			applied, err := store.Upsert(ctx, []rates.Record{valid, bad})
			require.Error(t, err)
			assert.Zero(t, applied)

			var pe *PersistenceError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "upsert", pe.Op)

			history, err := store.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestReadAllOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, day := range []string{"2024-09-03", "2024-09-01", "2024-09-02"} {
		_, err := store.Upsert(ctx, rateSet(t, day, map[string]string{"JPY": "140", "EUR": "0.9"}).Records())
		require.NoError(t, err)
	}

	history, err := store.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, history, 6)
	got := make([]string, 0, len(history))
	for _, rec := range history {
		got = append(got, rec.Currency+"@"+rates.FormatDate(rec.Date))
	}
	assert.Equal(t, []string{
		"EUR@2024-09-01", "EUR@2024-09-02", "EUR@2024-09-03",
		"JPY@2024-09-01", "JPY@2024-09-02", "JPY@2024-09-03",
	}, got)
}

func TestListDatesAndRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, rateSet(t, "2024-09-01", map[string]string{"EUR": "0.9"}).Records())
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rateSet(t, "2024-09-03", map[string]string{"EUR": "0.91", "JPY": "141"}).Records())
	require.NoError(t, err)

	dates, err := store.ListDates(ctx, "USD", date(t, "2024-09-01"), date(t, "2024-09-02"))
	require.NoError(t, err)
	assert.Equal(t, map[time.Time]bool{date(t, "2024-09-01"): true}, dates)

	recent, err := store.ListRecent(ctx, "EUR", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "2024-09-03", rates.FormatDate(recent[0].Date))

	all, err := store.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunJournal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := RunRecord{ID: uuid.New(), RunDate: date(t, "2024-09-03"), Status: RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.StartRun(ctx, run))

	finished := run.StartedAt.Add(time.Second)
	run.Status = RunFailed
	run.FailedStage = "fetch"
	run.Error = "boom"
	run.FinishedAt = &finished
	require.NoError(t, store.FinishRun(ctx, run))

	runs, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "fetch", runs[0].FailedStage)
	require.NotNil(t, runs[0].FinishedAt)

	err = store.FinishRun(ctx, RunRecord{ID: uuid.New(), Status: RunSucceeded})
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestTryLockDate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	unlock, ok, err := store.TryLockDate(ctx, date(t, "2024-09-03"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryLockDate(ctx, date(t, "2024-09-03"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.TryLockDate(ctx, date(t, "2024-09-04"))
	require.NoError(t, err)
	assert.True(t, ok)

	unlock()
	unlock()
	_, ok, err = store.TryLockDate(ctx, date(t, "2024-09-03"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	backend, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	backend.Close()
}

func TestDateLockKeyStable(t *testing.T) {
	a := dateLockKey(date(t, "2024-09-03"))
	assert.Equal(t, a, dateLockKey(date(t, "2024-09-03")))
	assert.NotEqual(t, a, dateLockKey(date(t, "2024-09-04")))
}
