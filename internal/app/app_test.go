package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fxreport/internal/config"
	"fxreport/internal/fetcher"
	"fxreport/internal/rates"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		App:      config.AppConfig{Name: "fxreport", DataDir: dir},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "fx.db")},
		Rates:    config.RatesConfig{Base: "USD", Symbols: []string{"EUR", "JPY"}},
		Report:   config.ReportConfig{FilePattern: "max_deviation_%s.csv"},
		HTTP:     config.HTTPConfig{ListenAddr: ":0"},
	}
	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	a.Out = &out
	return a, &out
}

func date(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := rates.ParseDate(v)
	require.NoError(t, err)
	return d
}

func writeSnapshot(t *testing.T, a *App, day, eur, jpy string) {
	t.Helper()
	payload := fmt.Sprintf(`{"success":true,"base":"USD","date":%q,"rates":{"EUR":%s,"JPY":%s}}`, day, eur, jpy)
	require.NoError(t, fetcher.NewArchive(a.Config.App.DataDir).Save(date(t, day), []byte(payload)))
}

func TestMissingDates(t *testing.T) {
	present := map[time.Time]bool{date(t, "2024-09-02"): true}
	got := missingDates(date(t, "2024-09-01"), date(t, "2024-09-03"), present)
	require.Equal(t, []time.Time{date(t, "2024-09-01"), date(t, "2024-09-03")}, got)
}

func TestLastScheduledDate(t *testing.T) {
	loc := time.UTC
	before := time.Date(2024, 9, 5, 0, 30, 0, 0, loc)
	after := time.Date(2024, 9, 5, 1, 30, 0, 0, loc)
	require.Equal(t, date(t, "2024-09-04"), lastScheduledDate(before, time.Hour, loc))
	require.Equal(t, date(t, "2024-09-05"), lastScheduledDate(after, time.Hour, loc))
}

func TestBackfillOfflineThenAnalyze(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()
	writeSnapshot(t, a, "2024-09-01", "0.9", "140")
	writeSnapshot(t, a, "2024-09-02", "0.94", "141")
	writeSnapshot(t, a, "2024-09-03", "0.92", "139.5")

	err := a.Backfill(ctx, BackfillOptions{
		From:       date(t, "2024-09-01"),
		To:         date(t, "2024-09-03"),
		Workers:    3,
		Offline:    true,
		SkipReport: true,
	})
	require.NoError(t, err)

	require.NoError(t, a.Analyze(ctx, AnalyzeOptions{Date: date(t, "2024-09-03")}))
	require.Equal(t,
		"currency,current_date,max_deviation_date,max_deviation_value\n"+
			"EUR,2024-09-03,2024-09-01,0.02\n"+
			"JPY,2024-09-03,2024-09-02,1.5\n",
		out.String())
}

func TestAnalyzeDefaultsToTodayInSchedulerLocation(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()
	a.Config.Scheduler.Location = "Asia/Tokyo"
	// 23:30 UTC on the 2nd is already the 3rd in Tokyo
	a.now = func() time.Time { return time.Date(2024, 9, 2, 23, 30, 0, 0, time.UTC) }
	writeSnapshot(t, a, "2024-09-02", "0.94", "141")
	writeSnapshot(t, a, "2024-09-03", "0.92", "139.5")

	require.NoError(t, a.Backfill(ctx, BackfillOptions{
		From:       date(t, "2024-09-02"),
		To:         date(t, "2024-09-03"),
		Workers:    1,
		Offline:    true,
		SkipReport: true,
	}))

	require.NoError(t, a.Analyze(ctx, AnalyzeOptions{}))
	require.Contains(t, out.String(), "EUR,2024-09-03,2024-09-02,0.02\n")
}

func TestBackfillReportsFailedDates(t *testing.T) {
	a, _ := testApp(t)
	writeSnapshot(t, a, "2024-09-01", "0.9", "140")

	err := a.Backfill(context.Background(), BackfillOptions{
		From:       date(t, "2024-09-01"),
		To:         date(t, "2024-09-02"),
		Workers:    2,
		Offline:    true,
		SkipReport: true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 2 dates failed")
}

func TestBackfillRequiresNotifierToReport(t *testing.T) {
	a, _ := testApp(t)
	err := a.Backfill(context.Background(), BackfillOptions{
		From:    date(t, "2024-09-01"),
		To:      date(t, "2024-09-01"),
		Offline: true,
	})
	require.ErrorContains(t, err, "notifier.channels")
}

func TestShowAndRuns(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()
	writeSnapshot(t, a, "2024-09-01", "0.9", "140")
	require.NoError(t, a.Backfill(ctx, BackfillOptions{
		From: date(t, "2024-09-01"), To: date(t, "2024-09-01"), Offline: true, SkipReport: true,
	}))

	require.NoError(t, a.Show(ctx, ShowOptions{Currency: "eur", Limit: 5}))
	require.Contains(t, out.String(), "2024-09-01")
	require.Contains(t, out.String(), "EUR")
	require.NotContains(t, out.String(), "JPY")

	out.Reset()
	require.NoError(t, a.Runs(ctx, 5))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "succeeded")
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	a, _ := testApp(t)
	a.Config.Database = config.DatabaseConfig{Driver: "postgres"}
	_, err := a.openStore(context.Background())
	require.Error(t, err)
}
