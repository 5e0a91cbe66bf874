package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fxreport/internal/alerting"
	"fxreport/internal/config"
	"fxreport/internal/fetcher"
	"fxreport/internal/logging"
	"fxreport/internal/metrics"
	"fxreport/internal/pipeline"
	"fxreport/internal/rates"
	"fxreport/internal/report"
	"fxreport/internal/scheduler"
	"fxreport/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.PipelineMetrics
	Out     io.Writer

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logging.Component(logger, "app"),
		Metrics: metrics.New(),
		Out:     os.Stdout,
		now:     time.Now,
	}
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	db := a.Config.Database
	if db.DSN == "" && db.Driver != "sqlite" && db.Driver != "sqlite3" {
		return nil, fmt.Errorf("database.dsn: %w", storage.ErrNotConfigured)
	}
	return storage.Open(ctx, db)
}

func (a *App) archive() *fetcher.Archive {
	return fetcher.NewArchive(a.Config.App.DataDir)
}

func (a *App) newFetcher(offline bool) fetcher.Fetcher {
	if offline {
		return fetcher.NewSnapshotFetcher(a.archive())
	}
	cfg := a.Config.Rates
	opts := []fetcher.ClientOption{
		fetcher.WithBaseURL(cfg.ProviderURL),
		fetcher.WithTimeout(cfg.RequestTimeout),
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithLogger(a.Logger),
	}
	if cfg.Archive {
		opts = append(opts, fetcher.WithArchive(a.archive()))
	}
	return fetcher.NewClient(cfg.APIKey, opts...)
}

// newNotifier builds the configured delivery channels. The returned closer releases
// channel resources and is never nil.
func (a *App) newNotifier() (alerting.Notifier, func(), error) {
	cfg := a.Config.Notifier
	if len(cfg.Channels) == 0 {
		return nil, func() {}, errors.New("notifier.channels is empty; configure telegram and/or kafka")
	}

	var (
		notifiers []alerting.Notifier
		closers   []func()
	)
	for _, ch := range cfg.Channels {
		switch ch {
		case "telegram":
			t := cfg.Telegram
			notifiers = append(notifiers, alerting.NewTelegramNotifier(t.BotToken, t.ChatID, t.APIBase, t.Timeout, a.Logger))
		case "kafka":
			k := alerting.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Timeout, a.Logger)
			notifiers = append(notifiers, k)
			closers = append(closers, func() {
				if err := k.Close(); err != nil {
					a.Logger.Warn().Err(err).Msg("failed to close kafka writer")
				}
			})
		default:
			return nil, func() {}, fmt.Errorf("unknown notifier channel %q", ch)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return alerting.NewMulti(a.Logger, notifiers...), closeAll, nil
}

func (a *App) newPipeline(store storage.Backend, fetch fetcher.Fetcher, notifier alerting.Notifier) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Fetcher:  fetch,
		Store:    store,
		Journal:  store,
		Locker:   store,
		Exporter: report.NewExporter(a.Config.App.DataDir, a.Config.Report.FilePattern),
		Notifier: notifier,
		Metrics:  a.Metrics,
	}, pipeline.Options{
		Base:    a.Config.Rates.Base,
		Symbols: a.Config.Rates.Symbols,
		Caption: a.Config.Report.Caption,
	}, a.Logger)
}

func (a *App) pushMetrics(ctx context.Context) {
	if err := a.Metrics.Push(ctx, a.Config.Metrics.PushgatewayURL, a.Config.Metrics.Job); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to push metrics")
	}
}

// today is the calendar date in the scheduler location.
func (a *App) today() (time.Time, error) {
	loc, err := a.Config.Scheduler.Zone()
	if err != nil {
		return time.Time{}, err
	}
	return rates.Date(a.now().In(loc)), nil
}

// dateOrToday returns date, or today in the scheduler location when date is zero.
func (a *App) dateOrToday(date time.Time) (time.Time, error) {
	if !date.IsZero() {
		return rates.Date(date), nil
	}
	return a.today()
}

// RunOnce executes the full pipeline for one date. A zero date means today.
func (a *App) RunOnce(ctx context.Context, date time.Time) error {
	date, err := a.dateOrToday(date)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	p := a.newPipeline(store, a.newFetcher(false), notifier)
	run, err := p.Execute(ctx, date)
	a.pushMetrics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "report %s written to %s (%d currencies)\n", rates.FormatDate(run.Date), run.Artifact.Path, len(run.Results))
	return nil
}

// Run executes catch-up for missing dates, then the daily schedule until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	runAt, err := a.Config.Scheduler.RunAtClock()
	if err != nil {
		return err
	}
	loc, err := a.Config.Scheduler.Zone()
	if err != nil {
		return err
	}

	p := a.newPipeline(store, a.newFetcher(false), notifier)

	if a.Config.Scheduler.Catchup {
		if err := a.catchUp(ctx, store, p, runAt, loc); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			a.Logger.Error().Err(err).Msg("catch-up incomplete")
		}
	}

	sched := scheduler.New(scheduler.Options{
		RunAt:        runAt,
		Location:     loc,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Str("run_at", a.Config.Scheduler.RunAt).Str("location", loc.String()).Msg("starting daily scheduler")
	err = sched.Run(ctx, func(ctx context.Context, date time.Time) error {
		_, err := p.Execute(ctx, date)
		a.pushMetrics(ctx)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler stopped")
	return nil
}

// catchUp ingests every scheduled date since start_date that is missing from the store,
// then reports the most recent one.
func (a *App) catchUp(ctx context.Context, store storage.RateStore, p *pipeline.Pipeline, runAt time.Duration, loc *time.Location) error {
	if a.Config.Scheduler.StartDate == "" {
		return nil
	}
	start, err := rates.ParseDate(a.Config.Scheduler.StartDate)
	if err != nil {
		return err
	}
	end := lastScheduledDate(a.now(), runAt, loc)
	if end.Before(start) {
		return nil
	}

	present, err := store.ListDates(ctx, a.Config.Rates.Base, start, end)
	if err != nil {
		return err
	}
	missing := missingDates(start, end, present)
	if len(missing) == 0 {
		a.Logger.Info().Msg("no dates to catch up")
		return nil
	}

	a.Logger.Info().Int("dates", len(missing)).Str("from", rates.FormatDate(missing[0])).Msg("catching up missing dates")
	var failed int
	for _, date := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.Ingest(ctx, date); err != nil {
			failed++
		}
	}

	last := missing[len(missing)-1]
	_, reportErr := p.Report(ctx, last)
	a.pushMetrics(ctx)
	if failed > 0 {
		return fmt.Errorf("%d of %d dates failed to ingest", failed, len(missing))
	}
	return reportErr
}

// lastScheduledDate is the latest calendar date whose run time is not in the future.
func lastScheduledDate(now time.Time, runAt time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	today := rates.Date(local)
	if local.Before(midnight.Add(runAt)) {
		return today.AddDate(0, 0, -1)
	}
	return today
}

// missingDates lists dates in [from, to] absent from present, ascending.
func missingDates(from, to time.Time, present map[time.Time]bool) []time.Time {
	var out []time.Time
	for d := rates.Date(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if !present[d] {
			out = append(out, d)
		}
	}
	return out
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From       time.Time
	To         time.Time
	Workers    int
	Offline    bool
	ReportEach bool
	SkipReport bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Currency string
	Limit    int
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	Date    time.Time
	CSVPath string
}

// ExportOptions configure the chart export.
type ExportOptions struct {
	PNGPath    string
	Currencies []string
}
