package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fxreport/internal/alerting"
	"fxreport/internal/analysis"
	"fxreport/internal/fetcher"
	"fxreport/internal/logging"
	"fxreport/internal/metrics"
	"fxreport/internal/rates"
	"fxreport/internal/report"
	"fxreport/internal/storage"
)

// Deps are the collaborators a pipeline drives. Journal, Locker, Notifier and Metrics may be nil.
type Deps struct {
	Fetcher  fetcher.Fetcher
	Store    storage.RateStore
	Journal  storage.RunJournal
	Locker   storage.DateLocker
	Exporter *report.Exporter
	Notifier alerting.Notifier
	Metrics  *metrics.PipelineMetrics
}

// Options fix what is fetched and how the report is captioned.
type Options struct {
	Base    string
	Symbols []string
	Caption string
}

// Pipeline runs the daily batch: fetch, validate, upsert, load_history, analyze, export, notify.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	full   []Stage
	ingest []Stage
	report []Stage
}

// New wires a pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Base == "" {
		opts.Base = rates.DefaultBase
	}
	p := &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	fetchStages := []Stage{
		{Name: StageFetch, Run: p.fetch},
		{Name: StageValidate, Run: p.validate},
		{Name: StageUpsert, Run: p.upsert},
	}
	reportStages := []Stage{
		{Name: StageLoadHistory, Run: p.loadHistory},
		{Name: StageAnalyze, Run: p.analyze},
		{Name: StageExport, Run: p.export},
		{Name: StageNotify, Run: p.notify},
	}
	p.ingest = fetchStages
	p.report = reportStages
	p.full = append(append([]Stage{}, fetchStages...), reportStages...)
	return p
}

// Stages lists the full run in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.full))
	for _, s := range p.full {
		names = append(names, s.Name)
	}
	return names
}

// Execute runs every stage for date.
func (p *Pipeline) Execute(ctx context.Context, date time.Time) (*Run, error) {
	return p.execute(ctx, ModeFull, date, p.full)
}

// Ingest fetches, validates and stores the rates of date without reporting.
func (p *Pipeline) Ingest(ctx context.Context, date time.Time) (*Run, error) {
	return p.execute(ctx, ModeIngest, date, p.ingest)
}

// Report analyzes stored history as of date, exports and delivers the report.
func (p *Pipeline) Report(ctx context.Context, date time.Time) (*Run, error) {
	return p.execute(ctx, ModeReport, date, p.report)
}

func (p *Pipeline) execute(ctx context.Context, mode string, date time.Time, stages []Stage) (*Run, error) {
	date = rates.Date(date)
	day := rates.FormatDate(date)

	unlock, err := p.lock(ctx, date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	run := &Run{ID: uuid.New(), Date: date, Mode: mode}
	logger := p.logger.With().
		Str("run_id", run.ID.String()).
		Str("date", day).
		Str("mode", mode).
		Logger()

	record := storage.RunRecord{
		ID:        run.ID,
		RunDate:   date,
		Status:    storage.RunRunning,
		StartedAt: p.now(),
	}
	if p.deps.Journal != nil {
		if err := p.deps.Journal.StartRun(ctx, record); err != nil {
			logger.Warn().Err(err).Msg("failed to record run start")
		}
	}

	logger.Info().Msg("run started")
	runErr := p.runStages(ctx, logger, run, stages)

	finished := p.now()
	record.FinishedAt = &finished
	record.Results = len(run.Results)
	record.Status = storage.RunSucceeded
	if runErr != nil {
		record.Status = storage.RunFailed
		record.Error = runErr.Error()
		var se *StageError
		if errors.As(runErr, &se) {
			record.FailedStage = se.Stage
		}
	}
	if p.deps.Journal != nil {
		// The run outcome must be journaled even if ctx was cancelled mid-run.
		if err := p.deps.Journal.FinishRun(context.WithoutCancel(ctx), record); err != nil {
			logger.Warn().Err(err).Msg("failed to record run outcome")
		}
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(mode, date, runErr)
	}

	if runErr != nil {
		logger.Error().Err(runErr).Str("stage", record.FailedStage).Msg("run failed")
		return nil, runErr
	}
	logger.Info().
		Int("applied", run.Applied).
		Int("results", len(run.Results)).
		Dur("elapsed", finished.Sub(record.StartedAt)).
		Msg("run succeeded")
	return run, nil
}

func (p *Pipeline) runStages(ctx context.Context, logger zerolog.Logger, run *Run, stages []Stage) error {
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage.Name, Date: run.Date, Err: err}
		}
		start := time.Now()
		err := stage.Run(ctx, run)
		elapsed := time.Since(start)
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveStage(stage.Name, elapsed, err)
		}
		if err != nil {
			return &StageError{Stage: stage.Name, Date: run.Date, Err: err}
		}
		logger.Debug().Str("stage", stage.Name).Dur("elapsed", elapsed).Msg("stage completed")
	}
	return nil
}

func (p *Pipeline) lock(ctx context.Context, date time.Time) (func(), error) {
	if p.deps.Locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := p.deps.Locker.TryLockDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", rates.FormatDate(date), err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", rates.FormatDate(date), storage.ErrRunInProgress)
	}
	return unlock, nil
}

func (p *Pipeline) fetch(ctx context.Context, run *Run) error {
	set, err := p.deps.Fetcher.Fetch(ctx, run.Date, p.opts.Symbols, p.opts.Base)
	if err != nil {
		return err
	}
	run.RateSet = set
	return nil
}

func (p *Pipeline) validate(_ context.Context, run *Run) error {
	return rates.Validate(run.RateSet, rates.Expectation{
		Date:    run.Date,
		Base:    p.opts.Base,
		Symbols: p.opts.Symbols,
	})
}

func (p *Pipeline) upsert(ctx context.Context, run *Run) error {
	applied, err := p.deps.Store.Upsert(ctx, run.RateSet.Records())
	if err != nil {
		return err
	}
	run.Applied = applied
	if p.deps.Metrics != nil {
		p.deps.Metrics.RatesUpserted.Add(float64(applied))
	}
	return nil
}

func (p *Pipeline) loadHistory(ctx context.Context, run *Run) error {
	history, err := p.deps.Store.ReadAll(ctx)
	if err != nil {
		return err
	}
	run.History = history
	return nil
}

func (p *Pipeline) analyze(_ context.Context, run *Run) error {
	opts := analysis.Options{Base: p.opts.Base}
	run.Results = analysis.Analyze(run.History, run.Date, opts)
	if skipped := analysis.Skipped(run.History, run.Date, opts); len(skipped) > 0 {
		p.logger.Info().
			Str("date", rates.FormatDate(run.Date)).
			Strs("currencies", skipped).
			Msg("currencies without a rate on the report date were skipped")
	}
	return nil
}

func (p *Pipeline) export(_ context.Context, run *Run) error {
	if p.deps.Exporter == nil {
		return errors.New("exporter not configured")
	}
	artifact, err := p.deps.Exporter.Export(run.Results, run.Date)
	if err != nil {
		return err
	}
	run.Artifact = artifact
	if p.deps.Metrics != nil {
		p.deps.Metrics.ReportRows.Set(float64(len(run.Results)))
	}
	return nil
}

func (p *Pipeline) notify(ctx context.Context, run *Run) error {
	if p.deps.Notifier == nil {
		return &alerting.DeliveryError{Channel: "none", Err: errors.New("no notifier configured")}
	}
	if err := p.deps.Notifier.Send(ctx, run.Artifact, p.caption(run.Date)); err != nil {
		if p.deps.Metrics != nil {
			p.deps.Metrics.DeliveryFailures.Inc()
		}
		return err
	}
	return nil
}

func (p *Pipeline) caption(date time.Time) string {
	if p.opts.Caption == "" {
		return "FX max deviation report " + rates.FormatDate(date)
	}
	return fmt.Sprintf("%s (%s)", p.opts.Caption, rates.FormatDate(date))
}
