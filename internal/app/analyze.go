package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"fxreport/internal/analysis"
	"fxreport/internal/rates"
	"fxreport/internal/report"
)

// Analyze computes the report for a date from stored history without delivering it.
// A zero date means today.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	day, err := a.dateOrToday(opts.Date)
	if err != nil {
		return err
	}
	opts.Date = day

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.ReadAll(ctx)
	if err != nil {
		return err
	}
	analysisOpts := analysis.Options{Base: a.Config.Rates.Base}
	results := analysis.Analyze(history, opts.Date, analysisOpts)
	if skipped := analysis.Skipped(history, opts.Date, analysisOpts); len(skipped) > 0 {
		a.Logger.Info().Strs("currencies", skipped).Str("date", rates.FormatDate(opts.Date)).Msg("skipped currencies without a rate on date")
	}

	data, err := report.Encode(results)
	if err != nil {
		return err
	}
	if opts.CSVPath == "" {
		_, err = a.Out.Write(data)
		return err
	}
	if dir := filepath.Dir(opts.CSVPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(opts.CSVPath, data, 0o644)
}

// ExportChart renders stored history as a PNG line chart.
func (a *App) ExportChart(ctx context.Context, opts ExportOptions) error {
	if opts.PNGPath == "" {
		return errors.New("--png must be provided")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.ReadAll(ctx)
	if err != nil {
		return err
	}
	currencies := make([]string, 0, len(opts.Currencies))
	for _, c := range opts.Currencies {
		currencies = append(currencies, rates.NormalizeCode(c))
	}
	if err := report.WriteChart(opts.PNGPath, history, currencies); err != nil {
		return err
	}
	a.Logger.Info().Str("path", opts.PNGPath).Int("records", len(history)).Msg("chart exported")
	return nil
}
