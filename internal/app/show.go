package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"fxreport/internal/rates"
)

// Show prints the most recent stored rates.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecent(ctx, rates.NormalizeCode(opts.Currency), opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no rates found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tBase\tCurrency\tRate")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", rates.FormatDate(rec.Date), rec.Base, rec.Currency, rec.Rate.String())
	}
	return writer.Flush()
}

// Runs prints the run journal, newest first.
func (a *App) Runs(ctx context.Context, limit int) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tDate\tStatus\tStage\tResults\tDuration\tError")
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			rates.FormatDate(run.RunDate),
			run.Status,
			run.FailedStage,
			run.Results,
			duration,
			sanitizeInline(run.Error),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
