package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fxreport/internal/alerting"
	"fxreport/internal/rates"
)

// Backfill ingests every date in [From, To], then reports the last date (or each date
// in order with ReportEach).
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from, to := rates.Date(opts.From), rates.Date(opts.To)
	if to.Before(from) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier alerting.Notifier
	if !opts.SkipReport {
		n, closeNotifier, err := a.newNotifier()
		if err != nil {
			return err
		}
		defer closeNotifier()
		notifier = n
	}

	p := a.newPipeline(store, a.newFetcher(opts.Offline), notifier)
	dates := dateRange(from, to)

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, date := range dates {
		g.Go(func() error {
			if _, err := p.Ingest(gctx, date); err != nil {
				// each date is independent; keep going with the rest
				failed.Add(1)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().
		Int("dates", len(dates)).
		Int64("failed", failed.Load()).
		Bool("offline", opts.Offline).
		Msg("回填入库完成")

	var reportFailed int
	if !opts.SkipReport {
		toReport := dates[len(dates)-1:]
		if opts.ReportEach {
			toReport = dates
		}
		for _, date := range toReport {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := p.Report(ctx, date); err != nil {
				reportFailed++
			}
		}
	}
	a.pushMetrics(ctx)

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d dates failed to ingest, see logs", n, len(dates))
	}
	if reportFailed > 0 {
		return fmt.Errorf("%d reports failed, see logs", reportFailed)
	}
	return nil
}

func dateRange(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
