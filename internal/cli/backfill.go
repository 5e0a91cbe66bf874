package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fxreport/internal/app"
	"fxreport/internal/rates"
)

var (
	backfillFrom       string
	backfillTo         string
	backfillWorkers    int
	backfillOffline    bool
	backfillReportEach bool
	backfillSkipReport bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest historical dates, then report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := rates.ParseDate(backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := rates.ParseDate(backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}
		if backfillReportEach && backfillSkipReport {
			return fmt.Errorf("--report-each and --skip-report are mutually exclusive")
		}

		opts := app.BackfillOptions{
			From:       from,
			To:         to,
			Workers:    backfillWorkers,
			Offline:    backfillOffline,
			ReportEach: backfillReportEach,
			SkipReport: backfillSkipReport,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of dates ingested concurrently")
	backfillCmd.Flags().BoolVar(&backfillOffline, "offline", false, "Replay archived payloads instead of calling the provider")
	backfillCmd.Flags().BoolVar(&backfillReportEach, "report-each", false, "Report and deliver every date in order")
	backfillCmd.Flags().BoolVar(&backfillSkipReport, "skip-report", false, "Only ingest, do not report")
}
