package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fxreport/internal/rates"
)

var onceDate string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Catch up missing dates, then run the daily schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run the full pipeline for a single date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDateFlag("--date", onceDate)
		if err != nil {
			return err
		}
		return getApp().RunOnce(cmd.Context(), date)
	},
}

func init() {
	onceCmd.Flags().StringVar(&onceDate, "date", "", "Report date (YYYY-MM-DD, defaults to today)")
}

// parseDateFlag parses a YYYY-MM-DD flag value. Empty yields the zero time, which the
// app resolves to today in the scheduler location.
func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := rates.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return d, nil
}
