package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fxreport/internal/app"
)

var (
	showLimit    int
	showCurrency string
	runsLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent stored rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Currency: showCurrency,
			Limit:    showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Runs(cmd.Context(), runsLimit)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rates to display")
	showCmd.Flags().StringVar(&showCurrency, "currency", "", "Only show this currency")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
