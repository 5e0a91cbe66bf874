package cli

import (
	"github.com/spf13/cobra"

	"fxreport/internal/app"
)

var (
	analyzeDate    string
	analyzeCSVPath string

	exportPNGPath    string
	exportCurrencies []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute the max-deviation report from stored history without delivering it",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDateFlag("--date", analyzeDate)
		if err != nil {
			return err
		}
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{Date: date, CSVPath: analyzeCSVPath})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored rate history as a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ExportChart(cmd.Context(), app.ExportOptions{
			PNGPath:    exportPNGPath,
			Currencies: exportCurrencies,
		})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDate, "date", "", "Report date (YYYY-MM-DD, defaults to today)")
	analyzeCmd.Flags().StringVar(&analyzeCSVPath, "csv", "", "Write CSV to this path instead of stdout")

	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringSliceVar(&exportCurrencies, "currency", nil, "Currencies to chart (defaults to all)")
}
