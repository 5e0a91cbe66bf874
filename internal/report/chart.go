package report

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fxreport/internal/rates"
)

var hundred = decimal.NewFromInt(100)

// RenderChart draws the stored history of the given currencies as a PNG. With more than
// one currency every series is rebased to 100 on its first date so that currencies of
// different magnitude share an axis. An empty currency list charts everything.
func RenderChart(w io.Writer, history rates.History, currencies []string) error {
	groups := groupByCurrency(history, currencies)
	if len(groups) == 0 {
		return errors.New("no history to chart")
	}

	rebase := len(groups) > 1
	series := make([]chart.Series, 0, len(groups))
	for _, g := range groups {
		x := make([]time.Time, len(g.records))
		y := make([]float64, len(g.records))
		first := g.records[0].Rate
		for i, rec := range g.records {
			x[i] = rec.Date
			value := rec.Rate
			if rebase && !first.IsZero() {
				value = rec.Rate.Div(first).Mul(hundred)
			}
			y[i] = value.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{Name: g.currency, XValues: x, YValues: y})
	}

	yName := "Rate"
	if rebase {
		yName = "Index (first date = 100)"
	}
	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           yName,
			ValueFormatter: rateFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// WriteChart renders the chart into path, creating parent directories.
func WriteChart(path string, history rates.History, currencies []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return RenderChart(file, history, currencies)
}

type currencyHistory struct {
	currency string
	records  []rates.Record
}

func groupByCurrency(history rates.History, currencies []string) []currencyHistory {
	wanted := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		wanted[rates.NormalizeCode(c)] = true
	}

	index := make(map[string]int)
	var groups []currencyHistory
	for _, rec := range history {
		if len(wanted) > 0 && !wanted[rec.Currency] {
			continue
		}
		i, ok := index[rec.Currency]
		if !ok {
			i = len(groups)
			index[rec.Currency] = i
			groups = append(groups, currencyHistory{currency: rec.Currency})
		}
		groups[i].records = append(groups[i].records, rec)
	}

	// go-chart needs at least two points per series
	out := groups[:0]
	for _, g := range groups {
		if len(g.records) >= 2 {
			out = append(out, g)
		}
	}
	return out
}
