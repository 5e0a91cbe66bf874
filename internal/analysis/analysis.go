// Package analysis finds, per currency, the historical date whose rate deviated most
// from the rate on a reference date.
package analysis

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fxreport/internal/rates"
)

// Result is the maximum deviation found for one currency.
type Result struct {
	Currency          string
	CurrentDate       time.Time
	MaxDeviationDate  time.Time
	MaxDeviationValue decimal.Decimal
}

// Options narrow the history considered by Analyze.
type Options struct {
	// Base restricts the scan to records quoted against this base. Empty means all.
	Base string
}

// Analyze scans history for every currency that has a rate on current and returns one
// Result per such currency, in the partition order of history. Only dates up to and
// including current are considered; ties resolve to the earliest date.
func Analyze(history rates.History, current time.Time, opts Options) []Result {
	current = rates.Date(current)
	results := make([]Result, 0)
	for _, part := range partition(history, current, opts) {
		res, ok := scan(part.records, current)
		if !ok {
			continue
		}
		res.Currency = part.currency
		results = append(results, res)
	}
	return results
}

// Skipped lists currencies present in history without a rate on current.
func Skipped(history rates.History, current time.Time, opts Options) []string {
	current = rates.Date(current)
	var out []string
	for _, part := range partition(history, current, opts) {
		if _, ok := rateOn(part.records, current); !ok {
			out = append(out, part.currency)
		}
	}
	return out
}

type series struct {
	currency string
	records  []rates.Record
}

func partition(history rates.History, current time.Time, opts Options) []series {
	index := make(map[string]int)
	var parts []series
	for _, rec := range history {
		if opts.Base != "" && rec.Base != opts.Base {
			continue
		}
		i, ok := index[rec.Currency]
		if !ok {
			i = len(parts)
			index[rec.Currency] = i
			parts = append(parts, series{currency: rec.Currency})
		}
		if rates.Date(rec.Date).After(current) {
			continue
		}
		parts[i].records = append(parts[i].records, rec)
	}
	for i := range parts {
		recs := parts[i].records
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].Date.Before(recs[b].Date) })
	}
	return parts
}

func rateOn(records []rates.Record, current time.Time) (decimal.Decimal, bool) {
	for _, rec := range records {
		if rates.Date(rec.Date).Equal(current) {
			return rec.Rate, true
		}
	}
	return decimal.Decimal{}, false
}

func scan(records []rates.Record, current time.Time) (Result, bool) {
	currentRate, ok := rateOn(records, current)
	if !ok {
		return Result{}, false
	}

	best := Result{CurrentDate: current, MaxDeviationDate: current, MaxDeviationValue: decimal.Zero}
	found := false
	for _, rec := range records {
		diff := rec.Rate.Sub(currentRate).Abs()
		// strict comparison keeps the earliest date on ties
		if !found || diff.GreaterThan(best.MaxDeviationValue) {
			best.MaxDeviationDate = rates.Date(rec.Date)
			best.MaxDeviationValue = diff
			found = true
		}
	}
	return best, true
}
