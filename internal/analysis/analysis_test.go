package analysis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxreport/internal/rates"
)

func d(v string) time.Time {
	t, err := rates.ParseDate(v)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(currency, date, rate string) rates.Record {
	return rates.Record{Base: "USD", Date: d(date), Currency: currency, Rate: decimal.RequireFromString(rate)}
}

func TestAnalyzeEURExample(t *testing.T) {
	history := rates.History{
		rec("EUR", "2024-09-01", "0.90"),
		rec("EUR", "2024-09-02", "0.95"),
		rec("EUR", "2024-09-03", "0.91"),
	}

	got := Analyze(history, d("2024-09-03"), Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "EUR", got[0].Currency)
	assert.Equal(t, "2024-09-03", rates.FormatDate(got[0].CurrentDate))
	assert.Equal(t, "2024-09-02", rates.FormatDate(got[0].MaxDeviationDate))
	assert.True(t, got[0].MaxDeviationValue.Equal(decimal.RequireFromString("0.04")), got[0].MaxDeviationValue.String())
}

func TestAnalyzeSkipsCurrencyMissingOnCurrentDate(t *testing.T) {
	history := rates.History{
		rec("EUR", "2024-09-02", "0.95"),
		rec("EUR", "2024-09-03", "0.91"),
		rec("JPY", "2024-09-01", "145.10"),
		rec("JPY", "2024-09-02", "146.00"),
	}

	got := Analyze(history, d("2024-09-03"), Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "EUR", got[0].Currency)
	assert.Equal(t, []string{"JPY"}, Skipped(history, d("2024-09-03"), Options{}))
}

func TestAnalyzeTieBreakPicksEarliestDate(t *testing.T) {
	history := rates.History{
		rec("GBP", "2024-09-03", "0.80"),
		rec("GBP", "2024-09-02", "0.78"),
		rec("GBP", "2024-09-01", "0.82"),
	}

	got := Analyze(history, d("2024-09-03"), Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "2024-09-01", rates.FormatDate(got[0].MaxDeviationDate))
	assert.True(t, got[0].MaxDeviationValue.Equal(decimal.RequireFromString("0.02")))
}

func TestAnalyzeSingleRecord(t *testing.T) {
	got := Analyze(rates.History{rec("CHF", "2024-09-03", "0.85")}, d("2024-09-03"), Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "2024-09-03", rates.FormatDate(got[0].MaxDeviationDate))
	assert.True(t, got[0].MaxDeviationValue.IsZero())
}

func TestAnalyzeIgnoresFutureDates(t *testing.T) {
	history := rates.History{
		rec("EUR", "2024-09-01", "0.90"),
		rec("EUR", "2024-09-02", "0.91"),
		rec("EUR", "2024-09-05", "2.00"),
	}

	got := Analyze(history, d("2024-09-02"), Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "2024-09-01", rates.FormatDate(got[0].MaxDeviationDate))
	assert.True(t, got[0].MaxDeviationValue.Equal(decimal.RequireFromString("0.01")))
}

func TestAnalyzeFiltersBase(t *testing.T) {
	history := rates.History{
		rec("EUR", "2024-09-01", "0.90"),
		rec("EUR", "2024-09-02", "0.91"),
		{Base: "GBP", Date: d("2024-09-01"), Currency: "EUR", Rate: decimal.RequireFromString("5")},
	}

	got := Analyze(history, d("2024-09-02"), Options{Base: "USD"})
	require.Len(t, got, 1)
	assert.True(t, got[0].MaxDeviationValue.Equal(decimal.RequireFromString("0.01")))
}

func TestAnalyzeDeterministic(t *testing.T) {
	history := rates.History{
		rec("EUR", "2024-09-01", "0.90"),
		rec("EUR", "2024-09-02", "0.95"),
		rec("JPY", "2024-09-01", "140"),
		rec("JPY", "2024-09-02", "150"),
	}
	snapshot := append(rates.History(nil), history...)

	first := Analyze(history, d("2024-09-02"), Options{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Analyze(history, d("2024-09-02"), Options{}))
	}
	assert.Equal(t, snapshot, history, "analysis must not mutate history")
	require.Len(t, first, 2)
	assert.Equal(t, "EUR", first[0].Currency)
	assert.Equal(t, "JPY", first[1].Currency)
}
