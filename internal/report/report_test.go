package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxreport/internal/analysis"
	"fxreport/internal/rates"
)

func mustDate(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := rates.ParseDate(v)
	require.NoError(t, err)
	return d
}

func sampleResults(t *testing.T) []analysis.Result {
	return []analysis.Result{
		{
			Currency:          "JPY",
			CurrentDate:       mustDate(t, "2024-09-03"),
			MaxDeviationDate:  mustDate(t, "2024-09-01"),
			MaxDeviationValue: decimal.RequireFromString("1.25"),
		},
		{
			Currency:          "EUR",
			CurrentDate:       mustDate(t, "2024-09-03"),
			MaxDeviationDate:  mustDate(t, "2024-09-02"),
			MaxDeviationValue: decimal.RequireFromString("0.04"),
		},
	}
}

func TestEncodeKeepsOrderAndFormat(t *testing.T) {
	data, err := Encode(sampleResults(t))
	require.NoError(t, err)

	want := "currency,current_date,max_deviation_date,max_deviation_value\n" +
		"JPY,2024-09-03,2024-09-01,1.25\n" +
		"EUR,2024-09-03,2024-09-02,0.04\n"
	assert.Equal(t, want, string(data))
}

func TestEncodeDeterministic(t *testing.T) {
	first, err := Encode(sampleResults(t))
	require.NoError(t, err)
	second, err := Encode(sampleResults(t))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestEncodeEmptyWritesHeaderOnly(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "currency,current_date,max_deviation_date,max_deviation_value\n", string(data))
}

func TestExporterWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	exp := NewExporter(dir, "")

	art, err := exp.Export(sampleResults(t), mustDate(t, "2024-09-03"))
	require.NoError(t, err)
	assert.Equal(t, "max_deviation_2024-09-03.csv", art.Name)
	assert.Equal(t, filepath.Join(dir, art.Name), art.Path)

	onDisk, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, art.Data, onDisk)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestRenderChart(t *testing.T) {
	history := rates.History{
		{Base: "USD", Currency: "EUR", Date: mustDate(t, "2024-09-01"), Rate: decimal.RequireFromString("0.90")},
		{Base: "USD", Currency: "EUR", Date: mustDate(t, "2024-09-02"), Rate: decimal.RequireFromString("0.95")},
		{Base: "USD", Currency: "JPY", Date: mustDate(t, "2024-09-01"), Rate: decimal.RequireFromString("140")},
		{Base: "USD", Currency: "JPY", Date: mustDate(t, "2024-09-02"), Rate: decimal.RequireFromString("145")},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, history, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	err := RenderChart(&buf, history[:1], nil)
	assert.Error(t, err)
}
