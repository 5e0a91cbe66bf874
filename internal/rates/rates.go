package rates

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used on the wire, in storage and in reports.
const DateLayout = "2006-01-02"

// DefaultBase is the base currency used when none is configured.
const DefaultBase = "USD"

// RateSet is one provider answer: the rates of a symbol set against Base on Date.
type RateSet struct {
	Base  string
	Date  time.Time
	Rates map[string]decimal.Decimal
}

// Record is a single stored observation keyed by (Date, Base, Currency).
type Record struct {
	Base     string
	Date     time.Time
	Currency string
	Rate     decimal.Decimal
}

// History is a read-only snapshot of stored records ordered by currency, then date.
type History []Record

// Records flattens the set into store records ordered by currency code.
func (s RateSet) Records() []Record {
	codes := s.Currencies()
	out := make([]Record, 0, len(codes))
	for _, code := range codes {
		out = append(out, Record{
			Base:     s.Base,
			Date:     s.Date,
			Currency: code,
			Rate:     s.Rates[code],
		})
	}
	return out
}

// Currencies returns the currency codes of the set in ascending order.
func (s RateSet) Currencies() []string {
	codes := make([]string, 0, len(s.Rates))
	for code := range s.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Date truncates t to its calendar date at 00:00 UTC, keeping the wall-clock day of t.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
