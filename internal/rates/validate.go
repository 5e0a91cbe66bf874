package rates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks every rejection produced by Validate.
var ErrValidation = errors.New("rate set rejected")

// ValidationError describes why a fetched rate set was rejected.
type ValidationError struct {
	Date     time.Time
	Currency string
	Reason   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid rate set")
	if !e.Date.IsZero() {
		b.WriteString(" for ")
		b.WriteString(FormatDate(e.Date))
	}
	if e.Currency != "" {
		b.WriteString(" (")
		b.WriteString(e.Currency)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var validate = validator.New(validator.WithRequiredStructEnabled())

const codeRule = "required,len=3,alpha,uppercase"

// ValidCode reports whether code is a three-letter upper-case currency code.
func ValidCode(code string) bool {
	return validate.Var(code, codeRule) == nil
}

// ParseSymbols normalises a symbol list, dropping blanks and duplicates while keeping order.
func ParseSymbols(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			code := NormalizeCode(part)
			if code == "" {
				continue
			}
			if !ValidCode(code) {
				return nil, fmt.Errorf("invalid currency code %q", part)
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("symbol list is empty")
	}
	return out, nil
}

// Expectation is what the caller asked the provider for.
type Expectation struct {
	Date    time.Time
	Base    string
	Symbols []string
}

// Validate checks a fetched set against the request that produced it.
func Validate(set RateSet, want Expectation) error {
	date := Date(want.Date)
	if set.Date.IsZero() {
		return &ValidationError{Date: date, Reason: "missing date"}
	}
	if !Date(set.Date).Equal(date) {
		return &ValidationError{Date: date, Reason: fmt.Sprintf("provider returned date %s", FormatDate(set.Date))}
	}
	if want.Base != "" && set.Base != want.Base {
		return &ValidationError{Date: date, Reason: fmt.Sprintf("provider returned base %q, want %q", set.Base, want.Base)}
	}
	if len(set.Rates) == 0 {
		return &ValidationError{Date: date, Reason: "no rates returned"}
	}

	allowed := make(map[string]struct{}, len(want.Symbols))
	for _, s := range want.Symbols {
		allowed[s] = struct{}{}
	}
	for _, code := range set.Currencies() {
		if !ValidCode(code) {
			return &ValidationError{Date: date, Currency: code, Reason: "malformed currency code"}
		}
		if _, ok := allowed[code]; !ok {
			return &ValidationError{Date: date, Currency: code, Reason: "currency not in configured symbol set"}
		}
		if !set.Rates[code].IsPositive() {
			return &ValidationError{Date: date, Currency: code, Reason: fmt.Sprintf("non-positive rate %s", set.Rates[code])}
		}
	}
	return nil
}
