package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fxreport/internal/rates"
)

// Fetcher retrieves the rate set for one calendar date.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time, symbols []string, base string) (rates.RateSet, error)
}

// ErrFetch matches every upstream failure.
var ErrFetch = errors.New("fetch failed")

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindPayload   ErrorKind = "payload"
)

// FetchError reports an unreachable provider, a non-success response or a malformed payload.
type FetchError struct {
	Kind    ErrorKind
	Date    time.Time
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", rates.FormatDate(e.Date), e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}
