package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fxreport/internal/analysis"
	"fxreport/internal/rates"
	"fxreport/internal/report"
)

// Stage names in execution order.
const (
	StageFetch       = "fetch"
	StageValidate    = "validate"
	StageUpsert      = "upsert"
	StageLoadHistory = "load_history"
	StageAnalyze     = "analyze"
	StageExport      = "export"
	StageNotify      = "notify"
)

// Run modes.
const (
	ModeFull   = "full"
	ModeIngest = "ingest"
	ModeReport = "report"
)

// Stage is one step of a run. A stage reads what earlier stages left on the Run.
type Stage struct {
	Name string
	Run  func(ctx context.Context, run *Run) error
}

// Run carries the state of one execution for a calendar date.
type Run struct {
	ID       uuid.UUID
	Date     time.Time
	Mode     string
	RateSet  rates.RateSet
	Applied  int
	History  rates.History
	Results  []analysis.Result
	Artifact report.Artifact
}

// StageError names the stage and date that failed.
type StageError struct {
	Stage string
	Date  time.Time
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, rates.FormatDate(e.Date), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
