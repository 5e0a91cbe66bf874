package storage

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses recorded in the run journal.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunRecord is one pipeline execution for a calendar date.
type RunRecord struct {
	ID          uuid.UUID
	RunDate     time.Time
	Status      string
	FailedStage string
	Error       string
	Results     int
	StartedAt   time.Time
	FinishedAt  *time.Time
}
