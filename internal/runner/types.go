package runner

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Kind string

const (
	KindCompany Kind = "company"
	KindDrain   Kind = "drain"
)

// Run describes one background job: a single company scan or a pass over the
// pending queue.
type Run struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Tickers    []string   `json:"tickers"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

var (
	ErrRunnerBusy      = errors.New("a run is already in progress")
	ErrNothingPending  = errors.New("no pending companies")
	ErrNotRetryable    = errors.New("only active companies can be retried")
	ErrCompanyNotFound = errors.New("company not found")
)

const historySize = 20
