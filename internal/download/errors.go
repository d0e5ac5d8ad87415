package download

import "fmt"

// Reasons carried by OrchestratorError.
const (
	ReasonInvalidInput     = "invalid input"
	ReasonState            = "pipeline state unavailable"
	ReasonStorage          = "storage failure"
	ReasonIndexUnreachable = "filing index unreachable"
	ReasonCancelled        = "run cancelled"
)

// OrchestratorError reports a company-level failure. The company stays in the
// active list so the run can be retried.
type OrchestratorError struct {
	Ticker string
	Reason string
	Err    error
}

func (e *OrchestratorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Ticker, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Ticker, e.Reason, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }
