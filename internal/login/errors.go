package login

import (
	"errors"
	"fmt"

	"github.com/clawops/clawkeeper/internal/classify"
)

// Failure classifications for a run. Each one is terminal for the run
// that raises it; none of them leave partial state behind.
var (
	// ErrEntryPointMissing means a control the flow depends on never
	// became visible (provider login button, OTP input, authorize
	// button).
	ErrEntryPointMissing = errors.New("entry point missing")

	// ErrCredentialSubmission means the provider's login form fields
	// were absent when the flow tried to fill them.
	ErrCredentialSubmission = errors.New("credential submission failed")

	// ErrChallengeTimeout means a device-verification, two-factor, or
	// redirect wait exceeded its budget.
	ErrChallengeTimeout = errors.New("challenge wait timed out")

	// ErrChallengeRejected means the provider bounced the challenge:
	// a wrong code, or a mobile approval that fell back to the
	// credential prompt.
	ErrChallengeRejected = errors.New("challenge rejected")

	// ErrClassificationAmbiguous means the page state stayed unknown
	// past a stage's deadline.
	ErrClassificationAmbiguous = errors.New("page state ambiguous")
)

// StageError records where a run failed and what the engine last saw.
type StageError struct {
	Stage string
	State classify.State
	URL   string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "stage failed"
	}
	return fmt.Sprintf("stage %s failed (state=%s url=%s): %v", e.Stage, e.State, e.URL, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func failStage(stage string, state classify.State, url string, err error) *StageError {
	return &StageError{Stage: stage, State: state, URL: url, Err: err}
}
