package verifier

import (
	"errors"
	"fmt"
)

// Pipeline stages, used to categorize failures in logs and keep routine
// validation rejections distinguishable from unexpected errors.
const (
	stageValidation = "validation"
	stageResolve    = "resolve_provider"
	stageHash       = "hash"
	stageSign       = "sign"
	stageSubmit     = "submit"
)

// ErrNotVerified rejects records whose provider-asserted verified flag is
// false. Such records reach the store only through a degenerate path and must
// never be attested.
var ErrNotVerified = errors.New("service record is not verified by provider")

// StageError is an explicit step-failure value: which pipeline stage failed
// and why. The verifier converts it into a FAILED processing entry instead of
// letting it escape.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Message returns the human-readable text persisted on the FAILED entry.
func (e *StageError) Message() string { return e.Err.Error() }

func stageErr(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
