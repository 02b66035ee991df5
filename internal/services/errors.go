package services

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a stage entry point is invoked for an
// unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ErrJobCancelled is returned when a stage entry point observes a cancelled
// job before doing any work.
var ErrJobCancelled = errors.New("job cancelled")

// ErrStageOrder is returned when a start request arrives for a stage whose
// place in the sequence the job has not reached or has already passed.
var ErrStageOrder = errors.New("stage out of order for current job status")

// PreconditionError marks a stage asked to run without a required prior
// artifact. It fails before any external call is made and is never retried.
type PreconditionError struct {
	Step    string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s precondition not met: missing %s", e.Step, e.Missing)
}

// StageError wraps the failure that terminally sank a stage, keeping the
// step name operators see in error_step.
type StageError struct {
	Step string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

const maxStoredErrorLen = 500

// truncateErr bounds vendor error text before it lands in the job row or a
// client response; vendors have returned whole HTML pages in error bodies.
func truncateErr(err error) string {
	if err == nil {
		return ""
	}
	return truncateMsg(err.Error())
}

func truncateMsg(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen] + "..."
	}
	return msg
}
