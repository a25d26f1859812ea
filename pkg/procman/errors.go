// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package procman

import (
	"errors"
	"fmt"
)

// predefined error codes
const (
	ErrCodeProcessAlreadyExists    = "PROCESS_ALREADY_EXISTS"
	ErrCodeForwardFailed           = "FORWARD_FAILED"
	ErrCodeBackwardFailed          = "BACKWARD_FAILED"
	ErrCodeResultsUnavailable      = "RESULTS_UNAVAILABLE"
	ErrCodePersistenceFailed       = "PERSISTENCE_FAILED"
	ErrCodeCompensationNotResolved = "COMPENSATION_NOT_RESOLVED"
	ErrCodeInvalidState            = "INVALID_STATE"
	ErrCodeParameterSnapshotFailed = "PARAMETER_SNAPSHOT_FAILED"
)

// ProcessError is the typed error surfaced by all coordinator operations.
// Callers dispatch on Code (or the IsXxx helpers) rather than on message
// text.
type ProcessError struct {
	// Code is one of the ErrCode constants.
	Code string

	// Message is a human-readable description.
	Message string

	// CorrelationID, ProcessID and StepID identify the failing process
	// element where known; ProcessID and StepID are -1 when unknown.
	CorrelationID string
	ProcessID     int64
	StepID        int

	// FailedSteps lists the compensations that failed during a sweep.
	// Only populated for BACKWARD_FAILED errors.
	FailedSteps []FailedCompensation

	// Cause is the underlying error, if any.
	Cause error
}

// FailedCompensation identifies one compensation that did not succeed during
// a compensation sweep.
type FailedCompensation struct {
	StepID       int
	ActivityName string
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.FailedSteps) > 0 {
		for _, fc := range e.FailedSteps {
			msg += fmt.Sprintf(" {step=%d activity=%s}", fc.StepID, fc.ActivityName)
		}
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *ProcessError) Unwrap() error {
	return e.Cause
}

func newProcessError(code, message string, cause error) *ProcessError {
	return &ProcessError{
		Code:      code,
		Message:   message,
		ProcessID: -1,
		StepID:    -1,
		Cause:     cause,
	}
}

// NewProcessAlreadyExistsError reports a duplicate correlation ID, mapped
// from the storage tier's uniqueness-constraint violation. Callers should
// treat it as "process already running", not as an outage.
func NewProcessAlreadyExistsError(correlationID string, cause error) *ProcessError {
	err := newProcessError(ErrCodeProcessAlreadyExists,
		fmt.Sprintf("process with correlation ID %q already exists", correlationID), cause)
	err.CorrelationID = correlationID
	return err
}

// NewForwardFailedError reports a forward failure that was fully
// compensated: every logged step was successfully undone.
func NewForwardFailedError(correlationID string, processID int64) *ProcessError {
	err := newProcessError(ErrCodeForwardFailed,
		"forward activity failed, but compensations were successful", nil)
	err.CorrelationID = correlationID
	err.ProcessID = processID
	return err
}

// NewBackwardFailedError reports a forward failure where one or more
// compensations also failed. The failed set names every step left logged.
func NewBackwardFailedError(correlationID string, processID int64, failed []FailedCompensation, cause error) *ProcessError {
	err := newProcessError(ErrCodeBackwardFailed,
		"forward activity failed and so did some compensation activities", cause)
	err.CorrelationID = correlationID
	err.ProcessID = processID
	err.FailedSteps = failed
	return err
}

// NewResultsUnavailableError reports a result query against a process that
// is not SUCCESSFUL.
func NewResultsUnavailableError(correlationID string, state ProcessState) *ProcessError {
	err := newProcessError(ErrCodeResultsUnavailable,
		fmt.Sprintf("results only available for SUCCESSFUL processes, process is %s", state), nil)
	err.CorrelationID = correlationID
	return err
}

// NewPersistenceError wraps a storage-layer failure. Retry-worthy from the
// caller's point of view.
func NewPersistenceError(operation string, cause error) *ProcessError {
	return newProcessError(ErrCodePersistenceFailed,
		fmt.Sprintf("persistence operation %q failed", operation), cause)
}

// NewCompensationNotResolvedError reports a compensation locator that no
// registered backward behaviour matches.
func NewCompensationNotResolvedError(locator string) *ProcessError {
	return newProcessError(ErrCodeCompensationNotResolved,
		fmt.Sprintf("no backward behaviour registered for locator %q", locator), nil)
}

// NewInvalidStateError reports an operation attempted against a process in
// an incompatible state.
func NewInvalidStateError(message string) *ProcessError {
	return newProcessError(ErrCodeInvalidState, message, nil)
}

// NewParameterSnapshotError reports a failure to deep-copy activity
// parameters before logging the compensation.
func NewParameterSnapshotError(correlationID string, cause error) *ProcessError {
	err := newProcessError(ErrCodeParameterSnapshotFailed,
		"failed to snapshot activity parameters", cause)
	err.CorrelationID = correlationID
	return err
}

func hasCode(err error, code string) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsProcessAlreadyExists checks for the duplicate-correlation-ID condition.
func IsProcessAlreadyExists(err error) bool { return hasCode(err, ErrCodeProcessAlreadyExists) }

// IsForwardFailed checks for a fully compensated forward failure.
func IsForwardFailed(err error) bool { return hasCode(err, ErrCodeForwardFailed) }

// IsBackwardFailed checks for a compensation failure.
func IsBackwardFailed(err error) bool { return hasCode(err, ErrCodeBackwardFailed) }

// IsResultsUnavailable checks for a result query on a non-SUCCESSFUL process.
func IsResultsUnavailable(err error) bool { return hasCode(err, ErrCodeResultsUnavailable) }

// IsPersistenceFailed checks for a storage-layer failure.
func IsPersistenceFailed(err error) bool { return hasCode(err, ErrCodePersistenceFailed) }

// IsCompensationNotResolved checks for an unresolvable compensation locator.
func IsCompensationNotResolved(err error) bool { return hasCode(err, ErrCodeCompensationNotResolved) }
