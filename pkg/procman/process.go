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
	"context"
	"fmt"

	"go.uber.org/zap"
)

// processIDNotAssigned marks a process that has not yet persisted its first
// step. Stored identities start at 1.
const processIDNotAssigned int64 = 0

// compensationStep is one pending undo record, as read back from the log with
// its payloads already decoded.
type compensationStep struct {
	correlationID         string
	stepID                int
	locator               string
	parameters            ActivityParameters
	orchestration         OrchestrationParameters
	preState              ActivityState
	retries               int
	transactionSuccessful bool
}

// compensationCallback is invoked once per logged step, in descending stepID
// order. Returning true pops the step, returning false leaves it logged with
// an incremented retry counter. A non-nil error aborts the walk.
type compensationCallback func(step *compensationStep) (bool, error)

// compensator is the slice of the log shared by the synchronous failure path
// and background recovery.
type compensator interface {
	compensate(ctx context.Context, processID int64, cb compensationCallback) error
	setProcessState(ctx context.Context, processID int64, state ProcessState) error
}

// compensationLog is the process-facing slice of the durable log.
type compensationLog interface {
	compensator

	pushProcess(ctx context.Context, correlationID string, acceptCompensationFailure bool) (int64, error)
	pushCompensation(ctx context.Context, processID int64, stepID int, locator string,
		parameters ActivityParameters, orchestration OrchestrationParameters, preState ActivityState) error
	touchProcess(ctx context.Context, processID int64) error
	markSuccessful(ctx context.Context, processID int64, stepID int) error
	cleanupAfterSuccess(ctx context.Context, processID int64, result ProcessResult) error
}

// Process drives one persisted saga instance. Execute the forward half of
// each business activity through it, in order, and it guarantees that on any
// forward failure every previously logged step is compensated in reverse
// order, durably surviving a crash of this coordinator.
//
// A Process is owned by a single goroutine; its steps are never run
// concurrently with each other.
type Process struct {
	correlationID string
	processID     int64
	currentStep   int

	acceptCompensationFailure  bool
	onlyCompensateIfSuccessful bool

	result   ProcessResult
	clog     compensationLog
	registry *ActivityRegistry
	lg       *zap.Logger
}

// CorrelationID returns the caller-supplied business key of this process.
func (p *Process) CorrelationID() string { return p.correlationID }

// ProcessID returns the persisted identity, or zero before the first step.
func (p *Process) ProcessID() int64 { return p.processID }

// CurrentStep returns the number of steps executed so far.
func (p *Process) CurrentStep() int { return p.currentStep }

// AcceptsCompensationFailure reports whether a failed compensation is left
// for background retry rather than aborting the sweep.
func (p *Process) AcceptsCompensationFailure() bool { return p.acceptCompensationFailure }

// Result returns the process-wide result accumulator, shared by all steps.
func (p *Process) Result() ProcessResult { return p.result }

// Execute runs one step whose forward and backward behaviours are bundled in
// a single activity.
func (p *Process) Execute(ctx context.Context, activity Activity, params ActivityParameters) error {
	if activity == nil {
		return NewInvalidStateError("activity must not be nil")
	}
	return p.executeStep(ctx, activity, activity, params, nil)
}

// ExecuteWithBehaviours runs one step with separate forward and backward
// behaviours.
func (p *Process) ExecuteWithBehaviours(
	ctx context.Context, forward ForwardBehaviour, backward BackwardBehaviour, params ActivityParameters,
) error {
	return p.executeStep(ctx, forward, backward, params, nil)
}

// ExecuteWithOrchestration runs one step and additionally persists
// orchestration parameters visible only to the backward behaviour.
func (p *Process) ExecuteWithOrchestration(
	ctx context.Context, forward ForwardBehaviour, backward BackwardBehaviour,
	params ActivityParameters, orchestration OrchestrationParameters,
) error {
	return p.executeStep(ctx, forward, backward, params, orchestration)
}

// ExecuteForwardOnly runs a step that has no backward behaviour. The process
// header is still created and touched so retention and statistics see the
// process as in-flight, but no compensation record is logged.
func (p *Process) ExecuteForwardOnly(
	ctx context.Context, forward ForwardBehaviour, params ActivityParameters,
) error {
	if forward == nil {
		return NewInvalidStateError("forward behaviour must not be nil")
	}
	if err := p.ensureStarted(ctx); err != nil {
		return err
	}
	p.currentStep++
	if err := p.clog.touchProcess(ctx, p.processID); err != nil {
		return err
	}

	fctx := &ForwardContext{CorrelationID: p.correlationID, Parameters: params, Result: p.result}
	if ferr := invokeForward(forward, fctx); ferr != nil {
		p.lg.Info("forward activity failed",
			zap.String("correlation_id", p.correlationID),
			zap.Int64("process_id", p.processID),
			zap.Int("step", p.currentStep-1),
			zap.Error(ferr))
		return compensateProcess(ctx, p.clog, p.registry, p.correlationID, p.processID,
			p.acceptCompensationFailure, p.onlyCompensateIfSuccessful, p.lg)
	}
	return nil
}

// Finished marks the process SUCCESSFUL, persisting the accumulated result
// and discarding all logged compensation records. The result stays
// retrievable for a retention window after the process itself is gone.
func (p *Process) Finished(ctx context.Context) error {
	if p.processID == processIDNotAssigned {
		return NewInvalidStateError("process has not persisted any step")
	}
	return p.clog.cleanupAfterSuccess(ctx, p.processID, p.result)
}

// Failed marks the process ABANDONED. This is the caller's out-of-band
// give-up signal for failure paths not observed by Execute; the process
// stays visible to getAbandonedProcessDetails until an operator resets it.
func (p *Process) Failed(ctx context.Context) error {
	if p.processID == processIDNotAssigned {
		return NewInvalidStateError("process has not persisted any step")
	}
	return p.clog.setProcessState(ctx, p.processID, StateAbandoned)
}

func (p *Process) executeStep(
	ctx context.Context, forward ForwardBehaviour, backward BackwardBehaviour,
	params ActivityParameters, orchestration OrchestrationParameters,
) error {
	if forward == nil || backward == nil {
		return NewInvalidStateError("forward and backward behaviours must not be nil")
	}

	locator := backward.PersistableName()
	if locator == "" {
		return NewInvalidStateError(
			"backward behaviour has no persistable name; closures are only usable with volatile processes")
	}
	if !p.registry.Contains(locator) {
		return NewCompensationNotResolvedError(locator)
	}

	// Snapshot before anything else, so the logged compensation sees the
	// inputs as they were even if the forward action mutates them.
	snapshot, err := snapshotParameters(params)
	if err != nil {
		return NewParameterSnapshotError(p.correlationID, err)
	}

	if err := p.ensureStarted(ctx); err != nil {
		return err
	}
	stepID := p.currentStep
	p.currentStep++

	var preState ActivityState
	if sb, ok := forward.(StatefulBehaviour); ok {
		preState = sb.PreState()
	}

	if err := p.clog.pushCompensation(ctx, p.processID, stepID, locator, snapshot, orchestration, preState); err != nil {
		return err
	}

	fctx := &ForwardContext{CorrelationID: p.correlationID, Parameters: params, Result: p.result}
	ferr := invokeForward(forward, fctx)
	if ferr == nil {
		// Best effort; the step stays compensatable either way.
		if merr := p.clog.markSuccessful(ctx, p.processID, stepID); merr != nil {
			p.lg.Warn("failed to mark step transaction successful",
				zap.String("correlation_id", p.correlationID),
				zap.Int64("process_id", p.processID),
				zap.Int("step", stepID),
				zap.Error(merr))
		}
		return nil
	}

	p.lg.Info("forward activity failed",
		zap.String("correlation_id", p.correlationID),
		zap.Int64("process_id", p.processID),
		zap.Int("step", stepID),
		zap.String("activity", locator),
		zap.Error(ferr))

	return compensateProcess(ctx, p.clog, p.registry, p.correlationID, p.processID,
		p.acceptCompensationFailure, p.onlyCompensateIfSuccessful, p.lg)
}

func (p *Process) ensureStarted(ctx context.Context) error {
	if p.processID != processIDNotAssigned {
		return nil
	}
	id, err := p.clog.pushProcess(ctx, p.correlationID, p.acceptCompensationFailure)
	if err != nil {
		return err
	}
	p.processID = id
	return nil
}

// compensateProcess walks every logged step of a process in descending
// stepID order and invokes its backward behaviour. Shared by the synchronous
// failure path and background recovery; the two differ only in what they do
// with the returned error.
//
// The returned error is never nil: a fully compensated process yields a
// forward-failure error ("failed but fully compensated"), anything else
// yields a backward-failure error naming the steps that did not compensate.
func compensateProcess(
	ctx context.Context, clog compensator, registry *ActivityRegistry,
	correlationID string, processID int64,
	acceptCompensationFailure, onlyCompensateIfSuccessful bool,
	lg *zap.Logger,
) error {
	if processID == processIDNotAssigned {
		// Nothing was ever persisted, so there is nothing to undo.
		return NewForwardFailedError(correlationID, processID)
	}

	var failed []FailedCompensation

	cbErr := clog.compensate(ctx, processID, func(step *compensationStep) (bool, error) {
		if onlyCompensateIfSuccessful && !step.transactionSuccessful {
			// The forward action never succeeded, there is nothing to undo.
			return true, nil
		}

		behaviour, err := registry.Resolve(step.locator)
		if err != nil {
			failed = append(failed, FailedCompensation{StepID: step.stepID, ActivityName: step.locator})
			return false, err
		}

		bctx := &BackwardContext{
			CorrelationID:            correlationID,
			Parameters:               step.parameters,
			Orchestration:            step.orchestration,
			PreState:                 step.preState,
			TransactionWasSuccessful: step.transactionSuccessful,
		}
		berr := invokeBackward(behaviour, bctx)
		if berr == nil {
			return true, nil
		}

		failed = append(failed, FailedCompensation{StepID: step.stepID, ActivityName: step.locator})
		lg.Debug("compensation attempt failed",
			zap.String("correlation_id", correlationID),
			zap.Int64("process_id", processID),
			zap.Int("step", step.stepID),
			zap.String("activity", step.locator),
			zap.Int("retries", step.retries),
			zap.Error(berr))

		if !acceptCompensationFailure {
			return false, NewBackwardFailedError(correlationID, processID,
				append([]FailedCompensation(nil), failed...), berr)
		}
		return false, nil
	})

	if cbErr == nil && len(failed) == 0 {
		if serr := clog.setProcessState(ctx, processID, StateCompensated); serr != nil {
			return serr
		}
		return NewForwardFailedError(correlationID, processID)
	}

	if serr := clog.setProcessState(ctx, processID, StateCompensationFailed); serr != nil {
		lg.Warn("failed to record compensation failure",
			zap.String("correlation_id", correlationID),
			zap.Int64("process_id", processID),
			zap.Error(serr))
	}
	if cbErr != nil {
		return cbErr
	}
	return NewBackwardFailedError(correlationID, processID, failed, nil)
}

func invokeForward(forward ForwardBehaviour, fctx *ForwardContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forward behaviour panicked: %v", r)
		}
	}()
	return forward.Forward(fctx)
}

func invokeBackward(backward BackwardBehaviour, bctx *BackwardContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backward behaviour panicked: %v", r)
		}
	}()
	return backward.Backward(bctx)
}
