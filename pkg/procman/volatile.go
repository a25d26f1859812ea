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
	"go.uber.org/zap"
)

// volatileStep is one executed activity held on the in-process compensation
// stack.
type volatileStep struct {
	backward   BackwardBehaviour
	parameters ActivityParameters
	successful bool
}

// VolatileProcess drives one saga instance entirely in memory. It follows
// the same execution and compensation protocol as Process but persists
// nothing: compensation records live on an in-process stack and die with the
// goroutine. Use it when the caller stays synchronously present for the whole
// operation and crash recovery is not needed.
//
// Because nothing is ever reconstructed from storage, backward behaviours
// here may be arbitrary closures (BackwardFunc).
type VolatileProcess struct {
	correlationID             string
	acceptCompensationFailure bool

	steps  []*volatileStep
	result ProcessResult
	lg     *zap.Logger
}

// CorrelationID returns the caller-supplied business key of this process.
func (p *VolatileProcess) CorrelationID() string { return p.correlationID }

// Result returns the process-wide result accumulator, shared by all steps.
func (p *VolatileProcess) Result() ProcessResult { return p.result }

// Execute runs one step. On forward failure the whole stack, including the
// step that just failed, is compensated in reverse order.
func (p *VolatileProcess) Execute(
	forward ForwardBehaviour, backward BackwardBehaviour, params ActivityParameters,
) error {
	if forward == nil || backward == nil {
		return NewInvalidStateError("forward and backward behaviours must not be nil")
	}

	snapshot, err := snapshotParameters(params)
	if err != nil {
		return NewParameterSnapshotError(p.correlationID, err)
	}

	step := &volatileStep{backward: backward, parameters: snapshot}
	p.steps = append(p.steps, step)

	fctx := &ForwardContext{CorrelationID: p.correlationID, Parameters: params, Result: p.result}
	if ferr := invokeForward(forward, fctx); ferr != nil {
		p.lg.Info("forward activity failed",
			zap.String("correlation_id", p.correlationID),
			zap.Int("step", len(p.steps)-1),
			zap.Error(ferr))
		return p.compensate()
	}
	step.successful = true
	return nil
}

// ExecuteActivity runs one step whose forward and backward behaviours are
// bundled in a single activity.
func (p *VolatileProcess) ExecuteActivity(activity Activity, params ActivityParameters) error {
	if activity == nil {
		return NewInvalidStateError("activity must not be nil")
	}
	return p.Execute(activity, activity, params)
}

func (p *VolatileProcess) compensate() error {
	var failed []FailedCompensation

	for len(p.steps) > 0 {
		stepID := len(p.steps) - 1
		step := p.steps[stepID]
		p.steps = p.steps[:stepID]

		bctx := &BackwardContext{
			CorrelationID:            p.correlationID,
			Parameters:               step.parameters,
			TransactionWasSuccessful: step.successful,
		}
		berr := invokeBackward(step.backward, bctx)
		if berr == nil {
			continue
		}

		failed = append(failed, FailedCompensation{StepID: stepID, ActivityName: step.backward.PersistableName()})
		if !p.acceptCompensationFailure {
			return NewBackwardFailedError(p.correlationID, processIDNotAssigned,
				append([]FailedCompensation(nil), failed...), berr)
		}
		p.lg.Warn("failed to compensate step, continuing",
			zap.String("correlation_id", p.correlationID),
			zap.Int("step", stepID),
			zap.Error(berr))
	}

	if len(failed) == 0 {
		return NewForwardFailedError(p.correlationID, processIDNotAssigned)
	}
	return NewBackwardFailedError(p.correlationID, processIDNotAssigned, failed, nil)
}
