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

// ForwardContext is handed to a forward behaviour when its step executes.
type ForwardContext struct {
	// CorrelationID identifies the owning process's business request.
	CorrelationID string

	// Parameters are the live (not snapshotted) activity parameters; a
	// forward behaviour may mutate native parameters, the logged
	// compensation record still sees the pre-mutation snapshot.
	Parameters ActivityParameters

	// Result is the process-wide result accumulator, shared by every
	// step of the process.
	Result ProcessResult
}

// BackwardContext is handed to a backward behaviour when its step is
// compensated, either synchronously or during background recovery.
type BackwardContext struct {
	// CorrelationID identifies the owning process's business request.
	CorrelationID string

	// Parameters are the snapshot taken before the forward action ran.
	Parameters ActivityParameters

	// Orchestration is optional side-channel data for the backward
	// behaviour, never exposed to the forward behaviour. Nil when the
	// step logged none.
	Orchestration OrchestrationParameters

	// PreState is the optional snapshot of external state captured
	// before the forward action acted. Nil when the step logged none.
	PreState ActivityState

	// TransactionWasSuccessful reports whether the step's forward action
	// signalled success before the process failed further on.
	TransactionWasSuccessful bool
}

// ForwardBehaviour is the "happy path" half of an activity. A nil return
// signals success; any error (or panic) is a forward failure and triggers
// the compensation protocol. Forward errors are never propagated to the
// caller as-is.
type ForwardBehaviour interface {
	Forward(fctx *ForwardContext) error
}

// BackwardBehaviour is the compensation half of an activity. A nil return
// signals a successful undo, after which the step is popped from the log; an
// error leaves the step logged for later recovery.
//
// Backward behaviours invoked during recovery are reconstructed from the
// persisted locator, so implementations used with persisted processes must
// be registered (see ActivityRegistry) and must report their registered name
// through PersistableName. Compensation may be invoked more than once for
// the same step by racing coordinators; implementations must be idempotent.
type BackwardBehaviour interface {
	Backward(bctx *BackwardContext) error

	// PersistableName returns the registry locator under which this
	// behaviour's constructor was registered. An empty name marks the
	// behaviour as non-persistable (closures are fine for volatile
	// processes only).
	PersistableName() string
}

// Activity bundles a forward behaviour with its compensation.
type Activity interface {
	ForwardBehaviour
	BackwardBehaviour
}

// StatefulBehaviour is optionally implemented by forward behaviours whose
// steps want a pre-state snapshot persisted alongside the compensation
// record.
type StatefulBehaviour interface {
	// PreState returns a snapshot of the external state the forward
	// action is about to modify. Called before the forward action runs.
	PreState() ActivityState
}

// ForwardFunc adapts a closure to ForwardBehaviour.
type ForwardFunc func(fctx *ForwardContext) error

// Forward implements ForwardBehaviour.
func (f ForwardFunc) Forward(fctx *ForwardContext) error { return f(fctx) }

// BackwardFunc adapts a closure to BackwardBehaviour. Closures have no
// persistable name and are rejected by persisted processes; use them with
// volatile processes.
type BackwardFunc func(bctx *BackwardContext) error

// Backward implements BackwardBehaviour.
func (f BackwardFunc) Backward(bctx *BackwardContext) error { return f(bctx) }

// PersistableName implements BackwardBehaviour; closures are anonymous.
func (f BackwardFunc) PersistableName() string { return "" }
