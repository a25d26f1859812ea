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

import "fmt"

// ProcessState represents the lifecycle state of a process. The integer
// ordinals are persisted to the compensation log and must never be
// renumbered.
type ProcessState int

const (
	// StateNew indicates the process header exists but no step has run yet.
	StateNew ProcessState = iota

	// StateProgressing indicates at least one step has been logged and the
	// process is (presumed) executing.
	StateProgressing

	// StateSuccessful indicates the process finished and its result was
	// persisted. Retained for a policy-configured window, then purged.
	StateSuccessful

	// StateCompensated indicates a forward failure occurred and every
	// logged compensation succeeded.
	StateCompensated

	// StateCompensationFailed indicates at least one compensation failed;
	// recovery may retry unless policy forbids it.
	StateCompensationFailed

	// StateAbandoned indicates automated recovery gave up. Terminal and
	// operator-visible; never purged automatically.
	StateAbandoned
)

// numProcessStates is the number of persisted process states.
const numProcessStates = 6

// String returns the persisted-log spelling of the state.
func (s ProcessState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateProgressing:
		return "PROGRESSING"
	case StateSuccessful:
		return "SUCCESSFUL"
	case StateCompensated:
		return "COMPENSATED"
	case StateCompensationFailed:
		return "COMPENSATION_FAILED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ProcessStateFromInt converts a persisted ordinal back into a ProcessState.
func ProcessStateFromInt(i int) (ProcessState, error) {
	if i < 0 || i >= numProcessStates {
		return 0, fmt.Errorf("no process state with ordinal %d", i)
	}
	return ProcessState(i), nil
}

// IsTerminal reports whether no further automatic transition is possible.
// SUCCESSFUL and COMPENSATED are terminal but purged after retention;
// ABANDONED is terminal and kept for operator inspection.
func (s ProcessState) IsTerminal() bool {
	return s == StateSuccessful || s == StateCompensated || s == StateAbandoned
}

// CanTransitionTo reports whether moving from s to next respects the state
// lattice:
//
//	NEW → PROGRESSING → {SUCCESSFUL | COMPENSATED | COMPENSATION_FAILED}
//	COMPENSATION_FAILED → {COMPENSATED | ABANDONED}
//
// plus abandonment from any non-terminal state.
func (s ProcessState) CanTransitionTo(next ProcessState) bool {
	if next == StateAbandoned {
		return !s.IsTerminal()
	}
	switch s {
	case StateNew:
		return next == StateProgressing
	case StateProgressing:
		return next == StateSuccessful || next == StateCompensated || next == StateCompensationFailed
	case StateCompensationFailed:
		return next == StateCompensated
	default:
		return false
	}
}
