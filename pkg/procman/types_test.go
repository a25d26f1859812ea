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
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStateString(t *testing.T) {
	cases := map[ProcessState]string{
		StateNew:                "NEW",
		StateProgressing:        "PROGRESSING",
		StateSuccessful:         "SUCCESSFUL",
		StateCompensated:        "COMPENSATED",
		StateCompensationFailed: "COMPENSATION_FAILED",
		StateAbandoned:          "ABANDONED",
		ProcessState(42):        "UNKNOWN(42)",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestProcessStateFromInt(t *testing.T) {
	for i := 0; i < numProcessStates; i++ {
		state, err := ProcessStateFromInt(i)
		require.NoError(t, err)
		assert.Equal(t, i, int(state))
	}
	_, err := ProcessStateFromInt(-1)
	assert.Error(t, err)
	_, err = ProcessStateFromInt(numProcessStates)
	assert.Error(t, err)
}

func TestProcessStateTransitions(t *testing.T) {
	allowed := []struct{ from, to ProcessState }{
		{StateNew, StateProgressing},
		{StateProgressing, StateSuccessful},
		{StateProgressing, StateCompensated},
		{StateProgressing, StateCompensationFailed},
		{StateCompensationFailed, StateCompensated},
		{StateCompensationFailed, StateAbandoned},
		{StateNew, StateAbandoned},
		{StateProgressing, StateAbandoned},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s should reach %s", tc.from, tc.to)
	}

	denied := []struct{ from, to ProcessState }{
		{StateNew, StateSuccessful},
		{StateNew, StateCompensated},
		{StateSuccessful, StateProgressing},
		{StateSuccessful, StateAbandoned},
		{StateCompensated, StateAbandoned},
		{StateAbandoned, StateProgressing},
		{StateCompensationFailed, StateSuccessful},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s should not reach %s", tc.from, tc.to)
	}
}

func TestProcessStateLatticeProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	genState := gen.IntRange(0, numProcessStates-1).
		Map(func(i int) ProcessState { return ProcessState(i) })

	properties.Property("terminal states admit no transition except none", prop.ForAll(
		func(from, to ProcessState) bool {
			if !from.IsTerminal() {
				return true
			}
			return !from.CanTransitionTo(to)
		},
		genState, genState,
	))

	properties.Property("abandonment is reachable from every non-terminal state", prop.ForAll(
		func(from ProcessState) bool {
			if from.IsTerminal() {
				return true
			}
			return from.CanTransitionTo(StateAbandoned)
		},
		genState,
	))

	properties.Property("no state transitions to itself", prop.ForAll(
		func(s ProcessState) bool { return !s.CanTransitionTo(s) },
		genState,
	))

	properties.Property("ordinals survive a persistence round trip", prop.ForAll(
		func(s ProcessState) bool {
			back, err := ProcessStateFromInt(int(s))
			return err == nil && back == s
		},
		genState,
	))

	properties.TestingRun(t)
}
