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
	"encoding/json"
	"fmt"
)

// Payload is the uniform contract over every blob the compensation log
// persists: activity parameters, orchestration parameters, pre-states and
// process results. The log is agnostic to the concrete encoding; the two
// implementations (native structured values, foreign pass-through JSON) are
// selected by policy, not by type switches at call sites.
type Payload interface {
	// IsNative reports whether the payload carries structured in-memory
	// values (true) or an opaque serialized form (false).
	IsNative() bool

	// IsEmpty reports whether there is nothing to persist.
	IsEmpty() bool

	// JSON returns the serialized form written to the log.
	JSON() (string, error)
}

// ActivityParameters are the inputs to a step's forward behaviour. The
// backward behaviour receives them too, snapshotted before the forward
// action ran.
type ActivityParameters interface {
	Payload
}

// NativeParameters is the structured parameter payload for in-process data
// flows.
type NativeParameters map[string]interface{}

// IsNative implements Payload.
func (p NativeParameters) IsNative() bool { return true }

// IsEmpty implements Payload.
func (p NativeParameters) IsEmpty() bool { return len(p) == 0 }

// JSON implements Payload.
func (p NativeParameters) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize native parameters: %w", err)
	}
	return string(data), nil
}

// Snapshot returns a deep copy of the parameters via a JSON round trip, so
// the compensation log sees inputs as they were before the forward action
// mutated anything.
func (p NativeParameters) Snapshot() (NativeParameters, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var copied NativeParameters
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	if copied == nil {
		copied = NativeParameters{}
	}
	return copied, nil
}

// ForeignParameters is an opaque, already-serialized parameter payload for
// callers that move non-native data through a process.
type ForeignParameters struct {
	raw string
}

// NewForeignParameters wraps an already-serialized JSON document.
func NewForeignParameters(raw string) ForeignParameters {
	return ForeignParameters{raw: raw}
}

// IsNative implements Payload.
func (p ForeignParameters) IsNative() bool { return false }

// IsEmpty implements Payload.
func (p ForeignParameters) IsEmpty() bool { return len(p.raw) == 0 }

// JSON implements Payload.
func (p ForeignParameters) JSON() (string, error) { return p.raw, nil }

// snapshotParameters deep-copies params so later mutation by the forward
// action cannot leak into the logged compensation record. Foreign payloads
// are immutable strings and are returned as-is.
func snapshotParameters(params ActivityParameters) (ActivityParameters, error) {
	switch p := params.(type) {
	case nil:
		return NativeParameters{}, nil
	case NativeParameters:
		return p.Snapshot()
	default:
		if p.IsNative() {
			raw, err := p.JSON()
			if err != nil {
				return nil, err
			}
			var copied NativeParameters
			if err := json.Unmarshal([]byte(raw), &copied); err != nil {
				return nil, err
			}
			return copied, nil
		}
		return params, nil
	}
}

// OrchestrationParameters is side-channel data for the backward behaviour
// that is not meant for the forward behaviour, e.g. routing hints needed to
// undo work in an external system.
type OrchestrationParameters map[string]string

// IsNative implements Payload.
func (p OrchestrationParameters) IsNative() bool { return true }

// IsEmpty implements Payload.
func (p OrchestrationParameters) IsEmpty() bool { return len(p) == 0 }

// JSON implements Payload.
func (p OrchestrationParameters) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize orchestration parameters: %w", err)
	}
	return string(data), nil
}

// ActivityState is a caller-supplied snapshot of external state taken before
// a forward action acted, letting a compensation restore exact prior values.
type ActivityState interface {
	Payload
}

// NativeState is the structured pre-state payload.
type NativeState map[string]interface{}

// IsNative implements Payload.
func (s NativeState) IsNative() bool { return true }

// IsEmpty implements Payload.
func (s NativeState) IsEmpty() bool { return len(s) == 0 }

// JSON implements Payload.
func (s NativeState) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to serialize native state: %w", err)
	}
	return string(data), nil
}

// ForeignState is an opaque, already-serialized pre-state payload.
type ForeignState struct {
	raw string
}

// NewForeignState wraps an already-serialized JSON document.
func NewForeignState(raw string) ForeignState {
	return ForeignState{raw: raw}
}

// IsNative implements Payload.
func (s ForeignState) IsNative() bool { return false }

// IsEmpty implements Payload.
func (s ForeignState) IsEmpty() bool { return len(s.raw) == 0 }

// JSON implements Payload.
func (s ForeignState) JSON() (string, error) { return s.raw, nil }

// ProcessResult accumulates values across a process's steps. It is owned by
// exactly one process and is never accessed concurrently, since a single
// process's steps never run in parallel. Persisted only when the process
// reaches SUCCESSFUL.
type ProcessResult interface {
	Payload

	// Add appends values to the accumulated sequence.
	Add(values ...interface{})

	// RemoveAt removes the value at the given index. Out-of-range
	// indexes are ignored.
	RemoveAt(index int)

	// Values returns the accumulated sequence in order.
	Values() []interface{}
}

// NativeResult is the structured result accumulator.
type NativeResult struct {
	values []interface{}
}

// NewNativeResult returns an empty structured result accumulator.
func NewNativeResult() *NativeResult {
	return &NativeResult{}
}

// IsNative implements Payload.
func (r *NativeResult) IsNative() bool { return true }

// IsEmpty implements Payload.
func (r *NativeResult) IsEmpty() bool { return len(r.values) == 0 }

// JSON implements Payload.
func (r *NativeResult) JSON() (string, error) {
	data, err := json.Marshal(r.values)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

// Add implements ProcessResult.
func (r *NativeResult) Add(values ...interface{}) {
	r.values = append(r.values, values...)
}

// RemoveAt implements ProcessResult.
func (r *NativeResult) RemoveAt(index int) {
	if index < 0 || index >= len(r.values) {
		return
	}
	r.values = append(r.values[:index], r.values[index+1:]...)
}

// Values implements ProcessResult.
func (r *NativeResult) Values() []interface{} {
	return r.values
}

// ForeignResult accumulates already-serialized JSON documents.
type ForeignResult struct {
	values []json.RawMessage
}

// NewForeignResult returns an empty pass-through result accumulator.
func NewForeignResult() *ForeignResult {
	return &ForeignResult{}
}

// IsNative implements Payload.
func (r *ForeignResult) IsNative() bool { return false }

// IsEmpty implements Payload.
func (r *ForeignResult) IsEmpty() bool { return len(r.values) == 0 }

// JSON implements Payload.
func (r *ForeignResult) JSON() (string, error) {
	data, err := json.Marshal(r.values)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

// Add implements ProcessResult. Non-string values are serialized first;
// strings are assumed to already be JSON documents.
func (r *ForeignResult) Add(values ...interface{}) {
	for _, v := range values {
		switch val := v.(type) {
		case json.RawMessage:
			r.values = append(r.values, val)
		case string:
			r.values = append(r.values, json.RawMessage(val))
		default:
			data, err := json.Marshal(val)
			if err != nil {
				continue
			}
			r.values = append(r.values, data)
		}
	}
}

// RemoveAt implements ProcessResult.
func (r *ForeignResult) RemoveAt(index int) {
	if index < 0 || index >= len(r.values) {
		return
	}
	r.values = append(r.values[:index], r.values[index+1:]...)
}

// Values implements ProcessResult.
func (r *ForeignResult) Values() []interface{} {
	out := make([]interface{}, len(r.values))
	for i, v := range r.values {
		out[i] = v
	}
	return out
}

// payloadCodec reconstructs payloads read back from the compensation log.
// One codec per log, fixed by the assume-native-process-data-flow policy.
type payloadCodec struct {
	native bool
}

func (c payloadCodec) newResult() ProcessResult {
	if c.native {
		return NewNativeResult()
	}
	return NewForeignResult()
}

func (c payloadCodec) parametersFromJSON(raw string) (ActivityParameters, error) {
	if raw == "" {
		if c.native {
			return NativeParameters{}, nil
		}
		return NewForeignParameters(""), nil
	}
	if c.native {
		var p NativeParameters
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to reconstruct activity parameters: %w", err)
		}
		if p == nil {
			p = NativeParameters{}
		}
		return p, nil
	}
	return NewForeignParameters(raw), nil
}

func (c payloadCodec) stateFromJSON(raw string) (ActivityState, error) {
	if c.native {
		var s NativeState
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to reconstruct activity state: %w", err)
		}
		return s, nil
	}
	return NewForeignState(raw), nil
}

func (c payloadCodec) resultFromJSON(raw string) (ProcessResult, error) {
	if raw == "" {
		return c.newResult(), nil
	}
	if c.native {
		var values []interface{}
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("failed to reconstruct result: %w", err)
		}
		return &NativeResult{values: values}, nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to reconstruct result: %w", err)
	}
	return &ForeignResult{values: values}, nil
}
