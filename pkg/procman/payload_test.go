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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeParametersSnapshotIsDeepCopy(t *testing.T) {
	original := NativeParameters{
		"amount": "100",
		"items":  []interface{}{"a", "b"},
	}
	snapshot, err := original.Snapshot()
	require.NoError(t, err)

	original["amount"] = "200"
	original["items"].([]interface{})[0] = "z"

	assert.Equal(t, "100", snapshot["amount"])
	assert.Equal(t, "a", snapshot["items"].([]interface{})[0])
}

func TestSnapshotParametersNilAndForeign(t *testing.T) {
	snap, err := snapshotParameters(nil)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.True(t, snap.IsNative())

	foreign := NewForeignParameters(`{"k":"v"}`)
	snap, err = snapshotParameters(foreign)
	require.NoError(t, err)
	assert.Equal(t, foreign, snap, "foreign payloads are immutable and pass through")
}

func TestNativeResultAccumulates(t *testing.T) {
	r := NewNativeResult()
	assert.True(t, r.IsEmpty())

	r.Add("first", "second")
	r.Add(3)
	assert.Equal(t, []interface{}{"first", "second", 3}, r.Values())

	r.RemoveAt(1)
	assert.Equal(t, []interface{}{"first", 3}, r.Values())

	r.RemoveAt(17)
	r.RemoveAt(-1)
	assert.Len(t, r.Values(), 2)

	raw, err := r.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["first",3]`, raw)
}

func TestForeignResultPassesJSONThrough(t *testing.T) {
	r := NewForeignResult()
	r.Add(`{"ticket":"T-1"}`)
	r.Add(json.RawMessage(`{"ticket":"T-2"}`))
	r.Add(map[string]string{"ticket": "T-3"})

	raw, err := r.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ticket":"T-1"},{"ticket":"T-2"},{"ticket":"T-3"}]`, raw)
}

func TestPayloadCodecNative(t *testing.T) {
	codec := payloadCodec{native: true}

	params, err := codec.parametersFromJSON(`{"amount":"100"}`)
	require.NoError(t, err)
	assert.Equal(t, "100", params.(NativeParameters)["amount"])

	params, err = codec.parametersFromJSON("")
	require.NoError(t, err)
	assert.True(t, params.IsEmpty())
	assert.True(t, params.IsNative())

	result, err := codec.resultFromJSON(`["a","b"]`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, result.Values())

	result, err = codec.resultFromJSON("")
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())

	_, err = codec.parametersFromJSON("{not json")
	assert.Error(t, err)
}

func TestPayloadCodecForeign(t *testing.T) {
	codec := payloadCodec{native: false}

	params, err := codec.parametersFromJSON(`{"anything":1}`)
	require.NoError(t, err)
	assert.False(t, params.IsNative())
	raw, err := params.JSON()
	require.NoError(t, err)
	assert.Equal(t, `{"anything":1}`, raw)

	result, err := codec.resultFromJSON(`[{"a":1}]`)
	require.NoError(t, err)
	assert.False(t, result.IsNative())
	assert.Len(t, result.Values(), 1)
}

func TestOrchestrationParametersJSON(t *testing.T) {
	p := OrchestrationParameters{"queue": "refunds"}
	raw, err := p.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"queue":"refunds"}`, raw)
	assert.False(t, p.IsEmpty())
	assert.True(t, OrchestrationParameters{}.IsEmpty())
}
