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
	"time"
)

// StepDetails describes one still-logged compensation record of a process,
// for reporting.
type StepDetails struct {
	StepID   int           `json:"step_id"`
	Retries  int           `json:"retries"`
	PreState ActivityState `json:"pre_state,omitempty"`
}

// ProcessDetails describes one process header and its remaining steps, for
// operator inspection and reporting. It carries no behaviour.
type ProcessDetails struct {
	CorrelationID string        `json:"correlation_id"`
	ProcessID     int64         `json:"process_id"`
	State         ProcessState  `json:"state"`
	Created       time.Time     `json:"created"`
	Modified      time.Time     `json:"modified"`
	Steps         []StepDetails `json:"steps,omitempty"`
}

// JSON renders the details as a JSON document.
func (d *ProcessDetails) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *ProcessDetails) String() string {
	s, err := d.JSON()
	if err != nil {
		return "ProcessDetails{" + d.CorrelationID + "}"
	}
	return s
}
