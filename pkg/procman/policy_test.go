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
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/procman/pkg/workqueue"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 60*time.Minute, p.retentionTime())
	assert.Equal(t, 10*time.Minute, p.assumedStuckTime())
	assert.Equal(t, 60*time.Second, p.recoveryInterval())
	assert.Equal(t, 300*time.Second, p.recompensationInterval())
	assert.Equal(t, 600*time.Second, p.statisticsInterval())
	assert.Equal(t, workqueue.TypeMulti, p.QueueType)
}

func TestPolicyValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero retention", func(p *Policy) { p.MinutesToTrackProcess = 0 }},
		{"negative stuck threshold", func(p *Policy) { p.MinutesBeforeAssumingProcessStuck = -1 }},
		{"zero recovery interval", func(p *Policy) { p.SecondsBetweenRecoveryAttempts = 0 }},
		{"zero recompensation interval", func(p *Policy) { p.SecondsBetweenRecompensationAttempts = 0 }},
		{"zero statistics interval", func(p *Policy) { p.SecondsBetweenLoggingStatistics = 0 }},
		{"zero recovery threads", func(p *Policy) { p.NumberOfRecoveryThreads = 0 }},
		{"unknown queue type", func(p *Policy) { p.QueueType = workqueue.Type("bogus") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy(viper.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyOverrides(t *testing.T) {
	v := viper.New()
	v.Set("minutes-to-track-process", 120)
	v.Set("accept-compensation-failure", false)
	v.Set("queue-type", "work-stealing")
	v.Set("number-of-recovery-threads", 8)

	p, err := LoadPolicy(v)
	require.NoError(t, err)
	assert.Equal(t, 120, p.MinutesToTrackProcess)
	assert.False(t, p.AcceptCompensationFailure)
	assert.Equal(t, workqueue.TypeWorkStealing, p.QueueType)
	assert.Equal(t, 8, p.NumberOfRecoveryThreads)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultPolicy().SecondsBetweenRecoveryAttempts, p.SecondsBetweenRecoveryAttempts)
}

func TestLoadPolicyRejectsInvalidConfiguration(t *testing.T) {
	v := viper.New()
	v.Set("seconds-between-recovery-attempts", -5)
	_, err := LoadPolicy(v)
	assert.Error(t, err)
}
