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
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/innovationmech/procman/pkg/workqueue"
)

// Policy regulates how the process manager treats processes over time: how
// long states are retained, when a process is presumed stuck, how often
// recovery runs, and how background work is dispatched.
type Policy struct {
	// MinutesToTrackProcess is the retention window for terminal
	// SUCCESSFUL and COMPENSATED processes before they are purged.
	MinutesToTrackProcess int `mapstructure:"minutes-to-track-process"`

	// MinutesBeforeAssumingProcessStuck is how long a NEW or PROGRESSING
	// process may sit unmodified before recovery assumes its owner died.
	MinutesBeforeAssumingProcessStuck int `mapstructure:"minutes-before-assuming-process-stuck"`

	// SecondsBetweenRecoveryAttempts is the recovery scheduler's tick
	// period.
	SecondsBetweenRecoveryAttempts int `mapstructure:"seconds-between-recovery-attempts"`

	// SecondsBetweenRecompensationAttempts is the minimum quiet time
	// before a COMPENSATION_FAILED process is re-compensated.
	SecondsBetweenRecompensationAttempts int `mapstructure:"seconds-between-recompensation-attempts"`

	// SecondsBetweenLoggingStatistics is the statistics dump period.
	SecondsBetweenLoggingStatistics int `mapstructure:"seconds-between-logging-statistics"`

	// AcceptCompensationFailure is the global default for new processes:
	// when false, any compensation failure aborts the sweep immediately
	// and the process is abandoned by recovery rather than retried.
	AcceptCompensationFailure bool `mapstructure:"accept-compensation-failure"`

	// OnlyCompensateIfTransactionWasSuccessful skips compensation of
	// steps whose forward action never signalled success.
	OnlyCompensateIfTransactionWasSuccessful bool `mapstructure:"only-compensate-if-transaction-was-successful"`

	// AssumeNativeProcessDataFlow selects the structured payload codec;
	// when false all payloads are treated as opaque JSON.
	AssumeNativeProcessDataFlow bool `mapstructure:"assume-native-process-data-flow"`

	// NumberOfRecoveryThreads sizes the background work queue.
	NumberOfRecoveryThreads int `mapstructure:"number-of-recovery-threads"`

	// QueueType selects the work queue dispatch strategy.
	QueueType workqueue.Type `mapstructure:"queue-type"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinutesToTrackProcess:                    60,
		MinutesBeforeAssumingProcessStuck:        10,
		SecondsBetweenRecoveryAttempts:           60,
		SecondsBetweenRecompensationAttempts:     300,
		SecondsBetweenLoggingStatistics:          600,
		AcceptCompensationFailure:                true,
		OnlyCompensateIfTransactionWasSuccessful: true,
		AssumeNativeProcessDataFlow:              true,
		NumberOfRecoveryThreads:                  4,
		QueueType:                                workqueue.TypeMulti,
	}
}

// Validate checks the policy for values that would stall or break the
// scheduler.
func (p Policy) Validate() error {
	if p.MinutesToTrackProcess <= 0 {
		return fmt.Errorf("minutes-to-track-process must be positive, got %d", p.MinutesToTrackProcess)
	}
	if p.MinutesBeforeAssumingProcessStuck <= 0 {
		return fmt.Errorf("minutes-before-assuming-process-stuck must be positive, got %d", p.MinutesBeforeAssumingProcessStuck)
	}
	if p.SecondsBetweenRecoveryAttempts <= 0 {
		return fmt.Errorf("seconds-between-recovery-attempts must be positive, got %d", p.SecondsBetweenRecoveryAttempts)
	}
	if p.SecondsBetweenRecompensationAttempts <= 0 {
		return fmt.Errorf("seconds-between-recompensation-attempts must be positive, got %d", p.SecondsBetweenRecompensationAttempts)
	}
	if p.SecondsBetweenLoggingStatistics <= 0 {
		return fmt.Errorf("seconds-between-logging-statistics must be positive, got %d", p.SecondsBetweenLoggingStatistics)
	}
	if p.NumberOfRecoveryThreads <= 0 {
		return fmt.Errorf("number-of-recovery-threads must be positive, got %d", p.NumberOfRecoveryThreads)
	}
	switch p.QueueType {
	case workqueue.TypeSimple, workqueue.TypeMulti, workqueue.TypeWorkStealing:
	default:
		return fmt.Errorf("unknown queue-type %q", p.QueueType)
	}
	return nil
}

func (p Policy) retentionTime() time.Duration {
	return time.Duration(p.MinutesToTrackProcess) * time.Minute
}

func (p Policy) assumedStuckTime() time.Duration {
	return time.Duration(p.MinutesBeforeAssumingProcessStuck) * time.Minute
}

func (p Policy) recoveryInterval() time.Duration {
	return time.Duration(p.SecondsBetweenRecoveryAttempts) * time.Second
}

func (p Policy) recompensationInterval() time.Duration {
	return time.Duration(p.SecondsBetweenRecompensationAttempts) * time.Second
}

func (p Policy) statisticsInterval() time.Duration {
	return time.Duration(p.SecondsBetweenLoggingStatistics) * time.Second
}

// LoadPolicy reads a Policy from v, filling unset keys with defaults. Keys
// are kebab-case, e.g. "minutes-to-track-process".
func LoadPolicy(v *viper.Viper) (Policy, error) {
	def := DefaultPolicy()
	v.SetDefault("minutes-to-track-process", def.MinutesToTrackProcess)
	v.SetDefault("minutes-before-assuming-process-stuck", def.MinutesBeforeAssumingProcessStuck)
	v.SetDefault("seconds-between-recovery-attempts", def.SecondsBetweenRecoveryAttempts)
	v.SetDefault("seconds-between-recompensation-attempts", def.SecondsBetweenRecompensationAttempts)
	v.SetDefault("seconds-between-logging-statistics", def.SecondsBetweenLoggingStatistics)
	v.SetDefault("accept-compensation-failure", def.AcceptCompensationFailure)
	v.SetDefault("only-compensate-if-transaction-was-successful", def.OnlyCompensateIfTransactionWasSuccessful)
	v.SetDefault("assume-native-process-data-flow", def.AssumeNativeProcessDataFlow)
	v.SetDefault("number-of-recovery-threads", def.NumberOfRecoveryThreads)
	v.SetDefault("queue-type", string(def.QueueType))

	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("failed to load process management policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
