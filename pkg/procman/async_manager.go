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
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/procman/pkg/logger"
	"github.com/innovationmech/procman/pkg/workqueue"
)

// recoveryLog is the scheduler-facing slice of the durable log.
type recoveryLog interface {
	compensator

	recover(ctx context.Context, cb recoverCallback) error
	remove(ctx context.Context, correlationID string, processID int64) error
	abandon(ctx context.Context, correlationID string, processID int64) error
	countProcessSteps(ctx context.Context, processID int64) (int, error)
	dumpStatistics(ctx context.Context)
}

// tickStats accumulates what one recovery scan observed and dispatched,
// indexed by the state the process was seen in.
type tickStats struct {
	observed  int
	recovered [numProcessStates]int
	removed   [numProcessStates]int
	abandoned [numProcessStates]int
}

func (s *tickStats) any() bool {
	for i := 0; i < numProcessStates; i++ {
		if s.recovered[i] > 0 || s.removed[i] > 0 || s.abandoned[i] > 0 {
			return true
		}
	}
	return false
}

// AsynchronousManager owns the background half of the process manager: a
// timer-driven recovery scheduler sweeping stuck, failed and retired
// processes, and periodic statistics logging. Remediation work is dispatched
// onto a worker queue, never run inline, so a slow compensation cannot stall
// the scan.
//
// Multiple coordinator instances may run recovery against the same log;
// nothing prevents two of them racing on the same process, which is why
// backward behaviours must be idempotent.
type AsynchronousManager struct {
	clog     recoveryLog
	registry *ActivityRegistry
	policy   Policy
	queue    workqueue.WorkQueue
	metrics  *Metrics
	lg       *zap.Logger

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// justStarted makes the first tick lenient towards COMPENSATION_FAILED
	// processes: each gets one re-compensation attempt regardless of
	// retention, since it may simply not have been retried since restart.
	// Only the scheduler goroutine touches it.
	justStarted bool
}

// NewAsynchronousManager builds the background recovery manager. metrics may
// be nil.
func NewAsynchronousManager(
	db *sql.DB, dialect Dialect, registry *ActivityRegistry, policy Policy, metrics *Metrics,
) (*AsynchronousManager, error) {
	if db == nil || dialect == nil || registry == nil {
		return nil, fmt.Errorf("db, dialect and registry must not be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	lg := logger.Named("procman.recovery")
	queue, err := workqueue.New(policy.QueueType, policy.NumberOfRecoveryThreads, lg)
	if err != nil {
		return nil, err
	}
	return &AsynchronousManager{
		clog:        newPersistentLog(db, dialect, policy.AssumeNativeProcessDataFlow, lg),
		registry:    registry,
		policy:      policy,
		queue:       queue,
		metrics:     metrics,
		lg:          lg,
		justStarted: true,
	}, nil
}

// Start launches the worker queue and the scheduler goroutine. Starting an
// already started manager is an error. A stopped manager may be started
// again; worker queues are single-use, so a fresh one is built on restart.
func (m *AsynchronousManager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("asynchronous manager already started")
	}
	if m.queue == nil {
		queue, err := workqueue.New(m.policy.QueueType, m.policy.NumberOfRecoveryThreads, m.lg)
		if err != nil {
			m.started.Store(false)
			return err
		}
		m.queue = queue
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.queue.Start()
	go m.run()

	m.lg.Info("background recovery started",
		zap.Duration("recovery_interval", m.policy.recoveryInterval()),
		zap.Duration("statistics_interval", m.policy.statisticsInterval()),
		zap.String("queue_type", string(m.policy.QueueType)),
		zap.Int("workers", m.policy.NumberOfRecoveryThreads))
	return nil
}

// Stop halts the scheduler and the worker queue. It blocks until the
// scheduler goroutine has exited and queued tasks have drained.
func (m *AsynchronousManager) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.queue.Stop()
	m.queue = nil
	m.lg.Info("background recovery stopped")
}

func (m *AsynchronousManager) run() {
	defer close(m.doneCh)

	recoverTicker := time.NewTicker(m.policy.recoveryInterval())
	defer recoverTicker.Stop()
	statsTicker := time.NewTicker(m.policy.statisticsInterval())
	defer statsTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-recoverTicker.C:
			m.recoverOnce(context.Background())
		case <-statsTicker.C:
			m.clog.dumpStatistics(context.Background())
		}
	}
}

// recoverOnce is one scheduler tick: throttle on backlog, scan all process
// headers, dispatch remediation, report.
func (m *AsynchronousManager) recoverOnce(ctx context.Context) {
	if !m.awaitQueueDrained() {
		m.lg.Warn("postponing recovery to catch up",
			zap.Int("queue_size", m.queue.Size()))
		m.metrics.tickSkipped()
		return
	}

	var stats tickStats
	if err := m.clog.recover(ctx, func(h *processHeader) {
		stats.observed++
		m.classify(h, &stats)
	}); err != nil {
		m.lg.Info("scheduled recovery failed", zap.Error(err))
		return
	}

	// Every COMPENSATION_FAILED process has now been offered at least one
	// retry since startup.
	m.justStarted = false

	m.metrics.tickCompleted(stats.observed, m.queue.Size())
	m.reportTick(&stats)
}

// awaitQueueDrained waits in one-second increments, for at most two-thirds
// of a tick period, for the previous tick's backlog to drain. It reports
// false if backlog remains, in which case the tick should be skipped rather
// than pile on.
func (m *AsynchronousManager) awaitQueueDrained() bool {
	waitLeft := m.policy.recoveryInterval() * 2 / 3
	for m.queue.Size() > 0 && waitLeft > 0 {
		m.lg.Debug("background workers not yet ready, delaying",
			zap.Int("queue_size", m.queue.Size()))
		select {
		case <-m.stopCh:
			return false
		case <-time.After(time.Second):
		}
		waitLeft -= time.Second
	}
	return m.queue.Size() == 0
}

// classify routes one process header to its remediation, if any. Staleness
// is always measured against the storage tier's clock carried in the header.
func (m *AsynchronousManager) classify(h *processHeader, stats *tickStats) {
	retentionCutoff := h.serverNow.Add(-m.policy.retentionTime())
	stuckCutoff := h.serverNow.Add(-m.policy.assumedStuckTime())
	recompensationCutoff := h.serverNow.Add(-m.policy.recompensationInterval())

	switch h.state {
	case StateNew:
		// No steps exist yet, so there is nothing to compensate.
		if h.modified.Before(stuckCutoff) {
			stats.removed[h.state]++
			m.dispatchRemove(h, "stuck")
		}

	case StateProgressing:
		if h.modified.Before(stuckCutoff) {
			stats.recovered[h.state]++
			m.dispatchCompensate(h)
		}

	case StateSuccessful, StateCompensated:
		if h.modified.Before(retentionCutoff) {
			stats.removed[h.state]++
			m.dispatchRemove(h, "retired")
		}

	case StateCompensationFailed:
		// A process that forbids re-compensation fails hard right away.
		// Otherwise it gets re-compensated until past retention, with
		// one guaranteed attempt after a restart.
		if !h.acceptCompensationFailure ||
			(!m.justStarted && h.modified.Before(retentionCutoff)) {
			stats.abandoned[h.state]++
			m.dispatchAbandonOrSettle(h)
		} else if h.modified.Before(recompensationCutoff) {
			stats.recovered[h.state]++
			m.dispatchCompensate(h)
		}

	case StateAbandoned:
		// Operator territory, never touched automatically.
	}
}

func (m *AsynchronousManager) dispatchRemove(h *processHeader, reason string) {
	correlationID, processID, state := h.correlationID, h.processID, h.state
	m.metrics.actionDispatched("remove")
	accepted := m.queue.Execute(func() {
		m.lg.Debug("removing process",
			zap.String("reason", reason),
			zap.String("correlation_id", correlationID),
			zap.Int64("process_id", processID),
			zap.Stringer("state", state))
		if err := m.clog.remove(context.Background(), correlationID, processID); err != nil {
			m.lg.Info("failed to remove process",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID),
				zap.Error(err))
		}
	})
	if !accepted {
		m.warnTaskRejected("remove", correlationID, processID)
	}
}

func (m *AsynchronousManager) dispatchCompensate(h *processHeader) {
	correlationID, processID := h.correlationID, h.processID
	accept := h.acceptCompensationFailure
	m.metrics.actionDispatched("compensate")
	accepted := m.queue.Execute(func() {
		// There is no caller to propagate to; the sweep's outcome is
		// only logged. A forward-failure error means everything
		// compensated cleanly.
		err := compensateProcess(context.Background(), m.clog, m.registry,
			correlationID, processID, accept,
			m.policy.OnlyCompensateIfTransactionWasSuccessful, m.lg)
		switch {
		case IsForwardFailed(err):
			m.lg.Debug("process fully compensated",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID))
		default:
			m.lg.Info("background compensation incomplete",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID),
				zap.Error(err))
		}
	})
	if !accepted {
		m.warnTaskRejected("compensate", correlationID, processID)
	}
}

// dispatchAbandonOrSettle abandons a COMPENSATION_FAILED process that still
// has steps pending; when a racing coordinator already cleared them, the
// process is marked COMPENSATED instead.
func (m *AsynchronousManager) dispatchAbandonOrSettle(h *processHeader) {
	correlationID, processID := h.correlationID, h.processID
	accept := h.acceptCompensationFailure
	m.metrics.actionDispatched("abandon")
	accepted := m.queue.Execute(func() {
		ctx := context.Background()
		n, err := m.clog.countProcessSteps(ctx, processID)
		if err != nil {
			m.lg.Info("failed to inspect process for abandonment",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID),
				zap.Error(err))
			return
		}
		if n > 0 {
			m.lg.Debug("abandoning process",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID),
				zap.Bool("recompensation_allowed", accept))
			if err := m.clog.abandon(ctx, correlationID, processID); err != nil {
				m.lg.Info("failed to abandon process",
					zap.String("correlation_id", correlationID),
					zap.Int64("process_id", processID),
					zap.Error(err))
			}
			return
		}
		m.lg.Debug("marking process as compensated",
			zap.String("correlation_id", correlationID),
			zap.Int64("process_id", processID))
		if err := m.clog.setProcessState(ctx, processID, StateCompensated); err != nil {
			m.lg.Info("failed to mark process compensated",
				zap.String("correlation_id", correlationID),
				zap.Int64("process_id", processID),
				zap.Error(err))
		}
	})
	if !accepted {
		m.warnTaskRejected("abandon", correlationID, processID)
	}
}

// warnTaskRejected reports a remediation task the worker queue refused to
// take, which only happens when the queue is stopping. The process is left
// for a later tick.
func (m *AsynchronousManager) warnTaskRejected(action, correlationID string, processID int64) {
	m.lg.Warn("work queue rejected remediation task",
		zap.String("action", action),
		zap.String("correlation_id", correlationID),
		zap.Int64("process_id", processID))
}

func (m *AsynchronousManager) reportTick(stats *tickStats) {
	if !stats.any() {
		return
	}
	fields := make([]zap.Field, 0, 8)
	for i := 0; i < numProcessStates; i++ {
		state := ProcessState(i).String()
		if stats.recovered[i] > 0 {
			fields = append(fields, zap.Int("compensations_from_"+state, stats.recovered[i]))
		}
		if stats.removed[i] > 0 {
			fields = append(fields, zap.Int("removed_from_"+state, stats.removed[i]))
		}
		if stats.abandoned[i] > 0 {
			fields = append(fields, zap.Int("abandoned_from_"+state, stats.abandoned[i]))
		}
	}
	fields = append(fields,
		zap.Int("observed", stats.observed),
		zap.Int("queue_size", m.queue.Size()))
	m.lg.Info("recovery tick completed", fields...)
}
