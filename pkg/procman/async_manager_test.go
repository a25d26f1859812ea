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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/innovationmech/procman/pkg/workqueue"
)

// inlineQueue runs every task synchronously, making scheduler tests
// deterministic.
type inlineQueue struct{}

func (inlineQueue) Start()                        {}
func (inlineQueue) Stop()                         {}
func (inlineQueue) Execute(t workqueue.Task) bool { t(); return true }
func (inlineQueue) IsEmpty() bool                 { return true }
func (inlineQueue) Size() int                     { return 0 }

// busyQueue pretends to have a permanent backlog.
type busyQueue struct{ inlineQueue }

func (busyQueue) IsEmpty() bool { return false }
func (busyQueue) Size() int     { return 7 }

// deadQueue refuses every task, like a queue that is shutting down.
type deadQueue struct{ inlineQueue }

func (deadQueue) Execute(workqueue.Task) bool { return false }

func newTestAsyncManager(
	flog recoveryLog, reg *ActivityRegistry, policy Policy, queue workqueue.WorkQueue, justStarted bool,
) *AsynchronousManager {
	return &AsynchronousManager{
		clog:        flog,
		registry:    reg,
		policy:      policy,
		queue:       queue,
		lg:          zap.NewNop(),
		justStarted: justStarted,
	}
}

// seedProcess installs a process directly in the fake log: state, how long
// ago it was last modified, and optionally logged steps with their forward
// outcome already marked successful.
func seedProcess(
	t *testing.T, flog *fakeLog, correlationID string,
	state ProcessState, age time.Duration, accept bool, locators ...string,
) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := flog.pushProcess(ctx, correlationID, accept)
	require.NoError(t, err)
	for i, locator := range locators {
		require.NoError(t, flog.pushCompensation(ctx, id, i, locator, nil, nil, nil))
		require.NoError(t, flog.markSuccessful(ctx, id, i))
	}
	require.NoError(t, flog.setProcessState(ctx, id, state))
	flog.setModified(id, flog.now.Add(-age))
	return id
}

func TestRecoveryRemovesStuckNewProcess(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env.flog, "stuck-new", StateNew, 11*time.Minute, true)

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	env.flog.mu.Lock()
	_, exists := env.flog.procs[id]
	env.flog.mu.Unlock()
	assert.False(t, exists, "a stuck NEW process has nothing to compensate and is purged")
}

func TestRecoveryLeavesFreshProcessesAlone(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo", nil, nil)
	newID := seedProcess(t, env.flog, "fresh-new", StateNew, time.Minute, true)
	progID := seedProcess(t, env.flog, "fresh-prog", StateProgressing, time.Minute, true, "undo")
	doneID := seedProcess(t, env.flog, "fresh-done", StateSuccessful, time.Minute, true)

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateNew, env.flog.stateOf(newID))
	assert.Equal(t, StateProgressing, env.flog.stateOf(progID))
	assert.Equal(t, StateSuccessful, env.flog.stateOf(doneID))
	assert.Empty(t, env.rec.names())
}

func TestRecoveryCompensatesStuckProgressingProcess(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo-a", nil, nil)
	env.activity(t, "undo-b", nil, nil)
	id := seedProcess(t, env.flog, "stuck-prog", StateProgressing, 11*time.Minute, true,
		"undo-a", "undo-b")

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateCompensated, env.flog.stateOf(id))
	assert.Empty(t, env.flog.stepsOf(id))
	assert.Equal(t, []string{"undo-b", "undo-a"}, env.rec.names())
}

func TestRecoveryRemovesRetiredProcesses(t *testing.T) {
	env := newTestEnv(t)
	okID := seedProcess(t, env.flog, "retired-ok", StateSuccessful, 61*time.Minute, true)
	compID := seedProcess(t, env.flog, "retired-comp", StateCompensated, 61*time.Minute, true)
	keptID := seedProcess(t, env.flog, "recent-ok", StateSuccessful, 59*time.Minute, true)

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	env.flog.mu.Lock()
	_, okExists := env.flog.procs[okID]
	_, compExists := env.flog.procs[compID]
	_, keptExists := env.flog.procs[keptID]
	env.flog.mu.Unlock()
	assert.False(t, okExists)
	assert.False(t, compExists)
	assert.True(t, keptExists)
}

func TestRecoveryRetriesFailedCompensation(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo", nil, nil)
	id := seedProcess(t, env.flog, "retry-me", StateCompensationFailed, 6*time.Minute, true, "undo")

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateCompensated, env.flog.stateOf(id))
	assert.Equal(t, []string{"undo"}, env.rec.names())
}

func TestRecoveryWaitsOutRecompensationInterval(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo", nil, nil)
	// Failed only a minute ago; default quiet time is five minutes.
	id := seedProcess(t, env.flog, "too-soon", StateCompensationFailed, time.Minute, true, "undo")

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateCompensationFailed, env.flog.stateOf(id))
	assert.Empty(t, env.rec.names())
}

func TestRecoveryAbandonsWhenCompensationFailureNotAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo", nil, nil)
	id := seedProcess(t, env.flog, "no-retries", StateCompensationFailed, time.Minute, false, "undo")

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateAbandoned, env.flog.stateOf(id))
	assert.Empty(t, env.rec.names(), "abandonment must not run compensations")
}

func TestRecoverySettlesAbandonmentCandidateWithoutSteps(t *testing.T) {
	env := newTestEnv(t)
	// A racing coordinator already popped every step; nothing is left to
	// give up on, so the process settles as COMPENSATED.
	id := seedProcess(t, env.flog, "settled", StateCompensationFailed, time.Minute, false)

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, StateCompensated, env.flog.stateOf(id))
}

func TestRecoveryGrantsOneRetryAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	env.activity(t, "undo", nil, errors.New("still failing"))
	// Old enough to be abandoned on a steady-state tick.
	id := seedProcess(t, env.flog, "restart-retry", StateCompensationFailed, 2*time.Hour, true, "undo")

	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), inlineQueue{}, true)
	m.recoverOnce(context.Background())

	// First tick after a restart retries instead of abandoning.
	assert.Equal(t, StateCompensationFailed, env.flog.stateOf(id))
	assert.Equal(t, []string{"undo"}, env.rec.names())
	assert.False(t, m.justStarted)

	// Steady state: the same process, still old and still failing, is
	// abandoned on the next tick.
	env.flog.setModified(id, env.flog.now.Add(-2*time.Hour))
	m.recoverOnce(context.Background())
	assert.Equal(t, StateAbandoned, env.flog.stateOf(id))
	assert.Equal(t, []string{"undo"}, env.rec.names())
}

// countingLog counts recovery scans on top of fakeLog.
type countingLog struct {
	*fakeLog
	scans int32
}

func (c *countingLog) recover(ctx context.Context, cb recoverCallback) error {
	atomic.AddInt32(&c.scans, 1)
	return c.fakeLog.recover(ctx, cb)
}

func TestRecoverySkipsTickWhileBacklogged(t *testing.T) {
	env := newTestEnv(t)
	seedProcess(t, env.flog, "ignored", StateNew, 11*time.Minute, true)
	clog := &countingLog{fakeLog: env.flog}

	policy := DefaultPolicy()
	policy.SecondsBetweenRecoveryAttempts = 1

	m := newTestAsyncManager(clog, env.reg, policy, busyQueue{}, false)
	m.recoverOnce(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&clog.scans),
		"a backlogged tick must be skipped, not piled onto the queue")
}

func TestAsynchronousManagerLifecycle(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	policy := DefaultPolicy()
	// Keep both tickers far away from the test's lifetime.
	policy.SecondsBetweenRecoveryAttempts = 3600
	policy.SecondsBetweenLoggingStatistics = 3600

	m, err := NewAsynchronousManager(db, PostgresDialect(), NewActivityRegistry(), policy, nil)
	require.NoError(t, err)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start must be rejected")
	m.Stop()
	m.Stop() // idempotent

	require.NoError(t, m.Start())
	m.Stop()
}

func TestRestartedManagerDispatchesWork(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	policy := DefaultPolicy()
	policy.SecondsBetweenRecoveryAttempts = 3600
	policy.SecondsBetweenLoggingStatistics = 3600

	m, err := NewAsynchronousManager(db, PostgresDialect(), NewActivityRegistry(), policy, nil)
	require.NoError(t, err)

	require.NoError(t, m.Start())
	m.Stop()
	require.NoError(t, m.Start())
	defer m.Stop()

	// The queue from before the restart is gone for good; the restarted
	// manager must run tasks on a live one.
	ran := make(chan struct{})
	require.True(t, m.queue.Execute(func() { close(ran) }),
		"restarted manager must accept remediation tasks")
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task dispatched after restart never ran")
	}
}

func TestRecoveryWarnsWhenQueueRejectsTask(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env.flog, "rejected", StateNew, 11*time.Minute, true)

	core, logged := observer.New(zap.WarnLevel)
	m := newTestAsyncManager(env.flog, env.reg, DefaultPolicy(), deadQueue{}, false)
	m.lg = zap.New(core)
	m.recoverOnce(context.Background())

	// The process is untouched and the drop is visible in the log.
	assert.Equal(t, StateNew, env.flog.stateOf(id))
	entries := logged.FilterMessage("work queue rejected remediation task").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "remove", entries[0].ContextMap()["action"])
}

func TestNewAsynchronousManagerValidatesArguments(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewAsynchronousManager(nil, PostgresDialect(), NewActivityRegistry(), DefaultPolicy(), nil)
	assert.Error(t, err)

	bad := DefaultPolicy()
	bad.NumberOfRecoveryThreads = 0
	_, err = NewAsynchronousManager(db, PostgresDialect(), NewActivityRegistry(), bad, nil)
	assert.Error(t, err)
}
