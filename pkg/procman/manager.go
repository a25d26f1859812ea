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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovationmech/procman/pkg/logger"
)

// NewCorrelationID generates a fresh correlation ID for callers that have no
// natural business key.
func NewCorrelationID() string {
	return uuid.NewString()
}

// SynchronousManager hands out process runtimes and answers queries about
// past and present processes. It performs no background work of its own.
type SynchronousManager interface {
	// NewProcess creates a persisted process using the policy's global
	// accept-compensation-failure default.
	NewProcess(correlationID string) *Process

	// NewProcessWithOptions creates a persisted process overriding the
	// accept-compensation-failure default for this process only.
	NewProcessWithOptions(correlationID string, acceptCompensationFailure bool) *Process

	// NewVolatileProcess creates a purely in-memory process.
	NewVolatileProcess(correlationID string) *VolatileProcess

	// GetProcessState reads the current state of a process; ok is false
	// when no such process exists.
	GetProcessState(ctx context.Context, correlationID string) (ProcessState, bool, error)

	// GetProcessResult retrieves the persisted result of a SUCCESSFUL
	// process; any other state yields a results-unavailable error.
	GetProcessResult(ctx context.Context, correlationID string) (ProcessResult, bool, error)

	// ResetProcess removes remnants of a finished-or-failed process so
	// the same correlation ID can be retried. It reports whether a
	// process was found and reset.
	ResetProcess(ctx context.Context, correlationID string) (bool, error)

	// GetProcessDetails returns details for every known process.
	GetProcessDetails(ctx context.Context) ([]*ProcessDetails, error)

	// GetProcessDetailsByCorrelationID returns details for one process;
	// ok is false when no such process exists.
	GetProcessDetailsByCorrelationID(ctx context.Context, correlationID string) (*ProcessDetails, bool, error)

	// GetAbandonedProcessDetails returns details of every ABANDONED
	// process for operator salvage.
	GetAbandonedProcessDetails(ctx context.Context) ([]*ProcessDetails, error)
}

type synchronousManager struct {
	clog     *persistentLog
	registry *ActivityRegistry
	policy   Policy
	lg       *zap.Logger
}

// NewSynchronousManager builds the synchronous half of the process manager.
func NewSynchronousManager(
	db *sql.DB, dialect Dialect, registry *ActivityRegistry, policy Policy,
) (SynchronousManager, error) {
	if db == nil || dialect == nil || registry == nil {
		return nil, fmt.Errorf("db, dialect and registry must not be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	lg := logger.Named("procman")
	return &synchronousManager{
		clog:     newPersistentLog(db, dialect, policy.AssumeNativeProcessDataFlow, lg),
		registry: registry,
		policy:   policy,
		lg:       lg,
	}, nil
}

func (m *synchronousManager) NewProcess(correlationID string) *Process {
	return m.NewProcessWithOptions(correlationID, m.policy.AcceptCompensationFailure)
}

func (m *synchronousManager) NewProcessWithOptions(
	correlationID string, acceptCompensationFailure bool,
) *Process {
	return &Process{
		correlationID:              correlationID,
		acceptCompensationFailure:  acceptCompensationFailure,
		onlyCompensateIfSuccessful: m.policy.OnlyCompensateIfTransactionWasSuccessful,
		result:                     m.clog.codec.newResult(),
		clog:                       m.clog,
		registry:                   m.registry,
		lg:                         m.lg,
	}
}

func (m *synchronousManager) NewVolatileProcess(correlationID string) *VolatileProcess {
	return &VolatileProcess{
		correlationID:             correlationID,
		acceptCompensationFailure: m.policy.AcceptCompensationFailure,
		result:                    m.clog.codec.newResult(),
		lg:                        m.lg,
	}
}

func (m *synchronousManager) GetProcessState(
	ctx context.Context, correlationID string,
) (ProcessState, bool, error) {
	return m.clog.getProcessState(ctx, correlationID)
}

func (m *synchronousManager) GetProcessResult(
	ctx context.Context, correlationID string,
) (ProcessResult, bool, error) {
	return m.clog.getProcessResult(ctx, correlationID)
}

func (m *synchronousManager) ResetProcess(ctx context.Context, correlationID string) (bool, error) {
	return m.clog.resetProcess(ctx, correlationID)
}

func (m *synchronousManager) GetProcessDetails(ctx context.Context) ([]*ProcessDetails, error) {
	return m.clog.getProcessDetails(ctx)
}

func (m *synchronousManager) GetProcessDetailsByCorrelationID(
	ctx context.Context, correlationID string,
) (*ProcessDetails, bool, error) {
	return m.clog.getProcessDetailsByCorrelationID(ctx, correlationID)
}

func (m *synchronousManager) GetAbandonedProcessDetails(ctx context.Context) ([]*ProcessDetails, error) {
	return m.clog.getAbandonedProcessDetails(ctx)
}

// ManagerConfig wires a ProcessManager together. DB, Dialect and Registry
// are required; Metrics is optional.
type ManagerConfig struct {
	DB       *sql.DB
	Dialect  Dialect
	Registry *ActivityRegistry
	Policy   Policy
	Metrics  *Metrics
}

// ProcessManager bundles the synchronous API with the background recovery
// manager, both sharing one compensation log.
type ProcessManager struct {
	sync  SynchronousManager
	async *AsynchronousManager
}

// NewProcessManager builds a complete process manager from cfg.
func NewProcessManager(cfg ManagerConfig) (*ProcessManager, error) {
	syncMgr, err := NewSynchronousManager(cfg.DB, cfg.Dialect, cfg.Registry, cfg.Policy)
	if err != nil {
		return nil, err
	}
	asyncMgr, err := NewAsynchronousManager(cfg.DB, cfg.Dialect, cfg.Registry, cfg.Policy, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return &ProcessManager{sync: syncMgr, async: asyncMgr}, nil
}

// Synchronous returns the caller-facing manager.
func (pm *ProcessManager) Synchronous() SynchronousManager { return pm.sync }

// Asynchronous returns the background recovery manager.
func (pm *ProcessManager) Asynchronous() *AsynchronousManager { return pm.async }

// Migrate creates the compensation log's schema if missing.
func (pm *ProcessManager) Migrate(ctx context.Context) error {
	return pm.sync.(*synchronousManager).clog.migrate(ctx)
}

// Start launches background recovery and statistics logging.
func (pm *ProcessManager) Start() error { return pm.async.Start() }

// Stop halts background work, draining in-flight tasks.
func (pm *ProcessManager) Stop() { pm.async.Stop() }
