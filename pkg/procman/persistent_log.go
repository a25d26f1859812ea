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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// processHeader is one row streamed to the recovery scheduler.
type processHeader struct {
	correlationID             string
	processID                 int64
	state                     ProcessState
	acceptCompensationFailure bool
	created                   time.Time
	modified                  time.Time

	// serverNow is the storage tier's clock at fetch time. All staleness
	// decisions compare against it, never against the coordinator's
	// clock.
	serverNow time.Time
}

// recoverCallback receives one process header per call during a recovery
// scan.
type recoverCallback func(h *processHeader)

// persistentLog is the durable compensation log over a relational store.
// Every method acquires its own connection scope and commits before
// returning; there is no cross-call transaction state.
type persistentLog struct {
	db      *sql.DB
	dialect Dialect
	stmts   statementSet
	codec   payloadCodec
	lg      *zap.Logger
}

func newPersistentLog(db *sql.DB, dialect Dialect, assumeNative bool, lg *zap.Logger) *persistentLog {
	return &persistentLog{
		db:      db,
		dialect: dialect,
		stmts:   dialect.Statements(),
		codec:   payloadCodec{native: assumeNative},
		lg:      lg,
	}
}

// migrate creates the log's tables if they do not exist.
func (l *persistentLog) migrate(ctx context.Context) error {
	for _, ddl := range l.dialect.Schema() {
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return NewPersistenceError("migrate schema", err)
		}
	}
	return nil
}

func (l *persistentLog) pushProcess(
	ctx context.Context, correlationID string, acceptCompensationFailure bool,
) (int64, error) {
	var processID int64

	if l.dialect.InsertReturnsID() {
		err := l.db.QueryRowContext(ctx, l.stmts.storeProcess,
			correlationID, int(StateNew), acceptCompensationFailure).Scan(&processID)
		if err != nil {
			return 0, l.mapInsertError(correlationID, err)
		}
	} else {
		res, err := l.db.ExecContext(ctx, l.stmts.storeProcess,
			correlationID, int(StateNew), acceptCompensationFailure)
		if err != nil {
			return 0, l.mapInsertError(correlationID, err)
		}
		processID, err = res.LastInsertId()
		if err != nil {
			return 0, NewPersistenceError("determine generated process id", err)
		}
	}

	l.lg.Debug("persisted process header",
		zap.String("correlation_id", correlationID),
		zap.Int64("process_id", processID))
	return processID, nil
}

func (l *persistentLog) mapInsertError(correlationID string, err error) error {
	if l.dialect.IsUniqueViolation(err) {
		return NewProcessAlreadyExistsError(correlationID, err)
	}
	return NewPersistenceError("push process", err)
}

// pushCompensation inserts one step row and advances the header to
// PROGRESSING in the same transaction, so a step is never visible without
// its owning process being marked in-flight.
func (l *persistentLog) pushCompensation(
	ctx context.Context, processID int64, stepID int, locator string,
	parameters ActivityParameters, orchestration OrchestrationParameters, preState ActivityState,
) error {
	paramJSON, err := payloadToColumn(parameters)
	if err != nil {
		return NewPersistenceError("encode activity parameters", err)
	}
	orchJSON, err := payloadToColumn(orchestration)
	if err != nil {
		return NewPersistenceError("encode orchestration parameters", err)
	}
	stateJSON, err := payloadToColumn(preState)
	if err != nil {
		return NewPersistenceError("encode pre-state", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return NewPersistenceError("begin push compensation", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, l.stmts.storeProcessStep,
		processID, stepID, locator, paramJSON, orchJSON, stateJSON); err != nil {
		return NewPersistenceError("push compensation step", err)
	}
	if _, err := tx.ExecContext(ctx, l.stmts.updateProcess,
		int(StateProgressing), nil, processID); err != nil {
		return NewPersistenceError("advance process to progressing", err)
	}
	if err := tx.Commit(); err != nil {
		return NewPersistenceError("commit push compensation", err)
	}

	l.lg.Debug("persisted compensation step",
		zap.Int64("process_id", processID),
		zap.Int("step", stepID),
		zap.String("activity", locator))
	return nil
}

// touchProcess advances the header to PROGRESSING and bumps modified,
// without logging any step. Used by forward-only activities.
func (l *persistentLog) touchProcess(ctx context.Context, processID int64) error {
	if _, err := l.db.ExecContext(ctx, l.stmts.updateProcess,
		int(StateProgressing), nil, processID); err != nil {
		return NewPersistenceError("touch process header", err)
	}
	return nil
}

// popCompensation deletes one step row. A missing row is benign: a racing
// coordinator may have popped it already.
func (l *persistentLog) popCompensation(ctx context.Context, processID int64, stepID int) error {
	res, err := l.db.ExecContext(ctx, l.stmts.removeProcessStep, processID, stepID)
	if err != nil {
		return NewPersistenceError("pop compensation step", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		l.lg.Debug("step already popped",
			zap.Int64("process_id", processID), zap.Int("step", stepID))
	}
	return nil
}

// markRetry increments a step's retry counter, best effort.
func (l *persistentLog) markRetry(ctx context.Context, processID int64, stepID int) error {
	res, err := l.db.ExecContext(ctx, l.stmts.incrementStepRetries, processID, stepID)
	if err != nil {
		return NewPersistenceError("increment step retries", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		l.lg.Debug("no step row to mark for retry",
			zap.Int64("process_id", processID), zap.Int("step", stepID))
	}
	return nil
}

// markSuccessful records that a step's forward action succeeded, best
// effort.
func (l *persistentLog) markSuccessful(ctx context.Context, processID int64, stepID int) error {
	res, err := l.db.ExecContext(ctx, l.stmts.markStepSuccessful, processID, stepID)
	if err != nil {
		return NewPersistenceError("mark step successful", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		l.lg.Debug("no step row to mark successful",
			zap.Int64("process_id", processID), zap.Int("step", stepID))
	}
	return nil
}

func (l *persistentLog) setProcessState(
	ctx context.Context, processID int64, state ProcessState,
) error {
	return l.setProcessStateAndResult(ctx, processID, state, nil)
}

func (l *persistentLog) setProcessStateAndResult(
	ctx context.Context, processID int64, state ProcessState, result ProcessResult,
) error {
	resultJSON, err := payloadToColumn(result)
	if err != nil {
		return NewPersistenceError("encode process result", err)
	}
	if _, err := l.db.ExecContext(ctx, l.stmts.updateProcess,
		int(state), resultJSON, processID); err != nil {
		return NewPersistenceError("set process state", err)
	}
	l.lg.Debug("updated process state",
		zap.Int64("process_id", processID), zap.Stringer("state", state))
	return nil
}

// cleanupAfterSuccess discards all logged steps and marks the process
// SUCCESSFUL, persisting the accumulated result.
func (l *persistentLog) cleanupAfterSuccess(
	ctx context.Context, processID int64, result ProcessResult,
) error {
	if _, err := l.db.ExecContext(ctx, l.stmts.removeProcessSteps, processID); err != nil {
		return NewPersistenceError("discard steps after success", err)
	}
	return l.setProcessStateAndResult(ctx, processID, StateSuccessful, result)
}

// compensate fetches all steps of a process in descending stepID order and
// hands each to cb. A true return pops the step, false increments its retry
// counter; a non-nil error aborts the walk and is returned as-is.
func (l *persistentLog) compensate(
	ctx context.Context, processID int64, cb compensationCallback,
) error {
	// Collect first: pops and retry marks must not run while the result
	// set is still open, since engines like SQLite serialize on a single
	// connection.
	steps, err := l.fetchCompensationSteps(ctx, processID)
	if err != nil {
		return err
	}

	for _, step := range steps {
		ok, cbErr := cb(step)
		if cbErr != nil {
			return cbErr
		}
		if ok {
			if err := l.popCompensation(ctx, processID, step.stepID); err != nil {
				return err
			}
		} else {
			if err := l.markRetry(ctx, processID, step.stepID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *persistentLog) fetchCompensationSteps(
	ctx context.Context, processID int64,
) ([]*compensationStep, error) {
	rows, err := l.db.QueryContext(ctx, l.stmts.fetchStepsDetailed, processID)
	if err != nil {
		return nil, NewPersistenceError("fetch compensation steps", err)
	}
	defer rows.Close()

	var steps []*compensationStep
	for rows.Next() {
		var (
			correlationID string
			stepID        int
			locator       string
			paramJSON     sql.NullString
			orchJSON      sql.NullString
			stateJSON     sql.NullString
			retries       int
			transOK       bool
		)
		if err := rows.Scan(&correlationID, &stepID, &locator,
			&paramJSON, &orchJSON, &stateJSON, &retries, &transOK); err != nil {
			return nil, NewPersistenceError("scan compensation step", err)
		}

		step := &compensationStep{
			correlationID:         correlationID,
			stepID:                stepID,
			locator:               locator,
			retries:               retries,
			transactionSuccessful: transOK,
		}
		if step.parameters, err = l.codec.parametersFromJSON(paramJSON.String); err != nil {
			return nil, NewPersistenceError("decode activity parameters", err)
		}
		if orchJSON.Valid {
			var orch OrchestrationParameters
			if err := json.Unmarshal([]byte(orchJSON.String), &orch); err != nil {
				return nil, NewPersistenceError("decode orchestration parameters", err)
			}
			step.orchestration = orch
		}
		if stateJSON.Valid {
			if step.preState, err = l.codec.stateFromJSON(stateJSON.String); err != nil {
				return nil, NewPersistenceError("decode pre-state", err)
			}
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, NewPersistenceError("iterate compensation steps", err)
	}
	return steps, nil
}

func (l *persistentLog) countProcessSteps(ctx context.Context, processID int64) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, l.stmts.countProcessSteps, processID).Scan(&n)
	if err != nil {
		return 0, NewPersistenceError("count process steps", err)
	}
	return n, nil
}

// getProcessState reads the current state of the process identified by
// correlationID; ok is false when no such process exists.
func (l *persistentLog) getProcessState(
	ctx context.Context, correlationID string,
) (ProcessState, bool, error) {
	var state int
	err := l.db.QueryRowContext(ctx, l.stmts.fetchStateByCorrelation, correlationID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, NewPersistenceError("fetch process state", err)
	}
	ps, err := ProcessStateFromInt(state)
	if err != nil {
		return 0, false, NewPersistenceError("fetch process state", err)
	}
	return ps, true, nil
}

// getProcessResult reads the persisted result of a SUCCESSFUL process;
// querying any other state yields a results-unavailable error.
func (l *persistentLog) getProcessResult(
	ctx context.Context, correlationID string,
) (ProcessResult, bool, error) {
	var (
		state      int
		resultJSON sql.NullString
	)
	err := l.db.QueryRowContext(ctx, l.stmts.fetchResultByCorrelation, correlationID).
		Scan(&state, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewPersistenceError("fetch process result", err)
	}

	ps, err := ProcessStateFromInt(state)
	if err != nil {
		return nil, false, NewPersistenceError("fetch process result", err)
	}
	if ps != StateSuccessful {
		return nil, false, NewResultsUnavailableError(correlationID, ps)
	}
	if !resultJSON.Valid {
		return nil, false, nil
	}

	result, err := l.codec.resultFromJSON(resultJSON.String)
	if err != nil {
		return nil, false, NewPersistenceError("decode process result", err)
	}
	return result, true, nil
}

// resetProcess removes all traces of a process so the same correlation ID
// can be retried. It refuses to act on NEW, PROGRESSING and SUCCESSFUL
// processes, which are presumed to have a live owner. The return reports
// whether a process was found and actually reset.
func (l *persistentLog) resetProcess(ctx context.Context, correlationID string) (bool, error) {
	var (
		processID int64
		state     int
	)
	err := l.db.QueryRowContext(ctx, l.stmts.fetchIDAndStateByCorrelation, correlationID).
		Scan(&processID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, NewPersistenceError("fetch process for reset", err)
	}

	ps, err := ProcessStateFromInt(state)
	if err != nil {
		return false, NewPersistenceError("fetch process for reset", err)
	}
	switch ps {
	case StateNew, StateProgressing, StateSuccessful:
		l.lg.Warn("refusing to reset process",
			zap.String("correlation_id", correlationID),
			zap.Int64("process_id", processID),
			zap.Stringer("state", ps))
		return false, nil
	}

	if err := l.remove(ctx, correlationID, processID); err != nil {
		return false, err
	}
	return true, nil
}

// recover streams every non-ABANDONED process header to cb, along with the
// server's clock at fetch time.
func (l *persistentLog) recover(ctx context.Context, cb recoverCallback) error {
	rows, err := l.db.QueryContext(ctx, l.stmts.fetchProcesses)
	if err != nil {
		return NewPersistenceError("fetch process headers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h        processHeader
			state    int
			rawNow   interface{}
			created  time.Time
			modified time.Time
		)
		if err := rows.Scan(&h.correlationID, &h.processID, &state,
			&h.acceptCompensationFailure, &created, &modified, &rawNow); err != nil {
			return NewPersistenceError("scan process header", err)
		}
		h.created = created
		h.modified = modified
		if h.state, err = ProcessStateFromInt(state); err != nil {
			l.lg.Warn("skipping process with unknown state",
				zap.String("correlation_id", h.correlationID), zap.Int("state", state))
			continue
		}
		if h.serverNow, err = parseDBTime(rawNow); err != nil {
			return NewPersistenceError("parse server time", err)
		}
		cb(&h)
	}
	if err := rows.Err(); err != nil {
		return NewPersistenceError("iterate process headers", err)
	}
	return nil
}

// remove deletes a process header and all its steps.
func (l *persistentLog) remove(ctx context.Context, correlationID string, processID int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return NewPersistenceError("begin remove process", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, l.stmts.removeProcessSteps, processID); err != nil {
		return NewPersistenceError("remove process steps", err)
	}
	if _, err := tx.ExecContext(ctx, l.stmts.removeProcess, processID); err != nil {
		return NewPersistenceError("remove process header", err)
	}
	if err := tx.Commit(); err != nil {
		return NewPersistenceError("commit remove process", err)
	}

	l.lg.Debug("removed process",
		zap.String("correlation_id", correlationID),
		zap.Int64("process_id", processID))
	return nil
}

// abandon forces a process into the terminal ABANDONED state.
func (l *persistentLog) abandon(ctx context.Context, correlationID string, processID int64) error {
	l.lg.Debug("abandoning process",
		zap.String("correlation_id", correlationID),
		zap.Int64("process_id", processID))
	return l.setProcessState(ctx, processID, StateAbandoned)
}

// getProcessDetails returns details for every known process.
func (l *persistentLog) getProcessDetails(ctx context.Context) ([]*ProcessDetails, error) {
	return l.queryDetails(ctx, l.stmts.fetchAllProcessDetails)
}

// getProcessDetailsByCorrelationID returns details for one process; ok is
// false when no such process exists.
func (l *persistentLog) getProcessDetailsByCorrelationID(
	ctx context.Context, correlationID string,
) (*ProcessDetails, bool, error) {
	details, err := l.queryDetails(ctx, l.stmts.fetchProcessDetailsByCorr, correlationID)
	if err != nil {
		return nil, false, err
	}
	if len(details) == 0 {
		return nil, false, nil
	}
	return details[0], true, nil
}

// getAbandonedProcessDetails returns details for every ABANDONED process,
// for operator salvage.
func (l *persistentLog) getAbandonedProcessDetails(ctx context.Context) ([]*ProcessDetails, error) {
	return l.queryDetails(ctx, l.stmts.fetchAbandonedProcessDetails)
}

func (l *persistentLog) queryDetails(
	ctx context.Context, query string, args ...interface{},
) ([]*ProcessDetails, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewPersistenceError("fetch process details", err)
	}
	defer rows.Close()

	var details []*ProcessDetails
	var current *ProcessDetails
	for rows.Next() {
		var (
			correlationID string
			processID     int64
			state         int
			created       time.Time
			modified      time.Time
			stepID        sql.NullInt64
			retries       sql.NullInt64
			stateJSON     sql.NullString
		)
		if err := rows.Scan(&correlationID, &processID, &state, &created, &modified,
			&stepID, &retries, &stateJSON); err != nil {
			return nil, NewPersistenceError("scan process details", err)
		}

		if current == nil || current.ProcessID != processID {
			ps, err := ProcessStateFromInt(state)
			if err != nil {
				return nil, NewPersistenceError("scan process details", err)
			}
			current = &ProcessDetails{
				CorrelationID: correlationID,
				ProcessID:     processID,
				State:         ps,
				Created:       created,
				Modified:      modified,
			}
			details = append(details, current)
		}

		// The left outer join yields NULL step columns for processes
		// without steps.
		if !stepID.Valid {
			continue
		}
		sd := StepDetails{StepID: int(stepID.Int64), Retries: int(retries.Int64)}
		if stateJSON.Valid {
			if sd.PreState, err = l.codec.stateFromJSON(stateJSON.String); err != nil {
				return nil, NewPersistenceError("decode pre-state", err)
			}
		}
		current.Steps = append(current.Steps, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, NewPersistenceError("iterate process details", err)
	}
	return details, nil
}

// dumpStatistics logs per-state process counts. The log level escalates with
// the worst state present: routine states log at debug, compensation
// failures at info, abandoned processes at warn.
func (l *persistentLog) dumpStatistics(ctx context.Context) {
	counts := make([]int64, numProcessStates)

	rows, err := l.db.QueryContext(ctx, l.stmts.countProcesses)
	if err != nil {
		l.lg.Warn("failed to count processes", zap.Error(err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var count int64
		var state int
		if err := rows.Scan(&count, &state); err != nil {
			l.lg.Warn("failed to scan process count", zap.Error(err))
			return
		}
		if state >= 0 && state < numProcessStates {
			counts[state] = count
		}
	}
	if err := rows.Err(); err != nil {
		l.lg.Warn("failed to iterate process counts", zap.Error(err))
		return
	}

	var total int64
	severity := -1
	fields := make([]zap.Field, 0, numProcessStates+1)
	for i, count := range counts {
		total += count
		if count > 0 {
			state := ProcessState(i)
			fields = append(fields, zap.Int64(state.String(), count))
			severity = i
		}
	}
	if severity < 0 {
		return
	}
	fields = append(fields, zap.Int64("total", total))

	switch {
	case severity < int(StateCompensationFailed):
		l.lg.Debug("process statistics", fields...)
	case severity < int(StateAbandoned):
		l.lg.Info("process statistics", fields...)
	default:
		l.lg.Warn("process statistics", fields...)
	}
}

// payloadToColumn renders a payload for storage, mapping empty or nil
// payloads to SQL NULL.
func payloadToColumn(p Payload) (interface{}, error) {
	if p == nil || p.IsEmpty() {
		return nil, nil
	}
	raw, err := p.JSON()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDBTime normalizes the server-clock column, which drivers surface as
// time.Time, string or raw bytes depending on the engine.
func parseDBTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseDBTimeString(string(t))
	case string:
		return parseDBTimeString(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported time column type %T", v)
	}
}

func parseDBTimeString(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time column %q", s)
}
