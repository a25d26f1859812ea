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
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCorrelationIDIsUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestNewSynchronousManagerValidatesArguments(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSynchronousManager(nil, PostgresDialect(), NewActivityRegistry(), DefaultPolicy())
	assert.Error(t, err)

	_, err = NewSynchronousManager(db, nil, NewActivityRegistry(), DefaultPolicy())
	assert.Error(t, err)

	bad := DefaultPolicy()
	bad.MinutesToTrackProcess = 0
	_, err = NewSynchronousManager(db, PostgresDialect(), NewActivityRegistry(), bad)
	assert.Error(t, err)
}

func TestSynchronousManagerAppliesPolicyToProcesses(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	policy := DefaultPolicy()
	policy.AcceptCompensationFailure = false

	m, err := NewSynchronousManager(db, PostgresDialect(), NewActivityRegistry(), policy)
	require.NoError(t, err)

	p := m.NewProcess("corr-1")
	assert.Equal(t, "corr-1", p.CorrelationID())
	assert.False(t, p.AcceptsCompensationFailure())
	assert.Equal(t, processIDNotAssigned, p.ProcessID())
	assert.True(t, p.Result().IsNative())

	override := m.NewProcessWithOptions("corr-2", true)
	assert.True(t, override.AcceptsCompensationFailure())

	v := m.NewVolatileProcess("corr-3")
	assert.Equal(t, "corr-3", v.CorrelationID())
}

func TestSynchronousManagerForeignDataFlow(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	policy := DefaultPolicy()
	policy.AssumeNativeProcessDataFlow = false

	m, err := NewSynchronousManager(db, PostgresDialect(), NewActivityRegistry(), policy)
	require.NoError(t, err)
	assert.False(t, m.NewProcess("corr-1").Result().IsNative())
}

func TestProcessManagerWiring(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	pm, err := NewProcessManager(ManagerConfig{
		DB:       db,
		Dialect:  SQLiteDialect(),
		Registry: NewActivityRegistry(),
		Policy:   DefaultPolicy(),
	})
	require.NoError(t, err)
	require.NotNil(t, pm.Synchronous())
	require.NotNil(t, pm.Asynchronous())

	for range SQLiteDialect().Schema() {
		mock.ExpectExec(regexp.QuoteMeta("CREATE")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, pm.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewProcessManagerPropagatesConfigurationErrors(t *testing.T) {
	_, err := NewProcessManager(ManagerConfig{})
	assert.Error(t, err)
}
