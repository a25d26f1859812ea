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
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

type sqliteDialect struct {
	stmts statementSet
}

// SQLiteDialect returns the Dialect for SQLite, the embedded engine used for
// development and tests.
func SQLiteDialect() Dialect {
	return &sqliteDialect{stmts: baseStatements()}
}

func (d *sqliteDialect) Name() string             { return "sqlite" }
func (d *sqliteDialect) Statements() statementSet { return d.stmts }
func (d *sqliteDialect) InsertReturnsID() bool    { return false }

func (d *sqliteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (d *sqliteDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS procman_process (
    process_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT NOT NULL UNIQUE,
    state          INTEGER NOT NULL,
    accept_failure BOOLEAN NOT NULL DEFAULT TRUE,
    result         TEXT,
    created        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS procman_process_step (
    process_id       INTEGER NOT NULL REFERENCES procman_process (process_id) ON DELETE CASCADE,
    step_id          INTEGER NOT NULL,
    locator          TEXT NOT NULL,
    parameters       TEXT,
    orchestration    TEXT,
    prestate         TEXT,
    retries          INTEGER NOT NULL DEFAULT 0,
    trans_successful BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (process_id, step_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_procman_process_state ON procman_process (state)`,
	}
}

// OpenSQLite opens a SQLite database at path (":memory:" works). SQLite
// serializes writers, so the pool is capped at one connection to avoid
// spurious busy errors from concurrent recovery workers.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
