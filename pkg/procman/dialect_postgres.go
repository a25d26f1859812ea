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
	"time"

	"github.com/lib/pq"
)

// pgUniqueViolation is the PostgreSQL class 23 code for a unique constraint
// violation.
const pgUniqueViolation = "23505"

// Dialect adapts the log's SQL to a concrete database engine.
type Dialect interface {
	// Name identifies the engine, e.g. "postgres".
	Name() string

	// Statements returns the full statement set in the engine's
	// placeholder style.
	Statements() statementSet

	// InsertReturnsID reports whether storeProcess yields the generated
	// identity as a result row (RETURNING) rather than through
	// sql.Result.LastInsertId.
	InsertReturnsID() bool

	// IsUniqueViolation reports whether err is a uniqueness constraint
	// violation, used to map duplicate correlation IDs to a distinct
	// error.
	IsUniqueViolation(err error) bool

	// Schema returns the DDL statements creating the log's tables.
	Schema() []string
}

type postgresDialect struct {
	stmts statementSet
}

// PostgresDialect returns the Dialect for PostgreSQL.
func PostgresDialect() Dialect {
	stmts := baseStatements()
	stmts.storeProcess += "\nRETURNING process_id"
	stmts = rebindStatements(stmts, func(n int) string { return fmt.Sprintf("$%d", n) })
	return &postgresDialect{stmts: stmts}
}

func (d *postgresDialect) Name() string             { return "postgres" }
func (d *postgresDialect) Statements() statementSet { return d.stmts }
func (d *postgresDialect) InsertReturnsID() bool    { return true }

func (d *postgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func (d *postgresDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS procman_process (
    process_id     BIGSERIAL PRIMARY KEY,
    correlation_id VARCHAR(255) NOT NULL UNIQUE,
    state          INTEGER NOT NULL,
    accept_failure BOOLEAN NOT NULL DEFAULT TRUE,
    result         TEXT,
    created        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS procman_process_step (
    process_id       BIGINT NOT NULL REFERENCES procman_process (process_id) ON DELETE CASCADE,
    step_id          INTEGER NOT NULL,
    locator          VARCHAR(255) NOT NULL,
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

// OpenPostgres opens a pooled PostgreSQL connection suitable for the log.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
