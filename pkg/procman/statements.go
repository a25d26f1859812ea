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
	"strings"
)

// statementSet holds every SQL statement the log issues, in the dialect's
// placeholder style. The header table is procman_process, the step table is
// procman_process_step; timestamps are always taken from the storage tier's
// clock (CURRENT_TIMESTAMP), never from the coordinator's.
type statementSet struct {
	storeProcess                 string
	fetchStateByCorrelation      string
	fetchResultByCorrelation     string
	fetchIDAndStateByCorrelation string
	updateProcess                string
	removeProcess                string

	storeProcessStep     string
	removeProcessStep    string
	removeProcessSteps   string
	incrementStepRetries string
	markStepSuccessful   string

	fetchStepsDetailed string
	countProcessSteps  string

	fetchProcesses               string
	countProcesses               string
	fetchAllProcessDetails       string
	fetchProcessDetailsByCorr    string
	fetchAbandonedProcessDetails string
}

// baseStatements returns the statement set in `?` placeholder form; dialects
// that use positional placeholders rebind it.
func baseStatements() statementSet {
	const detailsSelect = `
SELECT p.correlation_id, p.process_id, p.state, p.created, p.modified,
       s.step_id, s.retries, s.prestate
FROM procman_process p
LEFT OUTER JOIN procman_process_step s ON s.process_id = p.process_id`

	return statementSet{
		storeProcess: `
INSERT INTO procman_process (correlation_id, state, accept_failure, created, modified)
VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,

		fetchStateByCorrelation: `
SELECT state FROM procman_process WHERE correlation_id = ?`,

		fetchResultByCorrelation: `
SELECT state, result FROM procman_process WHERE correlation_id = ?`,

		fetchIDAndStateByCorrelation: `
SELECT process_id, state FROM procman_process WHERE correlation_id = ?`,

		updateProcess: `
UPDATE procman_process SET state = ?, result = ?, modified = CURRENT_TIMESTAMP
WHERE process_id = ?`,

		removeProcess: `
DELETE FROM procman_process WHERE process_id = ?`,

		storeProcessStep: `
INSERT INTO procman_process_step
  (process_id, step_id, locator, parameters, orchestration, prestate, retries, trans_successful)
VALUES (?, ?, ?, ?, ?, ?, 0, FALSE)`,

		removeProcessStep: `
DELETE FROM procman_process_step WHERE process_id = ? AND step_id = ?`,

		removeProcessSteps: `
DELETE FROM procman_process_step WHERE process_id = ?`,

		incrementStepRetries: `
UPDATE procman_process_step SET retries = retries + 1 WHERE process_id = ? AND step_id = ?`,

		markStepSuccessful: `
UPDATE procman_process_step SET trans_successful = TRUE WHERE process_id = ? AND step_id = ?`,

		fetchStepsDetailed: `
SELECT p.correlation_id, s.step_id, s.locator, s.parameters, s.orchestration,
       s.prestate, s.retries, s.trans_successful
FROM procman_process_step s
JOIN procman_process p ON p.process_id = s.process_id
WHERE s.process_id = ?
ORDER BY s.step_id DESC`,

		countProcessSteps: `
SELECT COUNT(*) FROM procman_process_step WHERE process_id = ?`,

		// ABANDONED rows are filtered here since recovery never acts on them.
		fetchProcesses: fmt.Sprintf(`
SELECT correlation_id, process_id, state, accept_failure, created, modified, CURRENT_TIMESTAMP
FROM procman_process
WHERE state < %d`, StateAbandoned),

		countProcesses: `
SELECT COUNT(*), state FROM procman_process GROUP BY state`,

		fetchAllProcessDetails: detailsSelect + `
ORDER BY p.process_id, s.step_id`,

		fetchProcessDetailsByCorr: detailsSelect + `
WHERE p.correlation_id = ?
ORDER BY p.process_id, s.step_id`,

		fetchAbandonedProcessDetails: detailsSelect + fmt.Sprintf(`
WHERE p.state = %d
ORDER BY p.process_id, s.step_id`, StateAbandoned),
	}
}

// rebindStatements rewrites every `?` placeholder using bind, e.g. to $1..$n
// for PostgreSQL.
func rebindStatements(set statementSet, bind func(n int) string) statementSet {
	set.storeProcess = rebind(set.storeProcess, bind)
	set.fetchStateByCorrelation = rebind(set.fetchStateByCorrelation, bind)
	set.fetchResultByCorrelation = rebind(set.fetchResultByCorrelation, bind)
	set.fetchIDAndStateByCorrelation = rebind(set.fetchIDAndStateByCorrelation, bind)
	set.updateProcess = rebind(set.updateProcess, bind)
	set.removeProcess = rebind(set.removeProcess, bind)
	set.storeProcessStep = rebind(set.storeProcessStep, bind)
	set.removeProcessStep = rebind(set.removeProcessStep, bind)
	set.removeProcessSteps = rebind(set.removeProcessSteps, bind)
	set.incrementStepRetries = rebind(set.incrementStepRetries, bind)
	set.markStepSuccessful = rebind(set.markStepSuccessful, bind)
	set.fetchStepsDetailed = rebind(set.fetchStepsDetailed, bind)
	set.countProcessSteps = rebind(set.countProcessSteps, bind)
	set.fetchProcesses = rebind(set.fetchProcesses, bind)
	set.countProcesses = rebind(set.countProcesses, bind)
	set.fetchAllProcessDetails = rebind(set.fetchAllProcessDetails, bind)
	set.fetchProcessDetailsByCorr = rebind(set.fetchProcessDetailsByCorr, bind)
	set.fetchAbandonedProcessDetails = rebind(set.fetchAbandonedProcessDetails, bind)
	return set
}

func rebind(query string, bind func(n int) string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteString(bind(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}
