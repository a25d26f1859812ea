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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the recovery scheduler. All methods are safe on a nil
// receiver, so instrumentation stays optional.
type Metrics struct {
	recoveryTicks     prometheus.Counter
	skippedTicks      prometheus.Counter
	observedProcesses prometheus.Counter
	dispatched        *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// NewMetrics registers the scheduler's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		recoveryTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "procman_recovery_ticks_total",
			Help: "Completed recovery scheduler ticks.",
		}),
		skippedTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "procman_recovery_ticks_skipped_total",
			Help: "Recovery ticks skipped because the work queue had backlog.",
		}),
		observedProcesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "procman_recovery_observed_processes_total",
			Help: "Process headers observed by recovery scans.",
		}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "procman_recovery_dispatched_total",
			Help: "Remediation actions dispatched onto the work queue.",
		}, []string{"action"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "procman_recovery_queue_depth",
			Help: "Pending background tasks at the end of the latest tick.",
		}),
	}
}

func (m *Metrics) tickCompleted(observed int, queueDepth int) {
	if m == nil {
		return
	}
	m.recoveryTicks.Inc()
	m.observedProcesses.Add(float64(observed))
	m.queueDepth.Set(float64(queueDepth))
}

func (m *Metrics) tickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) actionDispatched(action string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(action).Inc()
}
