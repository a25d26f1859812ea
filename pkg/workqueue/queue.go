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

// Package workqueue provides fixed-size worker pools for fire-and-forget
// background tasks. Three interchangeable dispatch strategies are available:
// a single shared queue, a sharded (round-robin) queue set, and a
// work-stealing queue set. Workers never die from a failing task; panics are
// recovered and logged.
package workqueue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/innovationmech/procman/pkg/logger"
)

// Task is a unit of background work. Tasks carry no result channel; outcomes
// must be communicated through side effects (typically the compensation log).
type Task func()

// Type selects a queue dispatch strategy.
type Type string

const (
	// TypeSimple uses one shared blocking queue drained by all workers.
	// Highest contention, simplest fairness.
	TypeSimple Type = "simple"

	// TypeMulti shards tasks round-robin over one queue per worker. Each
	// worker only ever drains its own shard, so skewed load can leave
	// workers idle.
	TypeMulti Type = "multi"

	// TypeWorkStealing shards like TypeMulti but lets an idle worker poll
	// every other shard before sleeping, trading poll latency for balance.
	TypeWorkStealing Type = "work-stealing"
)

// WorkQueue is a fixed pool of workers executing queued tasks.
//
// A pool is single-use. Stop flags it as stopped and wakes every blocked
// worker; tasks still queued at that point are dropped, and Execute reports
// false from then on. A stopped pool cannot be started again; build a new one
// instead.
type WorkQueue interface {
	// Start spawns the worker goroutines.
	Start()

	// Stop halts the pool and waits for the workers to exit.
	Stop()

	// Execute enqueues a task for asynchronous execution. Returns false if
	// the queue is no longer accepting work.
	Execute(task Task) bool

	// IsEmpty reports whether no tasks are waiting to be executed.
	IsEmpty() bool

	// Size returns the number of tasks waiting to be executed. Tasks
	// currently running are not counted.
	Size() int
}

// New creates a work queue of the given type backed by nWorkers workers.
// A nil logger falls back to a named child of the global logger.
func New(t Type, nWorkers int, log *zap.Logger) (WorkQueue, error) {
	if nWorkers <= 0 {
		return nil, fmt.Errorf("workqueue: worker count must be positive, got %d", nWorkers)
	}
	if log == nil {
		log = logger.Named("workqueue")
	}

	switch t {
	case TypeSimple:
		return newSimpleQueue(nWorkers, log), nil
	case TypeMulti:
		return newMultiQueue(nWorkers, log), nil
	case TypeWorkStealing:
		return newWorkStealingQueue(nWorkers, log), nil
	default:
		return nil, fmt.Errorf("workqueue: unknown queue type %q", t)
	}
}

// runTask executes a task, recovering and logging any panic so the calling
// worker survives. The pool is long-lived and unsupervised; a dead worker
// would silently shrink it.
func runTask(task Task, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("queued task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}
