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

package workqueue

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// simpleQueue is the single-shared-queue strategy: all workers block-pop
// from one deque.
type simpleQueue struct {
	nWorkers int
	queue    *deque
	log      *zap.Logger

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func newSimpleQueue(nWorkers int, log *zap.Logger) *simpleQueue {
	return &simpleQueue{
		nWorkers: nWorkers,
		queue:    newDeque(),
		log:      log.With(zap.String("strategy", string(TypeSimple))),
	}
}

func (q *simpleQueue) Start() {
	if q.started.Swap(true) {
		return
	}
	for i := 0; i < q.nWorkers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Debug("work queue started", zap.Int("workers", q.nWorkers))
}

func (q *simpleQueue) Stop() {
	if q.stopped.Swap(true) {
		return
	}
	q.queue.close()
	q.wg.Wait()
	q.log.Debug("work queue stopped")
}

func (q *simpleQueue) Execute(task Task) bool {
	if q.stopped.Load() {
		return false
	}
	return q.queue.pushBack(task)
}

func (q *simpleQueue) IsEmpty() bool {
	return q.queue.len() == 0
}

func (q *simpleQueue) Size() int {
	return q.queue.len()
}

func (q *simpleQueue) worker(index int) {
	defer q.wg.Done()
	for {
		task, ok := q.queue.popFront()
		if !ok {
			return
		}
		runTask(task, q.log.With(zap.Int("worker", index)))
	}
}
