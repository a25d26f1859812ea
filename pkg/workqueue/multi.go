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

// multiQueue is the sharded strategy: one deque per worker, tasks assigned
// round-robin. A worker only ever drains its own shard, so there is no
// cross-shard visibility.
type multiQueue struct {
	nWorkers int
	queues   []*deque
	next     atomic.Uint64
	log      *zap.Logger

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func newMultiQueue(nWorkers int, log *zap.Logger) *multiQueue {
	queues := make([]*deque, nWorkers)
	for i := range queues {
		queues[i] = newDeque()
	}
	return &multiQueue{
		nWorkers: nWorkers,
		queues:   queues,
		log:      log.With(zap.String("strategy", string(TypeMulti))),
	}
}

func (q *multiQueue) Start() {
	if q.started.Swap(true) {
		return
	}
	for i := 0; i < q.nWorkers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Debug("work queue started", zap.Int("workers", q.nWorkers))
}

func (q *multiQueue) Stop() {
	if q.stopped.Swap(true) {
		return
	}
	for _, d := range q.queues {
		d.close()
	}
	q.wg.Wait()
	q.log.Debug("work queue stopped")
}

func (q *multiQueue) Execute(task Task) bool {
	if q.stopped.Load() {
		return false
	}
	shard := int(q.next.Add(1)-1) % q.nWorkers
	return q.queues[shard].pushBack(task)
}

func (q *multiQueue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *multiQueue) Size() int {
	total := 0
	for _, d := range q.queues {
		total += d.len()
	}
	return total
}

func (q *multiQueue) worker(index int) {
	defer q.wg.Done()
	for {
		task, ok := q.queues[index].popFront()
		if !ok {
			return
		}
		runTask(task, q.log.With(zap.Int("worker", index)))
	}
}
