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
	"time"

	"go.uber.org/zap"
)

// idlePollInterval is how long a stealing worker sleeps after finding every
// shard empty before polling again.
const idlePollInterval = 500 * time.Millisecond

// workStealingQueue shards tasks like multiQueue but lets an idle worker
// poll every other shard before sleeping. Tasks are enqueued at the front
// and drained from the back of the owning shard; thieves take from the
// front, so the oldest work migrates first.
type workStealingQueue struct {
	nWorkers int
	queues   []*deque
	next     atomic.Uint64
	log      *zap.Logger

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newWorkStealingQueue(nWorkers int, log *zap.Logger) *workStealingQueue {
	queues := make([]*deque, nWorkers)
	for i := range queues {
		queues[i] = newDeque()
	}
	return &workStealingQueue{
		nWorkers: nWorkers,
		queues:   queues,
		log:      log.With(zap.String("strategy", string(TypeWorkStealing))),
		stopCh:   make(chan struct{}),
	}
}

func (q *workStealingQueue) Start() {
	if q.started.Swap(true) {
		return
	}
	for i := 0; i < q.nWorkers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Debug("work queue started", zap.Int("workers", q.nWorkers))
}

func (q *workStealingQueue) Stop() {
	if q.stopped.Swap(true) {
		return
	}
	close(q.stopCh)
	for _, d := range q.queues {
		d.close()
	}
	q.wg.Wait()
	q.log.Debug("work queue stopped")
}

func (q *workStealingQueue) Execute(task Task) bool {
	if q.stopped.Load() {
		return false
	}
	shard := int(q.next.Add(1)-1) % q.nWorkers
	return q.queues[shard].pushFront(task)
}

func (q *workStealingQueue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *workStealingQueue) Size() int {
	total := 0
	for _, d := range q.queues {
		total += d.len()
	}
	return total
}

// stealWork polls every shard other than the worker's own, oldest work
// first. Returns nil when there is nothing to steal.
func (q *workStealingQueue) stealWork(index int) Task {
	for i := 0; i < q.nWorkers; i++ {
		if i == index {
			continue
		}
		if task, ok := q.queues[i].tryPopFront(); ok {
			return task
		}
	}
	return nil
}

func (q *workStealingQueue) worker(index int) {
	defer q.wg.Done()
	log := q.log.With(zap.Int("worker", index))

	idle := time.NewTimer(idlePollInterval)
	defer idle.Stop()

	for {
		task, ok := q.queues[index].tryPopBack()
		if !ok {
			if task = q.stealWork(index); task == nil {
				// Nothing to steal either; sleep briefly, then
				// re-check for work or a stop request.
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(idlePollInterval)
				select {
				case <-q.stopCh:
					return
				case <-idle.C:
				}
				continue
			}
		}

		runTask(task, log)
	}
}
