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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var allTypes = []Type{TypeSimple, TypeMulti, TypeWorkStealing}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(TypeSimple, 0, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Type("bogus"), 2, zap.NewNop())
	assert.Error(t, err)
}

func TestWorkQueueExecutesAllTasks(t *testing.T) {
	for _, qt := range allTypes {
		qt := qt
		t.Run(string(qt), func(t *testing.T) {
			q, err := New(qt, 4, zap.NewNop())
			require.NoError(t, err)
			q.Start()
			defer q.Stop()

			const n = 200
			var done int32
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				ok := q.Execute(func() {
					atomic.AddInt32(&done, 1)
					wg.Done()
				})
				require.True(t, ok)
			}
			wg.Wait()
			assert.Equal(t, int32(n), atomic.LoadInt32(&done))
			assert.True(t, q.IsEmpty())
			assert.Equal(t, 0, q.Size())
		})
	}
}

func TestWorkQueueSurvivesPanickingTask(t *testing.T) {
	for _, qt := range allTypes {
		qt := qt
		t.Run(string(qt), func(t *testing.T) {
			q, err := New(qt, 2, zap.NewNop())
			require.NoError(t, err)
			q.Start()
			defer q.Stop()

			var wg sync.WaitGroup
			wg.Add(4)
			for i := 0; i < 4; i++ {
				require.True(t, q.Execute(func() {
					defer wg.Done()
					panic("task blew up")
				}))
			}
			wg.Wait()

			// Workers are still alive and keep draining.
			var ran int32
			wg.Add(4)
			for i := 0; i < 4; i++ {
				require.True(t, q.Execute(func() {
					atomic.AddInt32(&ran, 1)
					wg.Done()
				}))
			}
			wg.Wait()
			assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
		})
	}
}

func TestWorkQueueRejectsAfterStop(t *testing.T) {
	for _, qt := range allTypes {
		qt := qt
		t.Run(string(qt), func(t *testing.T) {
			q, err := New(qt, 2, zap.NewNop())
			require.NoError(t, err)
			q.Start()
			q.Stop()
			assert.False(t, q.Execute(func() {}))
		})
	}
}

func TestWorkQueueStopUnblocksIdleWorkers(t *testing.T) {
	for _, qt := range allTypes {
		qt := qt
		t.Run(string(qt), func(t *testing.T) {
			q, err := New(qt, 4, zap.NewNop())
			require.NoError(t, err)
			q.Start()

			stopped := make(chan struct{})
			go func() {
				q.Stop()
				close(stopped)
			}()

			select {
			case <-stopped:
			case <-time.After(5 * time.Second):
				t.Fatal("Stop did not return; a worker is stuck blocking")
			}
		})
	}
}

func TestWorkQueueSizeCountsPendingTasks(t *testing.T) {
	for _, qt := range allTypes {
		qt := qt
		t.Run(string(qt), func(t *testing.T) {
			q, err := New(qt, 1, zap.NewNop())
			require.NoError(t, err)

			// Not started yet, so everything queued stays pending.
			for i := 0; i < 3; i++ {
				require.True(t, q.Execute(func() {}))
			}
			assert.Equal(t, 3, q.Size())
			assert.False(t, q.IsEmpty())

			q.Start()
			defer q.Stop()
			deadline := time.Now().Add(5 * time.Second)
			for !q.IsEmpty() && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			assert.True(t, q.IsEmpty())
		})
	}
}

func TestWorkStealingBalancesSkewedLoad(t *testing.T) {
	q, err := New(TypeWorkStealing, 4, zap.NewNop())
	require.NoError(t, err)

	// Queue everything before starting; round-robin puts a task in every
	// shard, then stealing lets all of them finish even though most tasks
	// land while only some workers are busy.
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.True(t, q.Execute(func() {
			time.Sleep(time.Millisecond)
			wg.Done()
		}))
	}

	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("queued tasks did not all complete")
	}
}
