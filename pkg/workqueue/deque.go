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

import "sync"

const dequeMinCapacity = 8

// deque is an unbounded double-ended task queue over a growable ring buffer,
// so both ends push and pop in amortized constant time. popFront blocks until
// an item arrives or the deque is closed; the try variants never block.
// Closing wakes every blocked popper.
type deque struct {
	mu     sync.Mutex
	notify *sync.Cond
	buf    []Task
	head   int
	count  int
	closed bool
}

func newDeque() *deque {
	d := &deque{}
	d.notify = sync.NewCond(&d.mu)
	return d
}

// grow doubles the buffer when full. Callers hold mu.
func (d *deque) grow() {
	if d.count < len(d.buf) {
		return
	}
	capacity := 2 * len(d.buf)
	if capacity < dequeMinCapacity {
		capacity = dequeMinCapacity
	}
	buf := make([]Task, capacity)
	for i := 0; i < d.count; i++ {
		buf[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = buf
	d.head = 0
}

func (d *deque) pushBack(t Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.grow()
	d.buf[(d.head+d.count)%len(d.buf)] = t
	d.count++
	d.notify.Signal()
	return true
}

func (d *deque) pushFront(t Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = t
	d.count++
	d.notify.Signal()
	return true
}

// popFront blocks until a task is available or the deque is closed.
// The second return is false only when the deque was closed while empty.
func (d *deque) popFront() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.count == 0 && !d.closed {
		d.notify.Wait()
	}
	if d.count == 0 {
		return nil, false
	}
	return d.takeFront(), true
}

func (d *deque) tryPopFront() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return nil, false
	}
	return d.takeFront(), true
}

func (d *deque) tryPopBack() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return nil, false
	}
	i := (d.head + d.count - 1) % len(d.buf)
	t := d.buf[i]
	d.buf[i] = nil
	d.count--
	return t, true
}

// takeFront removes and returns the head task. Callers hold mu and have
// checked that the deque is non-empty.
func (d *deque) takeFront() Task {
	t := d.buf[d.head]
	d.buf[d.head] = nil
	d.head = (d.head + 1) % len(d.buf)
	d.count--
	return t
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *deque) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.notify.Broadcast()
}
