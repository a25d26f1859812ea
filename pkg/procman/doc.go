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

// Package procman implements a saga-style transaction coordinator with a
// durable compensation log.
//
// A caller obtains a Process from the SynchronousManager and executes
// business activities through it, each pairing a forward action with a
// compensating backward action. Compensations are logged to a relational
// store before the forward action runs, so a process interrupted by a crash
// can later be compensated by the AsynchronousManager's recovery scheduler
// without the original caller present. Forward actions run at least once;
// backward actions must be idempotent since racing coordinators may both
// attempt the same compensation.
//
// VolatileProcess offers the same execution protocol without persistence,
// for operations whose caller stays synchronously present throughout.
package procman
