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

// Package logger provides the process-wide zap logger used by all procman
// components. Components accept an explicit *zap.Logger and fall back to a
// named child of this logger when none is supplied.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	// Logger is the package-wide fallback logger. Hosts that want their own
	// zap configuration should assign it before any procman component is
	// constructed, or pass loggers explicitly.
	Logger *zap.Logger

	mu          sync.RWMutex
	initialized bool
)

// InitLogger installs a zap production logger as the fallback if none has
// been set yet. Calling it again is a no-op. It panics only if zap cannot
// build its default configuration, which in practice does not happen.
func InitLogger() {
	mu.Lock()
	defer mu.Unlock()

	if !initialized || Logger == nil {
		var err error
		Logger, err = zap.NewProduction()
		if err != nil {
			panic(err)
		}
		initialized = true
	}
}

// GetLogger returns the fallback logger, building it on first use.
func GetLogger() *zap.Logger {
	mu.RLock()
	if initialized && Logger != nil {
		defer mu.RUnlock()
		return Logger
	}
	mu.RUnlock()

	InitLogger()

	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// Named returns a child of the fallback logger carrying the given component
// name. Constructors use it when the caller passes no logger.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// ResetLogger flushes and discards the fallback logger so the next GetLogger
// builds a fresh one. Tests use it to isolate logger state.
func ResetLogger() {
	mu.Lock()
	defer mu.Unlock()

	if Logger != nil {
		Logger.Sync()
	}
	Logger = nil
	initialized = false
}
