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

	"github.com/puzpuzpuz/xsync/v3"
)

// BackwardConstructor builds a fresh backward behaviour. Recovery calls it
// once per compensation attempt, so constructors must be cheap and must not
// capture per-process state.
type BackwardConstructor func() BackwardBehaviour

// ActivityRegistry maps persisted compensation locators to backward
// behaviour constructors. Processes log the locator next to each step's
// parameters; recovery resolves it back here, possibly in a different
// coordinator instance than the one that ran the forward action. All methods
// are safe for concurrent use.
type ActivityRegistry struct {
	constructors *xsync.MapOf[string, BackwardConstructor]
}

// NewActivityRegistry creates an empty registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		constructors: xsync.NewMapOf[string, BackwardConstructor](),
	}
}

// Register associates a locator with a backward behaviour constructor.
// Registering the same locator twice is an error; every coordinator that may
// recover a process must register the same locators.
func (r *ActivityRegistry) Register(name string, ctor BackwardConstructor) error {
	if name == "" {
		return fmt.Errorf("activity locator must not be empty")
	}
	if ctor == nil {
		return fmt.Errorf("activity %q: constructor must not be nil", name)
	}
	if _, loaded := r.constructors.LoadOrStore(name, ctor); loaded {
		return fmt.Errorf("activity %q already registered", name)
	}
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *ActivityRegistry) MustRegister(name string, ctor BackwardConstructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Resolve builds a backward behaviour for a persisted locator.
func (r *ActivityRegistry) Resolve(name string) (BackwardBehaviour, error) {
	ctor, ok := r.constructors.Load(name)
	if !ok {
		return nil, NewCompensationNotResolvedError(name)
	}
	return ctor(), nil
}

// Contains reports whether a locator is registered. Steps are validated
// against the registry before their compensation is logged, so an
// unresolvable locator is caught while the process is still in the caller's
// hands.
func (r *ActivityRegistry) Contains(name string) bool {
	_, ok := r.constructors.Load(name)
	return ok
}

// Size returns the number of registered locators.
func (r *ActivityRegistry) Size() int {
	return r.constructors.Size()
}
