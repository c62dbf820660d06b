// Package registry implements the post-sync callback registry.
package registry

import (
	"fmt"
	"sync"

	"github.com/st-keller/binjatron/types"
)

// Callback receives the raw results of a successful poll.
type Callback func(results []*types.Result)

// ID identifies a registration.
type ID uint64

// Registry holds callbacks in registration order. It is safe for concurrent
// use and outlives sync sessions.
type Registry struct {
	mu sync.Mutex

	entries []*entry
	nextID  ID

	// called with the recovered value when a callback panics
	onPanic func(id ID, recovered interface{})
}

type entry struct {
	id         ID
	callback   Callback
	persistent bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make([]*entry, 0),
		nextID:  1,
	}
}

// Register adds a callback. persistent is optional: omit (or false) = the
// callback fires once and is then dropped, true = it fires after every
// successful poll.
func (r *Registry) Register(callback Callback, persistent ...bool) (ID, error) {
	if callback == nil {
		return 0, fmt.Errorf("callback required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		id:         r.nextID,
		callback:   callback,
		persistent: len(persistent) > 0 && persistent[0],
	}
	r.nextID++
	r.entries = append(r.entries, e)

	return e.id, nil
}

// Unregister removes a callback. Returns false if the ID is unknown (or a
// one-shot callback has already fired).
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// SetPanicHandler sets the function told about callbacks that panic.
func (r *Registry) SetPanicHandler(f func(id ID, recovered interface{})) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = f
}

// Dispatch invokes every registered callback in registration order and
// returns the number invoked.
//
// The registry is snapshotted first and the one-shot entries of the snapshot
// are dropped in the same critical section, so a one-shot callback can never
// fire twice even if two dispatches overlap. Callbacks registered while the
// dispatch runs are kept and fire on the next dispatch. A panicking callback
// does not stop the remaining callbacks.
func (r *Registry) Dispatch(results []*types.Result) int {
	r.mu.Lock()
	snapshot := make([]*entry, len(r.entries))
	copy(snapshot, r.entries)

	keep := r.entries[:0]
	for _, e := range r.entries {
		if e.persistent {
			keep = append(keep, e)
		}
	}
	for i := len(keep); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = keep
	onPanic := r.onPanic
	r.mu.Unlock()

	for _, e := range snapshot {
		r.invoke(e, results, onPanic)
	}

	return len(snapshot)
}

func (r *Registry) invoke(e *entry, results []*types.Result, onPanic func(ID, interface{})) {
	defer func() {
		if rec := recover(); rec != nil && onPanic != nil {
			onPanic(e.id, rec)
		}
	}()
	e.callback(results)
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
