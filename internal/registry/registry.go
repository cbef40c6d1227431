// Package registry replaces a dynamically-typed "managed class" object
// (carrying a constructor and a static fromSnapshot) with a plain Go
// value — a Record — held in a Registry that producer and consumer
// endpoints each populate independently: one or more
// {className → constructor, fromSnapshot, observedProperties} records.
package registry

import (
	"fmt"
	"sync"

	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/synerr"
)

// Record binds one class name to the operations a Set needs to construct
// and validate instances of it.
type Record struct {
	ClassName          string
	New                func(id string) *item.Item
	FromSnapshot       func(snap item.Snapshot) (*item.Item, error)
	ObservedProperties []string
}

// Validate reports whether rec has everything a Set needs: a class
// name, a constructor, and a fromSnapshot.
func (r Record) Validate() error {
	if r.ClassName == "" {
		return fmt.Errorf("%w: record has no class name", synerr.ErrInvalidArgument)
	}
	if r.New == nil {
		return fmt.Errorf("%w: record %q has no constructor", synerr.ErrInvalidArgument, r.ClassName)
	}
	if r.FromSnapshot == nil {
		return fmt.Errorf("%w: record %q has no fromSnapshot", synerr.ErrInvalidArgument, r.ClassName)
	}
	return nil
}

// Simple builds a Record for a class with no bespoke Go type: New and
// FromSnapshot both produce a generic *item.Item whose observed property
// set is exactly observedProperties. This is the common case — most
// consumers of this package don't need a hand-written Go struct per
// class, just a declared property list.
func Simple(className string, observedProperties []string) Record {
	ctor := func(id string) *item.Item {
		it := item.New(className, id)
		_ = it.DeclareObserved(observedProperties)
		return it
	}
	return Record{
		ClassName: className,
		New:       ctor,
		FromSnapshot: func(snap item.Snapshot) (*item.Item, error) {
			it := ctor(snap.ID)
			if err := it.ApplySnapshot(snap); err != nil {
				return nil, err
			}
			return it, nil
		},
		ObservedProperties: observedProperties,
	}
}

// Registry is a concurrency-safe map of className to Record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register adds rec, failing with InvalidArgument if rec is incomplete
// or its class name is already registered.
func (r *Registry) Register(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ClassName]; exists {
		return fmt.Errorf("%w: class %q already registered", synerr.ErrInvalidArgument, rec.ClassName)
	}
	r.records[rec.ClassName] = rec
	return nil
}

// Lookup returns the Record for className, if any.
func (r *Registry) Lookup(className string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[className]
	return rec, ok
}

// ClassNames returns all registered class names, in no particular order.
func (r *Registry) ClassNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.records))
	for n := range r.records {
		names = append(names, n)
	}
	return names
}
