// Package item implements Item: an identified object that owns observed
// scalar properties and timestamped named values, emits per-property
// change events, and exposes a deterministic checksum.
//
// Rather than relying on subclass setter discipline — a subclass's
// property setters calling markDirty() after each assignment — this
// Item exposes a single explicit dispatcher, SetProperty, that performs
// the write, the diff against the last-observed value, checksum
// invalidation, and event emission in one synchronous step. There is no
// separate external "current value" to re-read — the Item itself is the
// store — so DeclareObserved's "dirty sweep" degenerates to establishing
// the Absent baseline for names that have never been set.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosynchro/synchro/internal/idgen"
	"github.com/gosynchro/synchro/internal/notion"
	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/synerr"
)

// ChangeKind distinguishes an observed-property change from a named-value
// change on the same Item.
type ChangeKind int

const (
	ChangeProperty ChangeKind = iota
	ChangeNamed
)

// Change describes a single Item-level mutation delivered to listeners.
// Timestamps are only meaningful for ChangeNamed.
type Change struct {
	Kind         ChangeKind
	Name         string
	OldValue     scalar.Scalar
	NewValue     scalar.Scalar
	OldTimestamp time.Time
	NewTimestamp time.Time
}

// Listener is notified synchronously after a Change has already been
// applied (the checksum cache has already been invalidated).
type Listener func(it *Item, ch Change)

// Item is an identified object of one declared class. All fields are
// guarded by mu; listeners are invoked with mu released, so a listener
// may read the Item (checksum included) without deadlocking.
type Item struct {
	id        string
	className string

	mu            sync.Mutex
	observedOrder []string
	properties    map[string]scalar.Scalar
	namedValues   map[string]*notion.NamedValue
	checksum      *string // nil == needs recompute
	listeners     []Listener
}

// New creates an Item of className. If id is empty, one is generated via
// idgen.Default.
func New(className, id string) *Item {
	if id == "" {
		id = idgen.Default.NewID(className)
	}
	return &Item{
		id:          id,
		className:   className,
		properties:  make(map[string]scalar.Scalar),
		namedValues: make(map[string]*notion.NamedValue),
	}
}

func (it *Item) ID() string        { return it.id }
func (it *Item) ClassName() string { return it.className }

// OnChanged registers a listener and returns a function that removes it.
func (it *Item) OnChanged(fn Listener) (unsubscribe func()) {
	it.mu.Lock()
	it.listeners = append(it.listeners, fn)
	idx := len(it.listeners) - 1
	it.mu.Unlock()
	return func() {
		it.mu.Lock()
		if idx < len(it.listeners) {
			it.listeners[idx] = nil
		}
		it.mu.Unlock()
	}
}

// emit delivers ch to every listener. The caller must have already
// applied the mutation and invalidated the checksum; mu must not be
// held.
func (it *Item) emit(ch Change) {
	it.mu.Lock()
	listeners := append([]Listener(nil), it.listeners...)
	it.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(it, ch)
		}
	}
}

// DeclareObserved sets the ordered list of property names this Item
// tracks. Previously unknown names are initialized to Absent. Calling
// this again does not re-emit events for names whose value is already
// tracked.
func (it *Item) DeclareObserved(names []string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%w: empty observed property name", synerr.ErrInvalidArgument)
		}
	}
	it.mu.Lock()
	it.observedOrder = append([]string(nil), names...)
	for _, name := range names {
		if _, ok := it.properties[name]; !ok {
			it.properties[name] = scalar.Absent()
		}
	}
	it.mu.Unlock()
	return nil
}

// ObservedNames returns the declared observed property names, in
// declaration order.
func (it *Item) ObservedNames() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]string(nil), it.observedOrder...)
}

// isObservedLocked reports whether name was declared via DeclareObserved.
func (it *Item) isObservedLocked(name string) bool {
	for _, n := range it.observedOrder {
		if n == name {
			return true
		}
	}
	return false
}

// SetProperty writes an observed property's value. This is the explicit
// dispatcher that both assigns and diffs, firing Change{Kind:
// ChangeProperty} iff the value actually differs.
func (it *Item) SetProperty(name string, value scalar.Scalar) error {
	it.mu.Lock()
	if !it.isObservedLocked(name) {
		it.mu.Unlock()
		return fmt.Errorf("%w: property %q is not declared observed on %s", synerr.ErrInvalidArgument, name, it.className)
	}
	old := it.properties[name]
	if old.Equal(value) {
		it.mu.Unlock()
		return nil
	}
	it.properties[name] = value
	it.checksum = nil
	it.mu.Unlock()

	it.emit(Change{Kind: ChangeProperty, Name: name, OldValue: old, NewValue: value})
	return nil
}

// Property reads the last-observed value of name.
func (it *Item) Property(name string) (scalar.Scalar, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	v, ok := it.properties[name]
	return v, ok
}

// SetNamed creates the NamedValue if absent and replaces its (value,
// timestamp), emitting Change{Kind: ChangeNamed} iff either differs.
func (it *Item) SetNamed(name string, value scalar.Scalar, timestamp time.Time) {
	it.mu.Lock()
	nv, ok := it.namedValues[name]
	if !ok {
		nv = notion.New(name)
		it.namedValues[name] = nv
	}
	oldValue, oldTimestamp := nv.Value(), nv.Timestamp()
	if value.Equal(oldValue) && timestamp.Equal(oldTimestamp) {
		it.mu.Unlock()
		return
	}
	nv.Set(value, timestamp)
	it.checksum = nil
	it.mu.Unlock()

	it.emit(Change{
		Kind:         ChangeNamed,
		Name:         name,
		OldValue:     oldValue,
		NewValue:     value,
		OldTimestamp: oldTimestamp,
		NewTimestamp: timestamp,
	})
}

// SetNamedNow is SetNamed with timestamp = time.Now().
func (it *Item) SetNamedNow(name string, value scalar.Scalar) {
	it.SetNamed(name, value, time.Now())
}

// UnsetNamed removes a NamedValue silently — no Change is emitted.
func (it *Item) UnsetNamed(name string) {
	it.mu.Lock()
	if _, ok := it.namedValues[name]; ok {
		delete(it.namedValues, name)
		it.checksum = nil
	}
	it.mu.Unlock()
}

// GetNamed reads the current value of a named value.
func (it *Item) GetNamed(name string) (scalar.Scalar, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	nv, ok := it.namedValues[name]
	if !ok {
		return scalar.Absent(), false
	}
	return nv.Value(), true
}

// NamedNames returns the currently-set named-value names in no
// particular order.
func (it *Item) NamedNames() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	names := make([]string, 0, len(it.namedValues))
	for n := range it.namedValues {
		names = append(names, n)
	}
	return names
}

// Snapshot is the wire/serialized form of an Item.
type Snapshot struct {
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	Notions    map[string]notion.Snapshot `json:"notions"`
	Properties map[string]scalar.Scalar   `json:"properties"`
}

// ToSnapshot serializes the current state.
func (it *Item) ToSnapshot() Snapshot {
	it.mu.Lock()
	defer it.mu.Unlock()
	// Absent properties are left out of the snapshot entirely; the
	// receiving constructor re-establishes the Absent baseline when it
	// declares its observed set, so omission round-trips cleanly where
	// an encoded null would come back as Null.
	props := make(map[string]scalar.Scalar, len(it.observedOrder))
	for _, name := range it.observedOrder {
		if v := it.properties[name]; !v.IsAbsent() {
			props[name] = v
		}
	}
	notions := make(map[string]notion.Snapshot, len(it.namedValues))
	for name, nv := range it.namedValues {
		notions[name] = nv.ToSnapshot()
	}
	return Snapshot{ID: it.id, Type: it.className, Notions: notions, Properties: props}
}

// ApplySnapshot assigns properties and named values from snap onto an
// already-constructed Item (whose observed set has already been declared
// by its constructor). It does not re-declare the observed set.
func (it *Item) ApplySnapshot(snap Snapshot) error {
	if snap.Type != it.className {
		return fmt.Errorf("%w: snapshot class %q does not match %q", synerr.ErrWrongType, snap.Type, it.className)
	}
	for name, value := range snap.Properties {
		it.mu.Lock()
		observed := it.isObservedLocked(name)
		it.mu.Unlock()
		if !observed {
			continue // unknown-to-us properties are reserved/ignored
		}
		if err := it.SetProperty(name, value); err != nil {
			return err
		}
	}
	for name, ns := range snap.Notions {
		ns.Name = name
		nv, err := notion.FromSnapshot(ns)
		if err != nil {
			return err
		}
		it.SetNamed(name, nv.Value(), nv.Timestamp())
	}
	return nil
}

// namedState is a point-in-time copy of every named value, taken under
// the item's lock so UpdateTo never reads another Item's cells raw.
func (it *Item) namedState() map[string]Change {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make(map[string]Change, len(it.namedValues))
	for name, nv := range it.namedValues {
		out[name] = Change{Name: name, NewValue: nv.Value(), NewTimestamp: nv.Timestamp()}
	}
	return out
}

// UpdateTo reconciles this Item's state to match target: copies observed
// properties (by name, only where unequal) and reconciles named values
// (update on value/timestamp change, unset those absent in target, set
// those new in target). Fails with ErrTypeMismatch if target is not of
// the same class.
func (it *Item) UpdateTo(target *Item) error {
	if target.className != it.className {
		return fmt.Errorf("%w: cannot update %s from %s", synerr.ErrTypeMismatch, it.className, target.className)
	}

	for _, name := range it.ObservedNames() {
		tv, ok := target.Property(name)
		if !ok {
			continue
		}
		if err := it.SetProperty(name, tv); err != nil {
			return err
		}
	}

	targetNamed := target.namedState()
	for _, name := range it.NamedNames() {
		if _, ok := targetNamed[name]; !ok {
			it.UnsetNamed(name)
		}
	}
	for name, tn := range targetNamed {
		it.SetNamed(name, tn.NewValue, tn.NewTimestamp)
	}

	return nil
}

// Checksum is a pure, lazily-memoized function of (id, class name, sorted
// properties, sorted named values including timestamps).
func (it *Item) Checksum() string {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.checksum != nil {
		return *it.checksum
	}

	var parts []string
	parts = append(parts, "id:"+it.id, "type:"+it.className)

	propNames := append([]string(nil), it.observedOrder...)
	sort.Strings(propNames)
	for _, name := range propNames {
		parts = append(parts, "prop:"+name+":"+it.properties[name].Encode())
	}

	notionNames := make([]string, 0, len(it.namedValues))
	for name := range it.namedValues {
		notionNames = append(notionNames, name)
	}
	sort.Strings(notionNames)
	for _, name := range notionNames {
		nv := it.namedValues[name]
		parts = append(parts, "notion:"+name+":"+nv.Value().Encode()+":"+isoInstant(nv.Timestamp()))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	digest := hex.EncodeToString(sum[:])
	it.checksum = &digest
	return digest
}

func isoInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
