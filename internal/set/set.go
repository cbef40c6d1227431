// Package set implements Set: an ordered-insertion collection of Items
// of one declared class, its event fan-out to transmit sinks, reception
// and application of remote wire events, a deterministic set-wide
// checksum, and forced reconciliation to a target item list.
package set

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/notion"
	"github.com/gosynchro/synchro/internal/registry"
	"github.com/gosynchro/synchro/internal/synerr"
	"github.com/gosynchro/synchro/internal/wire"
)

// StringSinkFunc is the payload-function sink variant: it receives one
// already-encoded wire payload per event.
type StringSinkFunc func(payload string) error

// StructuredSink is the Pulse-like sink variant: events are queued
// rather than transmitted immediately.
type StructuredSink interface {
	Queue(eventName string, it *item.Item, ch *item.Change) error
}

// Sink is a sum type over the two transmit-sink shapes: exactly one
// of asString/asStructured is set.
type Sink struct {
	asString     StringSinkFunc
	asStructured StructuredSink
}

// NewStringSink wraps a payload-function sink.
func NewStringSink(fn StringSinkFunc) Sink { return Sink{asString: fn} }

// NewStructuredSink wraps a Pulse-like sink.
func NewStructuredSink(s StructuredSink) Sink { return Sink{asStructured: s} }

// Listener observes Set-level added/removed/changed events. ch is nil
// for "added" and "removed".
type Listener func(eventName string, it *item.Item, ch *item.Change)

// Set holds items of one registered class.
type Set struct {
	mu sync.Mutex

	record registry.Record
	items  map[string]*item.Item
	order  []string
	unsubs map[string]func()

	sinks     []Sink
	listeners []Listener

	lastReceivedAt time.Time
	checksum       *string
}

// New creates a Set managing instances of rec.ClassName.
func New(rec registry.Record) *Set {
	return &Set{
		record: rec,
		items:  make(map[string]*item.Item),
		unsubs: make(map[string]func()),
	}
}

// ClassName returns the declared managed class.
func (s *Set) ClassName() string { return s.record.ClassName }

// OnChanged registers a Set-level listener.
func (s *Set) OnChanged(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SetTransmit replaces the transmit sink list. Passing no sinks disables
// transmission (the "none" setting).
func (s *Set) SetTransmit(sinks ...Sink) {
	s.mu.Lock()
	s.sinks = append([]Sink(nil), sinks...)
	s.mu.Unlock()
}

// LastReceivedAt returns the instant of the most recent successful
// Receive call (the zero time if none has occurred).
func (s *Set) LastReceivedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceivedAt
}

// Add inserts it, subscribes the Set's internal listener to its
// changes, and fans out an "added" event. A non-nil return with the
// item inserted means a transmit sink failed; the insertion itself
// stands.
func (s *Set) Add(it *item.Item) error {
	if it.ClassName() != s.record.ClassName {
		return fmt.Errorf("%w: set holds %q, got %q", synerr.ErrWrongType, s.record.ClassName, it.ClassName())
	}

	s.mu.Lock()
	if _, exists := s.items[it.ID()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: id %q", synerr.ErrDuplicateID, it.ID())
	}
	s.items[it.ID()] = it
	s.order = append(s.order, it.ID())
	s.unsubs[it.ID()] = it.OnChanged(func(changedItem *item.Item, ch item.Change) {
		s.invalidateChecksum()
		chCopy := ch
		s.dispatch("changed", changedItem, &chCopy)
	})
	s.checksum = nil
	s.mu.Unlock()

	return s.dispatch("added", it, nil)
}

// Remove deletes the item with id, unsubscribing its listener and
// fanning out a "removed" event.
func (s *Set) Remove(id string) error {
	if id == "" {
		return fmt.Errorf("%w", synerr.ErrMissingIDField)
	}

	s.mu.Lock()
	it, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: id %q", synerr.ErrNotFound, id)
	}
	if unsub, ok := s.unsubs[id]; ok {
		unsub()
		delete(s.unsubs, id)
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.checksum = nil
	s.mu.Unlock()

	return s.dispatch("removed", it, nil)
}

// Find returns the item with id, if present.
func (s *Set) Find(id string) (*item.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// All returns all items in insertion order.
func (s *Set) All() []*item.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*item.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

func (s *Set) invalidateChecksum() {
	s.mu.Lock()
	s.checksum = nil
	s.mu.Unlock()
}

// dispatch fans an event out to Set-level listeners, then to each
// transmit sink in configured order. A panicking or erroring sink is
// isolated (recorded as the returned error) so later sinks still receive
// the event. The first error encountered, if any, is returned.
func (s *Set) dispatch(eventName string, it *item.Item, ch *item.Change) error {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(eventName, it, ch)
		}
	}

	var firstErr error
	for _, sink := range sinks {
		if err := s.deliver(sink, eventName, it, ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Set) deliver(sink Sink, eventName string, it *item.Item, ch *item.Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synchro: sink panic: %v", r)
		}
	}()

	switch {
	case sink.asStructured != nil:
		return sink.asStructured.Queue(eventName, it, ch)
	case sink.asString != nil:
		e, buildErr := wire.BuildEvent(eventName, it, ch)
		if buildErr != nil {
			return buildErr
		}
		payload, encErr := wire.Encode(e)
		if encErr != nil {
			return encErr
		}
		return sink.asString(payload)
	default:
		return nil
	}
}

// Receive parses and applies one wire payload. The framing ("comment")
// event is silently ignored.
func (s *Set) Receive(raw string) error {
	e, err := wire.Decode(raw)
	if err != nil {
		return err
	}

	switch e.EventName {
	case wire.EventAdded:
		it, buildErr := s.record.FromSnapshot(*e.Item)
		if buildErr != nil {
			return fmt.Errorf("%w: %v", synerr.ErrMalformed, buildErr)
		}
		if err := s.Add(it); err != nil {
			return err
		}
	case wire.EventRemoved:
		if err := s.Remove(e.Item.ID); err != nil {
			return err
		}
	case wire.EventChanged:
		it, ok := s.Find(e.Item.ID)
		if !ok {
			return fmt.Errorf("%w: id %q", synerr.ErrUnknownItem, e.Item.ID)
		}
		if e.Change.IsNamedValue() {
			ts, parseErr := notion.ParseTimestamp(e.Change.NewTimestamp)
			if parseErr != nil {
				return parseErr
			}
			it.SetNamed(e.Change.Property, e.Change.NewValue, ts)
		} else if err := it.SetProperty(e.Change.Property, e.Change.NewValue); err != nil {
			return err
		}
	case wire.EventComment:
		// Framing record: silently ignored here; the Consumer engine
		// inspects it before submitting entries to Receive.
	}

	s.mu.Lock()
	s.lastReceivedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// UpdateSetTo forcibly reconciles this Set's membership and per-item
// state to match target: items present only in target are added, items
// present only in the Set are removed, items present in both are
// updated in place. Order: add, then remove, then update.
func (s *Set) UpdateSetTo(target []*item.Item) error {
	targetByID := make(map[string]*item.Item, len(target))
	for _, it := range target {
		targetByID[it.ID()] = it
	}

	s.mu.Lock()
	existingByID := make(map[string]*item.Item, len(s.items))
	for id, it := range s.items {
		existingByID[id] = it
	}
	s.mu.Unlock()

	for _, it := range target {
		if _, ok := existingByID[it.ID()]; !ok {
			if err := s.Add(it); err != nil {
				return err
			}
		}
	}
	for id := range existingByID {
		if _, ok := targetByID[id]; !ok {
			if err := s.Remove(id); err != nil {
				return err
			}
		}
	}
	for id, it := range existingByID {
		if tgt, ok := targetByID[id]; ok {
			if err := it.UpdateTo(tgt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Checksum is a pure, lazily-memoized function of the per-item checksums
// of every member, items sorted by id.
func (s *Set) Checksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checksum != nil {
		return *s.checksum
	}

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var concat string
	for _, id := range ids {
		concat += s.items[id].Checksum()
	}

	sum := sha256.Sum256([]byte(concat))
	out := hex.EncodeToString(sum[:])
	s.checksum = &out
	return out
}
