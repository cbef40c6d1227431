// Package wire implements the payload grammar: the JSON event shapes a
// Set emits to string sinks and Pulses, and that a Set's receive
// accepts back.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/synerr"
)

// EventName is one of the four wire event shapes.
type EventName string

const (
	EventAdded   EventName = "added"
	EventRemoved EventName = "removed"
	EventChanged EventName = "changed"
	EventComment EventName = "comment"
)

// Change carries a property or named-value change. NewTimestamp is set
// (non-empty) only for a named-value change; its presence is what
// distinguishes the two changed shapes on the wire.
// An absent old/new value is omitted from the JSON rather than encoded
// as null (omitzero via scalar.Scalar.IsZero).
type Change struct {
	Property     string        `json:"property"`
	OldValue     scalar.Scalar `json:"old_value,omitzero"`
	NewValue     scalar.Scalar `json:"new_value,omitzero"`
	NewTimestamp string        `json:"new_timestamp,omitempty"`
}

// IsNamedValue reports whether this Change carries a named-value
// timestamp rather than a plain property change.
func (c Change) IsNamedValue() bool { return c.NewTimestamp != "" }

// Event is the wire envelope for all four shapes. Item is reused as the
// sparse ItemSnapshot: "removed"/"changed" only ever populate its ID
// field, "added" populates all of it.
type Event struct {
	EventName EventName      `json:"event_name"`
	Item      *item.Snapshot `json:"item,omitempty"`
	Change    *Change        `json:"change,omitempty"`
	Metadata  bool           `json:"_metadata,omitempty"`

	StartChecksum string `json:"start_checksum,omitempty"`
	EndChecksum   string `json:"end_checksum,omitempty"`
}

// IsFraming reports whether e is the bundle framing record (event_name
// "comment" with _metadata true).
func (e Event) IsFraming() bool { return e.EventName == EventComment && e.Metadata }

// NewAdded builds the "added" event for a freshly-inserted item.
func NewAdded(snap item.Snapshot) Event {
	s := snap
	return Event{EventName: EventAdded, Item: &s}
}

// NewRemoved builds the "removed" event for id.
func NewRemoved(id string) Event {
	return Event{EventName: EventRemoved, Item: &item.Snapshot{ID: id}}
}

// NewPropertyChanged builds a "changed" event for an observed property.
func NewPropertyChanged(id, property string, oldValue, newValue scalar.Scalar) Event {
	return Event{
		EventName: EventChanged,
		Item:      &item.Snapshot{ID: id},
		Change:    &Change{Property: property, OldValue: oldValue, NewValue: newValue},
	}
}

// NewNamedChanged builds a "changed" event for a named value.
func NewNamedChanged(id, name string, oldValue, newValue scalar.Scalar, newTimestamp time.Time) Event {
	return Event{
		EventName: EventChanged,
		Item:      &item.Snapshot{ID: id},
		Change: &Change{
			Property:     name,
			OldValue:     oldValue,
			NewValue:     newValue,
			NewTimestamp: FormatTimestamp(newTimestamp),
		},
	}
}

// NewFraming builds the bundle framing record emitted at trigger time.
// startChecksum == "" means "absent": the start_checksum key is left
// out of the payload.
func NewFraming(startChecksum, endChecksum string) Event {
	return Event{
		EventName:     EventComment,
		Metadata:      true,
		StartChecksum: startChecksum,
		EndChecksum:   endChecksum,
	}
}

// BuildEvent is the shared "framePayload" builder: it turns an
// Item-level change, keyed by eventName, into the wire Event. ch is nil
// for "added"/"removed".
func BuildEvent(eventName string, it *item.Item, ch *item.Change) (Event, error) {
	switch EventName(eventName) {
	case EventAdded:
		return NewAdded(it.ToSnapshot()), nil
	case EventRemoved:
		return NewRemoved(it.ID()), nil
	case EventChanged:
		if ch == nil {
			return Event{}, fmt.Errorf("%w: changed event requires a change", synerr.ErrInvalidArgument)
		}
		if ch.Kind == item.ChangeNamed {
			return NewNamedChanged(it.ID(), ch.Name, ch.OldValue, ch.NewValue, ch.NewTimestamp), nil
		}
		return NewPropertyChanged(it.ID(), ch.Name, ch.OldValue, ch.NewValue), nil
	default:
		return Event{}, fmt.Errorf("%w: %q", synerr.ErrUnknownEvent, eventName)
	}
}

// Encode serializes e as a single JSON payload string.
func Encode(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("%w: %v", synerr.ErrMalformed, err)
	}
	return string(data), nil
}

// Decode parses and structurally validates a single payload string.
// Unknown event names fail ErrUnknownEvent (a strict receiver's
// behavior); structurally incomplete known events fail ErrMalformed.
func Decode(raw string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", synerr.ErrMalformed, err)
	}
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (e Event) validate() error {
	switch e.EventName {
	case EventAdded:
		if e.Item == nil || e.Item.ID == "" {
			return fmt.Errorf("%w: added event missing item id", synerr.ErrMalformed)
		}
	case EventRemoved:
		if e.Item == nil || e.Item.ID == "" {
			return fmt.Errorf("%w: removed event missing item id", synerr.ErrMalformed)
		}
	case EventChanged:
		if e.Item == nil || e.Item.ID == "" {
			return fmt.Errorf("%w: changed event missing item id", synerr.ErrMalformed)
		}
		if e.Change == nil || e.Change.Property == "" {
			return fmt.Errorf("%w: changed event missing change.property", synerr.ErrMalformed)
		}
	case EventComment:
		// Framing records carry no further required fields.
	default:
		return fmt.Errorf("%w: %q", synerr.ErrUnknownEvent, e.EventName)
	}
	return nil
}

// Bundle is an ordered sequence of encoded payloads, the shape stored at
// "{prefix}.pulsars.{tag}".
type Bundle []string

// DecodeBundle parses every entry strictly; the first malformed or
// unknown-event entry fails the whole bundle.
func DecodeBundle(b Bundle) ([]Event, error) {
	events := make([]Event, 0, len(b))
	for _, raw := range b {
		e, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// FormatTimestamp renders t as the canonical ISO-8601 instant used on
// the wire.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
