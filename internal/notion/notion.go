// Package notion implements NamedValue: a (name, value, timestamp) cell
// with change notification, addressed by name on an Item as an
// alternative to subclassing.
package notion

import (
	"fmt"
	"time"

	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/synerr"
)

// ChangedFunc is invoked synchronously whenever Set changes (value,
// timestamp).
type ChangedFunc func(name string, oldValue, newValue scalar.Scalar, oldTimestamp, newTimestamp time.Time)

// NamedValue is a single (name, value, timestamp) cell.
type NamedValue struct {
	name      string
	value     scalar.Scalar
	timestamp time.Time
	onChanged ChangedFunc
}

// New creates a NamedValue with no value yet set (Absent, zero time).
func New(name string) *NamedValue {
	return &NamedValue{name: name, value: scalar.Absent()}
}

// OnChanged registers the single change listener. The Item that owns this
// NamedValue is the only expected caller.
func (n *NamedValue) OnChanged(fn ChangedFunc) { n.onChanged = fn }

func (n *NamedValue) Name() string           { return n.name }
func (n *NamedValue) Value() scalar.Scalar   { return n.value }
func (n *NamedValue) Timestamp() time.Time   { return n.timestamp }

// Set replaces (value, timestamp) and emits Changed iff either differs
// from the previous tuple. Value equality is by Scalar identity;
// timestamp equality is by instant (time.Time.Equal).
func (n *NamedValue) Set(value scalar.Scalar, timestamp time.Time) {
	oldValue, oldTimestamp := n.value, n.timestamp
	if value.Equal(oldValue) && timestamp.Equal(oldTimestamp) {
		return
	}
	n.value, n.timestamp = value, timestamp
	if n.onChanged != nil {
		n.onChanged(n.name, oldValue, value, oldTimestamp, timestamp)
	}
}

// Snapshot is the wire/serialized form of a NamedValue.
type Snapshot struct {
	Name      string         `json:"name"`
	Value     scalar.Scalar  `json:"value"`
	Timestamp string         `json:"timestamp"`
}

// ToSnapshot serializes the current state.
func (n *NamedValue) ToSnapshot() Snapshot {
	return Snapshot{
		Name:      n.name,
		Value:     n.value,
		Timestamp: n.timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// FromSnapshot reconstructs a NamedValue from its wire form. timestamp
// must already be an instant or a parseable instant string — an
// unparseable timestamp fails with ErrInvalidArgument.
func FromSnapshot(s Snapshot) (*NamedValue, error) {
	ts, err := ParseTimestamp(s.Timestamp)
	if err != nil {
		return nil, err
	}
	nv := New(s.Name)
	nv.value = s.Value
	nv.timestamp = ts
	return nv, nil
}

// ParseTimestamp parses an ISO-8601 instant. Empty string maps to the
// zero time (used for NamedValues that have never been set).
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q: %v", synerr.ErrInvalidArgument, s, err)
	}
	return t, nil
}
