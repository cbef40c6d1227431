// Package synerr defines the error kinds the replication engine
// surfaces. Each kind is a sentinel wrapped with context via
// fmt.Errorf("...: %w", ...); callers use errors.Is/errors.As to classify.
package synerr

import "errors"

var (
	// ErrInvalidArgument is returned when a constructor or operation is
	// given a value it cannot accept (bad cadence tag, non-scalar value,
	// non-function transmit sink, interval in (0, 100ms), ...).
	ErrInvalidArgument = errors.New("synchro: invalid argument")

	// ErrWrongType is returned when a Set or Item operation is given an
	// object of an incompatible declared class.
	ErrWrongType = errors.New("synchro: wrong type")

	// ErrTypeMismatch is returned by Item.UpdateTo when the target item
	// is not an instance of the same class.
	ErrTypeMismatch = errors.New("synchro: type mismatch")

	// ErrDuplicateID is returned by Set.Add when the item's id is already
	// present.
	ErrDuplicateID = errors.New("synchro: duplicate id")

	// ErrNotFound is returned by Set.Remove when no item has the given id.
	ErrNotFound = errors.New("synchro: not found")

	// ErrMissingIDField is returned when an id-bearing stub has no id.
	ErrMissingIDField = errors.New("synchro: missing id field")

	// ErrUnknownItem is returned by Set.Receive when a changed event
	// references an id not present in the set.
	ErrUnknownItem = errors.New("synchro: unknown item")

	// ErrMalformed is returned by Set.Receive when a payload fails
	// structural validation.
	ErrMalformed = errors.New("synchro: malformed payload")

	// ErrUnknownEvent is returned by Set.Receive for an event name
	// outside {added, removed, changed, comment}.
	ErrUnknownEvent = errors.New("synchro: unknown event")

	// ErrConfigurationError marks a producer/consumer configuration
	// mismatch (class name or cadence tag). It is treated as a recoverable
	// transport fault by the Consumer engine, not a fatal error.
	ErrConfigurationError = errors.New("synchro: configuration error")

	// ErrTransportError wraps errors surfaced from the datastore. The
	// Consumer engine classifies a failed classname or pulsars read as
	// ErrConfigurationError instead.
	ErrTransportError = errors.New("synchro: transport error")

	// ErrAlreadyRunning is returned by Consumer.Start when already running.
	ErrAlreadyRunning = errors.New("synchro: already running")

	// ErrNotRunning is returned by Consumer.Stop/Resync when not running.
	ErrNotRunning = errors.New("synchro: not running")
)
