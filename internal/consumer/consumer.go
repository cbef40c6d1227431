// Package consumer implements the consumer engine: a two-state
// (INITIAL, POLLING) reconnecting runloop that validates a
// producer endpoint, fetches its snapshot, applies checksum-gated
// updates, and backs off and self-heals on error.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gosynchro/synchro/internal/backoff"
	"github.com/gosynchro/synchro/internal/datastore"
	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/producer"
	"github.com/gosynchro/synchro/internal/registry"
	"github.com/gosynchro/synchro/internal/set"
	"github.com/gosynchro/synchro/internal/synerr"
	"github.com/gosynchro/synchro/internal/telemetry"
	"github.com/gosynchro/synchro/internal/wire"
)

// State is the consumer's runloop state.
type State int

const (
	StateInitial State = iota
	StatePolling
)

func (s State) String() string {
	if s == StatePolling {
		return "POLLING"
	}
	return "INITIAL"
}

// Config configures a Consumer.
type Config struct {
	Datastore datastore.Datastore
	// Path is the producer's key prefix ({basePath}.{nodeName}).
	Path string
	// Record is the declared managed class.
	Record registry.Record
	// Pulsar is the cadence tag this consumer polls (e.g. "1s").
	Pulsar string
	// RunloopInterval is the internal loop step; defaults to 1s.
	RunloopInterval time.Duration
	// BackoffSchedule defaults to backoff.DefaultSchedule. Pass an
	// explicit all-zero schedule for tests that want no real delay.
	BackoffSchedule []time.Duration
	// OnPersistentConfigError, if set, is invoked with the number of
	// consecutive ConfigurationErrors every time one occurs (the Open
	// Question resolution: the engine itself never gives up, but a
	// host application can choose to escalate).
	OnPersistentConfigError func(consecutive int)
	Logger                  telemetry.Logger
}

// Consumer polls a producer endpoint and mirrors it into a local Set.
type Consumer struct {
	mu sync.Mutex

	cfg     Config
	set     *set.Set
	backoff *backoff.Backoff

	state             State
	running           bool
	inFlight          bool
	iterationCounter  int
	pollingIntervalMs int64
	consecutiveErrors int

	stopCh chan struct{}
}

// New validates cfg and builds a Consumer with a fresh mirror Set.
func New(cfg Config) (*Consumer, error) {
	if cfg.Datastore == nil {
		return nil, fmt.Errorf("%w: consumer requires a datastore", synerr.ErrInvalidArgument)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: consumer requires a path", synerr.ErrInvalidArgument)
	}
	if err := cfg.Record.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pulsar == "" {
		return nil, fmt.Errorf("%w: consumer requires a pulsar cadence tag", synerr.ErrInvalidArgument)
	}
	if cfg.RunloopInterval <= 0 {
		cfg.RunloopInterval = time.Second
	}

	return &Consumer{
		cfg:     cfg,
		set:     set.New(cfg.Record),
		backoff: backoff.New(cfg.BackoffSchedule),
	}, nil
}

// Set returns the mirror Set this consumer applies updates to.
func (c *Consumer) Set() *set.Set { return c.set }

// State returns the current runloop state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether Start has been called without a matching
// Stop.
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Consumer) logger() telemetry.Logger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return telemetry.Default
}

// Start resets backoff and begins the runloop. It never performs
// datastore I/O synchronously — the first tick fires after
// RunloopInterval.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("%w", synerr.ErrAlreadyRunning)
	}
	c.backoff.Reset()
	c.state = StateInitial
	c.iterationCounter = 0
	c.consecutiveErrors = 0
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.runLoop(ctx)
	return nil
}

// Stop cancels the pending loop tick and returns to INITIAL. An
// in-flight tick is allowed to finish; it will observe running=false on
// its next check and exit without side effects beyond that in-flight
// step.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("%w", synerr.ErrNotRunning)
	}
	c.running = false
	close(c.stopCh)
	c.state = StateInitial
	c.mu.Unlock()

	c.backoff.Reset()
	return nil
}

// Resync forces the next tick into INITIAL without performing I/O
// itself.
func (c *Consumer) Resync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("%w", synerr.ErrNotRunning)
	}
	c.state = StateInitial
	c.iterationCounter = 0
	c.backoff.Reset()
	return nil
}

func (c *Consumer) runLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RunloopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick is one loop iteration: a reentrancy guard, a dispatch on state,
// and the shared error-handling path (log, revert to INITIAL, back
// off).
func (c *Consumer) tick(ctx context.Context) {
	c.mu.Lock()
	if !c.running || c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	state := c.state
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	var err error
	switch state {
	case StateInitial:
		err = c.doInitial(ctx)
	case StatePolling:
		err = c.doPolling(ctx)
	}

	if err == nil {
		c.mu.Lock()
		c.consecutiveErrors = 0
		c.mu.Unlock()
		return
	}

	c.logger().Printf("synchro: consumer error, reverting to INITIAL: %v", err)
	c.mu.Lock()
	c.state = StateInitial
	c.mu.Unlock()

	if errors.Is(err, synerr.ErrConfigurationError) {
		c.mu.Lock()
		c.consecutiveErrors++
		n := c.consecutiveErrors
		c.mu.Unlock()
		telemetry.RecordConfigurationError(ctx, n)
		if c.cfg.OnPersistentConfigError != nil {
			c.cfg.OnPersistentConfigError(n)
		}
	} else {
		c.mu.Lock()
		c.consecutiveErrors = 0
		c.mu.Unlock()
	}

	_ = c.backoff.Interval(ctx)
	telemetry.RecordBackoffStep(ctx)
}

func (c *Consumer) doInitial(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "consumer.initial")
	defer func() { telemetry.EndSpan(span, err) }()

	nameRaw, getErr := c.cfg.Datastore.Get(ctx, c.cfg.Path+".classname")
	telemetry.RecordPoll(ctx)
	if getErr != nil {
		return fmt.Errorf("%w: %v", synerr.ErrConfigurationError, getErr)
	}
	name, _ := nameRaw.(string)
	if name == "" || name != c.cfg.Record.ClassName {
		return fmt.Errorf("%w: producer class %q does not match declared %q", synerr.ErrConfigurationError, name, c.cfg.Record.ClassName)
	}

	pulsarsRaw, getErr := c.cfg.Datastore.Get(ctx, c.cfg.Path+".pulsars")
	telemetry.RecordPoll(ctx)
	if getErr != nil {
		return fmt.Errorf("%w: %v", synerr.ErrConfigurationError, getErr)
	}
	if !pulsarPublishesTag(pulsarsRaw, c.cfg.Pulsar) {
		return fmt.Errorf("%w: pulsar tag %q not published at %s", synerr.ErrConfigurationError, c.cfg.Pulsar, c.cfg.Path)
	}

	snapRaw, getErr := c.cfg.Datastore.Get(ctx, c.cfg.Path+".all")
	telemetry.RecordPoll(ctx)
	if getErr != nil {
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, getErr)
	}
	items, matErr := c.materialize(snapRaw)
	if matErr != nil {
		// Materialization failures are a recoverable transport fault,
		// not a configuration error.
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, matErr)
	}
	if err := c.set.UpdateSetTo(items); err != nil {
		return err
	}

	interval, parseErr := producer.ParseCadenceTag(c.cfg.Pulsar)
	if parseErr != nil {
		return fmt.Errorf("%w: %v", synerr.ErrConfigurationError, parseErr)
	}

	c.mu.Lock()
	c.pollingIntervalMs = interval.Milliseconds()
	c.state = StatePolling
	c.iterationCounter = 0
	c.mu.Unlock()
	c.backoff.Reset()
	return nil
}

func (c *Consumer) doPolling(ctx context.Context) (err error) {
	c.mu.Lock()
	c.iterationCounter++
	due := int64(c.iterationCounter)*c.cfg.RunloopInterval.Milliseconds() >= c.pollingIntervalMs
	c.mu.Unlock()
	if !due {
		return nil
	}
	c.mu.Lock()
	c.iterationCounter = 0
	c.mu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "consumer.poll")
	defer func() { telemetry.EndSpan(span, err) }()

	updatesRaw, getErr := c.cfg.Datastore.Get(ctx, c.cfg.Path+".pulsars."+c.cfg.Pulsar)
	telemetry.RecordPoll(ctx)
	if getErr != nil {
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, getErr)
	}

	if applyErr := c.applyUpdates(ctx, updatesRaw); applyErr != nil {
		return applyErr
	}
	c.backoff.Reset()
	return nil
}

// applyUpdates parses a polled pulsar bundle, honors its checksum
// framing if present, and applies its entries to the mirrored Set.
func (c *Consumer) applyUpdates(ctx context.Context, raw any) error {
	bundle, err := toBundle(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrMalformed, err)
	}
	if len(bundle) == 0 {
		return nil
	}

	// The first entry may be a framing record. An unparseable first
	// entry is not framing; it will fail structurally in Receive below.
	var framing *wire.Event
	if e, decErr := wire.Decode(bundle[0]); decErr == nil && e.IsFraming() {
		framing = &e
		if e.EndChecksum != "" && e.EndChecksum == c.set.Checksum() {
			return nil // already at the destination state; discard the bundle
		}
		if e.StartChecksum != "" && e.StartChecksum != c.set.Checksum() {
			c.logger().Printf("synchro: consumer divergence: bundle start checksum %s != local %s", e.StartChecksum, c.set.Checksum())
		}
	}

	// Every entry, framing included, goes through Receive; the Set
	// ignores the framing record itself.
	for _, raw := range bundle {
		if err := c.set.Receive(raw); err != nil {
			return err
		}
	}

	if framing != nil && framing.EndChecksum != "" && framing.EndChecksum != c.set.Checksum() {
		telemetry.RecordChecksumMismatch(ctx)
		c.logger().Printf("synchro: consumer checksum mismatch after apply: want %s got %s", framing.EndChecksum, c.set.Checksum())
	}
	return nil
}

func (c *Consumer) materialize(raw any) ([]*item.Item, error) {
	snaps, err := toSnapshots(raw)
	if err != nil {
		return nil, err
	}
	items := make([]*item.Item, 0, len(snaps))
	for _, snap := range snaps {
		it, err := c.cfg.Record.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// toSnapshots accepts the native in-process shape ([]item.Snapshot)
// produced by this repo's own Memory datastore, or falls back to a JSON
// round-trip for any other shape a real networked datastore might hand
// back (decoded JSON array, raw bytes, ...).
func toSnapshots(raw any) ([]item.Snapshot, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []item.Snapshot:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var snaps []item.Snapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return nil, err
		}
		return snaps, nil
	}
}

// toBundle mirrors toSnapshots for the pulsar bundle shape.
func toBundle(raw any) (wire.Bundle, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case wire.Bundle:
		return v, nil
	case []string:
		return wire.Bundle(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var b wire.Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func pulsarPublishesTag(raw any, tag string) bool {
	switch m := raw.(type) {
	case map[string]wire.Bundle:
		_, ok := m[tag]
		return ok
	case map[string]any:
		_, ok := m[tag]
		return ok
	default:
		return false
	}
}
