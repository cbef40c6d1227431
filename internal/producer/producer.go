// Package producer implements the producer endpoint: it binds a Set, a
// base path, and a list of cadences to well-known keys on a Datastore,
// and owns one Pulse per cadence.
package producer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gosynchro/synchro/internal/datastore"
	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/pulse"
	"github.com/gosynchro/synchro/internal/set"
	"github.com/gosynchro/synchro/internal/synerr"
	"github.com/gosynchro/synchro/internal/telemetry"
	"github.com/gosynchro/synchro/internal/wire"
)

// Config configures an Endpoint.
type Config struct {
	// BasePath is the dot-separated keyspace prefix; combined with
	// NodeName to form the producer's full key prefix.
	BasePath string
	// NodeName defaults to the pluralized, lowercased managed class
	// name when empty.
	NodeName string
	// Cadences are the pulse intervals this endpoint publishes bundles
	// at (e.g. 1s, 10s).
	Cadences []time.Duration
	// AllowEmptyTransmissions and IncludeChecksums are forwarded to
	// every Pulse.
	AllowEmptyTransmissions bool
	IncludeChecksums        bool

	Datastore datastore.Datastore
}

// Endpoint binds a Set to a Datastore at a computed key prefix.
type Endpoint struct {
	mu sync.Mutex

	set    *set.Set
	ds     datastore.Datastore
	prefix string

	cadences      []time.Duration
	allowEmpty    bool
	withChecksums bool

	pulses  []*pulse.Pulse
	running bool
}

// New builds an Endpoint and immediately registers its read-side keys
// (classname, all, pulsars) on the datastore. It does not start any
// Pulse — call Start for that.
func New(ctx context.Context, s *set.Set, cfg Config) (*Endpoint, error) {
	if cfg.Datastore == nil {
		return nil, fmt.Errorf("%w: producer endpoint requires a datastore", synerr.ErrInvalidArgument)
	}

	nodeName := cfg.NodeName
	if nodeName == "" {
		nodeName = pluralize(strings.ToLower(s.ClassName()))
	}
	prefix := nodeName
	if cfg.BasePath != "" {
		prefix = cfg.BasePath + "." + nodeName
	}

	ep := &Endpoint{
		set:        s,
		ds:         cfg.Datastore,
		prefix:     prefix,
		cadences:      append([]time.Duration(nil), cfg.Cadences...),
		allowEmpty:    cfg.AllowEmptyTransmissions,
		withChecksums: cfg.IncludeChecksums,
	}
	if err := ep.register(ctx); err != nil {
		return nil, err
	}
	return ep, nil
}

// Prefix returns "{basePath}.{nodeName}" (or just "{nodeName}" when
// basePath is empty).
func (ep *Endpoint) Prefix() string { return ep.prefix }

func (ep *Endpoint) register(ctx context.Context) error {
	if err := ep.ds.Set(ctx, ep.prefix+".classname", ep.set.ClassName()); err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, err)
	}

	allFn := datastore.ProducerFunc(func(ctx context.Context) (any, error) {
		return ep.snapshotAll(), nil
	})
	if err := ep.ds.Set(ctx, ep.prefix+".all", allFn); err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, err)
	}

	initialPulsars := make(map[string]wire.Bundle, len(ep.cadences))
	for _, c := range ep.cadences {
		initialPulsars[CadenceTag(c)] = wire.Bundle{}
	}
	if err := ep.ds.Set(ctx, ep.prefix+".pulsars", initialPulsars); err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrTransportError, err)
	}
	return nil
}

func (ep *Endpoint) snapshotAll() []item.Snapshot {
	items := ep.set.All()
	snaps := make([]item.Snapshot, 0, len(items))
	for _, it := range items {
		snaps = append(snaps, it.ToSnapshot())
	}
	return snaps
}

// Start constructs one Pulse per configured cadence, wires each Pulse's
// downstream transmit to write to "{prefix}.pulsars.{tag}", installs the
// Pulses as the Set's structured-sink list, and starts them all. Safe to
// call again after Stop.
func (ep *Endpoint) Start(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.stopLocked()
	runCtx := ctx

	ep.pulses = make([]*pulse.Pulse, 0, len(ep.cadences))

	for _, cadence := range ep.cadences {
		tag := CadenceTag(cadence)
		p, err := pulse.New(pulse.Config{
			Interval:         cadence,
			Collapse:         true,
			AllowEmpty:       ep.allowEmpty,
			IncludeChecksums: ep.withChecksums,
			ChecksumSource:   ep.set,
		})
		if err != nil {
			return err
		}
		key := ep.prefix + ".pulsars." + tag
		p.SetTransmit(func(bundle []string) error {
			spanCtx, span := telemetry.Tracer().Start(runCtx, "producer.write_pulsar")
			err := ep.ds.Set(spanCtx, key, wire.Bundle(bundle))
			telemetry.RecordProducerWrite(spanCtx, key)
			telemetry.RecordBundleSize(spanCtx, len(bundle))
			telemetry.EndSpan(span, err)
			return err
		})
		ep.pulses = append(ep.pulses, p)
	}

	sinks := make([]set.Sink, 0, len(ep.pulses))
	for _, p := range ep.pulses {
		sinks = append(sinks, set.NewStructuredSink(p))
	}
	ep.set.SetTransmit(sinks...)

	for _, p := range ep.pulses {
		p.Start()
	}
	ep.running = true
	return nil
}

// Running reports whether Start has been called without a matching
// Stop.
func (ep *Endpoint) Running() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.running
}

// Stop stops all Pulses. Idempotent; re-calling Start afterward is
// legal.
func (ep *Endpoint) Stop() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.stopLocked()
}

func (ep *Endpoint) stopLocked() {
	for _, p := range ep.pulses {
		p.Stop()
	}
	ep.running = false
}

// CadenceTag formats d as a cadence tag: integers only, "{n}ms" under
// one second, "{n}s" otherwise, n rounded to the nearest integer.
func CadenceTag(d time.Duration) string {
	if d < time.Second {
		n := int(math.Round(float64(d) / float64(time.Millisecond)))
		return fmt.Sprintf("%dms", n)
	}
	n := int(math.Round(float64(d) / float64(time.Second)))
	return fmt.Sprintf("%ds", n)
}

// ParseCadenceTag parses a cadence tag matching ^(\d+)(ms|s)$, with ms
// restricted to [100, 999].
func ParseCadenceTag(tag string) (time.Duration, error) {
	n, unit, ok := splitTag(tag)
	if !ok {
		return 0, fmt.Errorf("%w: invalid cadence tag %q", synerr.ErrInvalidArgument, tag)
	}
	switch unit {
	case "ms":
		if n < 100 || n > 999 {
			return 0, fmt.Errorf("%w: cadence tag %q out of range [100,999]ms", synerr.ErrInvalidArgument, tag)
		}
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		if n <= 0 {
			return 0, fmt.Errorf("%w: cadence tag %q must be a positive integer of seconds", synerr.ErrInvalidArgument, tag)
		}
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: invalid cadence tag %q", synerr.ErrInvalidArgument, tag)
	}
}

func splitTag(tag string) (n int, unit string, ok bool) {
	for _, u := range []string{"ms", "s"} {
		if strings.HasSuffix(tag, u) {
			digits := strings.TrimSuffix(tag, u)
			if digits == "" {
				continue
			}
			var value int
			for _, r := range digits {
				if r < '0' || r > '9' {
					return 0, "", false
				}
				value = value*10 + int(r-'0')
			}
			return value, u, true
		}
	}
	return 0, "", false
}

func pluralize(name string) string {
	for _, suffix := range []string{"s", "x", "z", "ch", "sh"} {
		if strings.HasSuffix(name, suffix) {
			return name + "es"
		}
	}
	return name + "s"
}
