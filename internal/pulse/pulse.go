// Package pulse implements Pulse: a structured sink that coalesces a
// stream of Set events into a bounded, bandwidth-minimal bundle emitted
// on a fixed cadence, optionally framed with start/end set checksums.
package pulse

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/synerr"
	"github.com/gosynchro/synchro/internal/wire"
)

// ChecksumSource is the Set a Pulse is attached to, narrowed to the one
// method the Pulse needs to frame a bundle.
type ChecksumSource interface {
	Checksum() string
}

// TransmitFunc is a downstream bundle sink: the payload strings composed
// at trigger time, in order.
type TransmitFunc func(bundle []string) error

// Config configures a Pulse. Use DefaultConfig for the documented
// defaults (collapse and allowEmpty both true).
type Config struct {
	Interval         time.Duration
	Collapse         bool
	AllowEmpty       bool
	IncludeChecksums bool
	ChecksumSource   ChecksumSource
	Transmit         []TransmitFunc
}

// DefaultConfig returns the documented defaults: Collapse=true,
// AllowEmpty=true, IncludeChecksums=false, Interval=0 (no timer).
func DefaultConfig() Config {
	return Config{Collapse: true, AllowEmpty: true}
}

const minInterval = 100 * time.Millisecond

// entry is one queued wire payload. The payload is framed at queue
// time, so an "added" entry snapshots the item as it was when added
// rather than as it is at emit time. ch is retained only so a later
// "changed" for the same property can collapse into this entry.
type entry struct {
	payload string
	ch      *item.Change
}

// Pulse coalesces Set events and emits bundles to its configured
// transmit funcs on Trigger (called manually or by its own timer).
type Pulse struct {
	mu sync.Mutex

	interval         time.Duration
	collapse         bool
	allowEmpty       bool
	includeChecksums bool
	checksumSource   ChecksumSource
	transmit         []TransmitFunc

	queue       []*entry
	addedIndex  map[string]int
	changesByID map[string][]int

	startChecksum *string
	startedCycle  bool

	ticker *time.Ticker
	done   chan struct{}
}

// New validates cfg and constructs a Pulse. An interval in (0, 100ms) is
// rejected with InvalidArgument.
func New(cfg Config) (*Pulse, error) {
	if cfg.Interval > 0 && cfg.Interval < minInterval {
		return nil, fmt.Errorf("%w: pulse interval %s below 100ms floor", synerr.ErrInvalidArgument, cfg.Interval)
	}
	return &Pulse{
		interval:         cfg.Interval,
		collapse:         cfg.Collapse,
		allowEmpty:       cfg.AllowEmpty,
		includeChecksums: cfg.IncludeChecksums,
		checksumSource:   cfg.ChecksumSource,
		transmit:         append([]TransmitFunc(nil), cfg.Transmit...),
		addedIndex:       make(map[string]int),
		changesByID:      make(map[string][]int),
	}, nil
}

// SetChecksumSource attaches (or replaces) the Set whose checksum frames
// bundles, for a Pulse built without Config.ChecksumSource.
func (p *Pulse) SetChecksumSource(src ChecksumSource) {
	p.mu.Lock()
	p.checksumSource = src
	p.mu.Unlock()
}

// Queue implements set.StructuredSink. eventName is one of
// "added"/"removed"/"changed"; ch is nil for added/removed.
func (p *Pulse) Queue(eventName string, it *item.Item, ch *item.Change) error {
	if ch != nil {
		// Own a copy: collapsing rewrites OldValue, and the same Change
		// is fanned out to every sink on the Set.
		c := *ch
		ch = &c
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.collapse {
		payload, err := framePayload(eventName, it, ch)
		if err != nil {
			return err
		}
		p.queue = append(p.queue, &entry{payload: payload})
		return nil
	}

	if !p.startedCycle {
		p.startedCycle = true
		if p.includeChecksums && p.checksumSource != nil {
			c := p.checksumSource.Checksum()
			p.startChecksum = &c
		}
	}

	switch eventName {
	case "added":
		payload, err := framePayload(eventName, it, ch)
		if err != nil {
			return err
		}
		idx := len(p.queue)
		p.queue = append(p.queue, &entry{payload: payload})
		p.addedIndex[it.ID()] = idx

	case "removed":
		if idx, ok := p.addedIndex[it.ID()]; ok {
			p.queue[idx] = nil
			delete(p.addedIndex, it.ID())
		} else {
			payload, err := framePayload(eventName, it, ch)
			if err != nil {
				return err
			}
			p.queue = append(p.queue, &entry{payload: payload})
		}
		for _, idx := range p.changesByID[it.ID()] {
			p.queue[idx] = nil
		}
		delete(p.changesByID, it.ID())

	case "changed":
		idxs := p.changesByID[it.ID()]
		for i, idx := range idxs {
			prior := p.queue[idx]
			if prior != nil && prior.ch != nil && prior.ch.Name == ch.Name {
				ch.OldValue = prior.ch.OldValue
				p.queue[idx] = nil
				idxs = append(idxs[:i], idxs[i+1:]...)
				break
			}
		}
		payload, err := framePayload(eventName, it, ch)
		if err != nil {
			return err
		}
		newIdx := len(p.queue)
		p.queue = append(p.queue, &entry{payload: payload, ch: ch})
		p.changesByID[it.ID()] = append(idxs, newIdx)
	}

	return nil
}

// framePayload encodes one event as its wire payload.
func framePayload(eventName string, it *item.Item, ch *item.Change) (string, error) {
	evt, err := wire.BuildEvent(eventName, it, ch)
	if err != nil {
		return "", err
	}
	return wire.Encode(evt)
}

// Trigger composes the current queue into a bundle and delivers it to
// every configured transmit func, then clears state. Safe to call
// manually (tests, forced flush) or from the internal timer.
func (p *Pulse) Trigger() {
	p.mu.Lock()

	if len(p.transmit) == 0 {
		p.clearLocked()
		p.mu.Unlock()
		return
	}

	bundle := make([]string, 0, len(p.queue))
	for _, e := range p.queue {
		if e != nil {
			bundle = append(bundle, e.payload)
		}
	}

	if len(bundle) == 0 && !p.allowEmpty {
		p.clearLocked()
		p.mu.Unlock()
		return
	}

	if p.includeChecksums {
		start := ""
		if p.startChecksum != nil {
			start = *p.startChecksum
		} else if p.checksumSource != nil {
			start = p.checksumSource.Checksum()
		}
		end := ""
		if p.checksumSource != nil {
			end = p.checksumSource.Checksum()
		}
		framing, err := wire.Encode(wire.NewFraming(start, end))
		if err == nil {
			bundle = append([]string{framing}, bundle...)
		}
	}

	transmit := append([]TransmitFunc(nil), p.transmit...)
	p.clearLocked()
	p.mu.Unlock()

	for _, fn := range transmit {
		p.deliver(fn, bundle)
	}
}

func (p *Pulse) deliver(fn TransmitFunc, bundle []string) {
	defer func() { recover() }()
	_ = fn(bundle)
}

func (p *Pulse) clearLocked() {
	p.queue = nil
	p.addedIndex = make(map[string]int)
	p.changesByID = make(map[string][]int)
	p.startChecksum = nil
	p.startedCycle = false
}

// SetTransmit replaces the downstream transmit funcs.
func (p *Pulse) SetTransmit(fns ...TransmitFunc) {
	p.mu.Lock()
	p.transmit = append([]TransmitFunc(nil), fns...)
	p.mu.Unlock()
}

// Start installs a repeating timer that calls Trigger every interval.
// If already running, it is stopped and restarted. Interval == 0
// disables the timer (Start becomes a no-op beyond stopping any prior
// timer).
func (p *Pulse) Start() {
	p.Stop()
	if p.interval <= 0 {
		return
	}

	p.mu.Lock()
	ticker := time.NewTicker(p.interval)
	done := make(chan struct{})
	p.ticker = ticker
	p.done = done
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				p.Trigger()
			case <-done:
				return
			}
		}
	}()
}

// Stop cancels the timer, if any. Idempotent.
func (p *Pulse) Stop() {
	p.mu.Lock()
	ticker := p.ticker
	done := p.done
	p.ticker = nil
	p.done = nil
	p.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if done != nil {
		close(done)
	}
}
