package consumer

// Full-stack scenarios: a producer endpoint and a consumer engine wired
// to the same in-memory datastore, with real Pulse timers and the real
// runloop.

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosynchro/synchro/internal/datastore"
	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/producer"
	"github.com/gosynchro/synchro/internal/registry"
	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/set"
)

func startPair(t *testing.T, rec registry.Record) (*set.Set, *Consumer) {
	t.Helper()
	ds := datastore.NewMemory()
	s := set.New(rec)

	ep, err := producer.New(context.Background(), s, producer.Config{
		BasePath:                "test",
		NodeName:                "dogs",
		Cadences:                []time.Duration{100 * time.Millisecond},
		AllowEmptyTransmissions: true,
		IncludeChecksums:        true,
		Datastore:               ds,
	})
	require.NoError(t, err)
	require.NoError(t, ep.Start(context.Background()))
	t.Cleanup(ep.Stop)

	c, err := New(Config{
		Datastore:       ds,
		Path:            "test.dogs",
		Record:          rec,
		Pulsar:          "100ms",
		RunloopInterval: 10 * time.Millisecond,
		BackoffSchedule: []time.Duration{0},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if c.Running() {
			_ = c.Stop()
		}
	})

	return s, c
}

func TestColdSnapshotMirrorsProducer(t *testing.T) {
	ds := datastore.NewMemory()
	rec := registry.Simple("Dog", nil)
	s := set.New(rec)
	require.NoError(t, s.Add(rec.New("dog1")))

	ep, err := producer.New(context.Background(), s, producer.Config{
		BasePath:  "test",
		NodeName:  "dogs",
		Cadences:  []time.Duration{100 * time.Millisecond},
		Datastore: ds,
	})
	require.NoError(t, err)

	cn, err := ds.Get(context.Background(), "test.dogs.classname")
	require.NoError(t, err)
	assert.Equal(t, "Dog", cn)

	pulsars, err := ds.Get(context.Background(), "test.dogs.pulsars")
	require.NoError(t, err)
	assert.Contains(t, pulsars, "100ms")

	all, err := ds.Get(context.Background(), "test.dogs.all")
	require.NoError(t, err)
	snaps, ok := all.([]item.Snapshot)
	require.True(t, ok)
	require.Len(t, snaps, 1)
	assert.Equal(t, "dog1", snaps[0].ID)
	assert.Equal(t, "Dog", snaps[0].Type)
	assert.Empty(t, snaps[0].Notions)
	assert.Empty(t, snaps[0].Properties)

	c, err := New(Config{
		Datastore:       ds,
		Path:            ep.Prefix(),
		Record:          rec,
		Pulsar:          "100ms",
		RunloopInterval: 10 * time.Millisecond,
		BackoffSchedule: []time.Duration{0},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	waitUntil(t, 2*time.Second, func() bool { return c.State() == StatePolling })

	mirrored, ok := c.Set().Find("dog1")
	require.True(t, ok)
	assert.Equal(t, "dog1", mirrored.ID())
	assert.Equal(t, s.Checksum(), c.Set().Checksum())
}

func TestLiveAddReachesPollingConsumer(t *testing.T) {
	rec := registry.Simple("Dog", []string{"name"})
	s, c := startPair(t, rec)

	waitUntil(t, 2*time.Second, func() bool { return c.State() == StatePolling })

	d1 := rec.New("dog1")
	require.NoError(t, d1.SetProperty("name", scalar.String("Rex")))
	require.NoError(t, s.Add(d1))

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := c.Set().Find("dog1")
		return ok
	})
	waitUntil(t, 2*time.Second, func() bool { return s.Checksum() == c.Set().Checksum() })
}

func TestMirrorConvergesThroughMixedMutations(t *testing.T) {
	rec := registry.Simple("Dog", []string{"name", "weight"})
	s, c := startPair(t, rec)

	waitUntil(t, 2*time.Second, func() bool { return c.State() == StatePolling })

	d1 := rec.New("dog1")
	require.NoError(t, s.Add(d1))
	d2 := rec.New("dog2")
	require.NoError(t, s.Add(d2))

	require.NoError(t, d1.SetProperty("name", scalar.String("Rex")))
	require.NoError(t, d1.SetProperty("weight", scalar.Number(40)))
	d1.SetNamedNow("mood", scalar.String("happy"))
	require.NoError(t, d2.SetProperty("name", scalar.String("Bella")))
	require.NoError(t, s.Remove("dog2"))

	waitUntil(t, 3*time.Second, func() bool { return s.Checksum() == c.Set().Checksum() })

	mirrored, ok := c.Set().Find("dog1")
	require.True(t, ok)
	mood, ok := mirrored.GetNamed("mood")
	require.True(t, ok)
	v, _ := mood.StringVal()
	assert.Equal(t, "happy", v)

	_, ok = c.Set().Find("dog2")
	assert.False(t, ok)
}

func TestFramedEmptyBundlesApplyNothing(t *testing.T) {
	rec := registry.Simple("Dog", []string{"name"})
	s, c := startPair(t, rec)

	d1 := rec.New("dog1")
	require.NoError(t, s.Add(d1))

	waitUntil(t, 2*time.Second, func() bool { return s.Checksum() == c.Set().Checksum() })

	var events atomic.Int64
	c.Set().OnChanged(func(string, *item.Item, *item.Change) { events.Add(1) })

	// Several pulse cycles pass with no producer mutations; every polled
	// bundle's end checksum matches the mirror, so nothing is applied.
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, events.Load())
}

func TestDivergenceRecoversViaResync(t *testing.T) {
	rec := registry.Simple("Dog", []string{"name"})
	s, c := startPair(t, rec)

	d1 := rec.New("dog1")
	require.NoError(t, s.Add(d1))
	waitUntil(t, 2*time.Second, func() bool { return s.Checksum() == c.Set().Checksum() })

	// Let the pulse publish past the bundle that carried the add, so the
	// diverged mirror cannot poll that "added" entry again: re-adding
	// dog1 would fail and send the consumer back to INITIAL on its own.
	time.Sleep(250 * time.Millisecond)

	// Simulate divergence: an item exists on the mirror that the
	// producer never published.
	require.NoError(t, c.Set().Add(rec.New("ghost")))
	require.NotEqual(t, s.Checksum(), c.Set().Checksum())

	// Producer keeps mutating; bundles still apply, but the end-checksum
	// mismatch persists until an operator resyncs.
	require.NoError(t, d1.SetProperty("name", scalar.String("Rex")))
	time.Sleep(300 * time.Millisecond)
	require.NotEqual(t, s.Checksum(), c.Set().Checksum())

	require.NoError(t, c.Resync())
	waitUntil(t, 3*time.Second, func() bool { return s.Checksum() == c.Set().Checksum() })

	_, ok := c.Set().Find("ghost")
	assert.False(t, ok)
}
