package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/synerr"
	"github.com/gosynchro/synchro/internal/wire"
)

func newDog(id string) *item.Item {
	it := item.New("Dog", id)
	_ = it.DeclareObserved([]string{"name"})
	return it
}

func collectingTransmit(out *[][]string) TransmitFunc {
	return func(bundle []string) error {
		*out = append(*out, bundle)
		return nil
	}
}

func TestNewRejectsSubMinimumInterval(t *testing.T) {
	_, err := New(Config{Interval: 50 * time.Millisecond})
	require.ErrorIs(t, err, synerr.ErrInvalidArgument)
}

func TestNewAcceptsZeroAndMinimumInterval(t *testing.T) {
	_, err := New(Config{Interval: 0})
	require.NoError(t, err)

	_, err = New(Config{Interval: 100 * time.Millisecond})
	require.NoError(t, err)
}

func TestCollapsePreservesOriginalOldValue(t *testing.T) {
	cfg := DefaultConfig()
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("changed", it, &item.Change{Kind: item.ChangeProperty, Name: "name", OldValue: scalar.String("a"), NewValue: scalar.String("b")}))
	require.NoError(t, p.Queue("changed", it, &item.Change{Kind: item.ChangeProperty, Name: "name", OldValue: scalar.String("b"), NewValue: scalar.String("c")}))

	p.Trigger()
	require.Len(t, delivered, 1)
	require.Len(t, delivered[0], 1)

	e, err := wire.Decode(delivered[0][0])
	require.NoError(t, err)
	oldVal, _ := e.Change.OldValue.StringVal()
	newVal, _ := e.Change.NewValue.StringVal()
	assert.Equal(t, "a", oldVal)
	assert.Equal(t, "c", newVal)
}

func TestCollapseNamedValueChangesKeepsLatestValueAndFirstOldValue(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	t1 := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, p.Queue("added", it, nil))
	for i, v := range []string{"v1", "v2", "v3"} {
		ch := &item.Change{
			Kind:         item.ChangeNamed,
			Name:         "n",
			OldValue:     scalar.Absent(),
			NewValue:     scalar.String(v),
			NewTimestamp: t1.Add(time.Duration(i) * time.Second),
		}
		if i > 0 {
			ch.OldValue = scalar.String([]string{"v1", "v2"}[i-1])
		}
		require.NoError(t, p.Queue("changed", it, ch))
	}

	p.Trigger()
	require.Len(t, delivered, 1)
	require.Len(t, delivered[0], 2)

	added, err := wire.Decode(delivered[0][0])
	require.NoError(t, err)
	assert.Equal(t, wire.EventAdded, added.EventName)

	changed, err := wire.Decode(delivered[0][1])
	require.NoError(t, err)
	require.True(t, changed.Change.IsNamedValue())
	v, _ := changed.Change.NewValue.StringVal()
	assert.Equal(t, "v3", v)
	assert.Equal(t, wire.FormatTimestamp(t1.Add(2*time.Second)), changed.Change.NewTimestamp)
	assert.True(t, changed.Change.OldValue.IsAbsent(), "collapsed history preserves the first change's pre-image")
}

func TestAddThenRemoveCancelsInSameCycle(t *testing.T) {
	cfg := DefaultConfig() // AllowEmpty defaults true
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("added", it, nil))
	require.NoError(t, p.Queue("removed", it, nil))

	p.Trigger()
	require.Len(t, delivered, 1)
	assert.Empty(t, delivered[0])
}

func TestAllowEmptyFalseSuppressesEmptyBundle(t *testing.T) {
	cfg := Config{Collapse: true, AllowEmpty: false}
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("added", it, nil))
	require.NoError(t, p.Queue("removed", it, nil))

	p.Trigger()
	assert.Empty(t, delivered, "an empty bundle must not be delivered when AllowEmpty=false")
}

func TestRemovedCancelsPriorChangedEntries(t *testing.T) {
	cfg := DefaultConfig()
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("changed", it, &item.Change{Kind: item.ChangeProperty, Name: "name", OldValue: scalar.Null(), NewValue: scalar.String("x")}))
	require.NoError(t, p.Queue("removed", it, nil))

	p.Trigger()
	require.Len(t, delivered, 1)
	require.Len(t, delivered[0], 1)

	e, err := wire.Decode(delivered[0][0])
	require.NoError(t, err)
	assert.Equal(t, wire.EventRemoved, e.EventName)
}

func TestCollapseFalseKeepsEveryEntry(t *testing.T) {
	cfg := Config{Collapse: false, AllowEmpty: true}
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("changed", it, &item.Change{Kind: item.ChangeProperty, Name: "name", OldValue: scalar.String("a"), NewValue: scalar.String("b")}))
	require.NoError(t, p.Queue("changed", it, &item.Change{Kind: item.ChangeProperty, Name: "name", OldValue: scalar.String("b"), NewValue: scalar.String("c")}))

	p.Trigger()
	require.Len(t, delivered, 1)
	assert.Len(t, delivered[0], 2, "collapse=false must preserve every entry")
}

func TestFramingPrependedWhenChecksumsEnabled(t *testing.T) {
	src := &fixedChecksumSource{val: "start"}
	cfg := Config{Collapse: true, AllowEmpty: true, IncludeChecksums: true, ChecksumSource: src}
	p, err := New(cfg)
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	it := newDog("d1")
	require.NoError(t, p.Queue("added", it, nil))
	src.val = "end"

	p.Trigger()
	require.Len(t, delivered, 1)
	require.Len(t, delivered[0], 2)

	framing, err := wire.Decode(delivered[0][0])
	require.NoError(t, err)
	assert.True(t, framing.IsFraming())
	assert.Equal(t, "start", framing.StartChecksum)
	assert.Equal(t, "end", framing.EndChecksum)
}

type fixedChecksumSource struct{ val string }

func (f *fixedChecksumSource) Checksum() string { return f.val }

func TestNoTransmitClearsWithoutDelivery(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	it := newDog("d1")
	require.NoError(t, p.Queue("added", it, nil))
	p.Trigger() // no transmit configured; must not panic
}

func TestStartStopIsIdempotentAndRestartable(t *testing.T) {
	p, err := New(Config{Interval: 100 * time.Millisecond, Collapse: true, AllowEmpty: true})
	require.NoError(t, err)

	var delivered [][]string
	p.SetTransmit(collectingTransmit(&delivered))

	p.Start()
	p.Stop()
	p.Stop() // idempotent
	p.Start()
	p.Stop()
}
