package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScheduleSaturatesAtFinalStep(t *testing.T) {
	b := New(nil)
	var got []time.Duration
	for i := 0; i < len(DefaultSchedule)+3; i++ {
		got = append(got, b.NextBackOff())
	}
	for i, want := range DefaultSchedule {
		assert.Equal(t, want, got[i])
	}
	last := DefaultSchedule[len(DefaultSchedule)-1]
	for i := len(DefaultSchedule); i < len(got); i++ {
		assert.Equal(t, last, got[i], "schedule must saturate at the final step rather than overrun")
	}
}

func TestResetReturnsToFirstStep(t *testing.T) {
	b := New([]time.Duration{time.Millisecond, 2 * time.Millisecond})
	_ = b.NextBackOff()
	assert.Equal(t, 1, b.CurrentStep())

	b.Reset()
	assert.Equal(t, 0, b.CurrentStep())
}

func TestAllZeroScheduleYieldsImmediately(t *testing.T) {
	b := New([]time.Duration{0, 0, 0})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Interval(ctx))
	}
}

func TestIntervalRespectsContextCancellation(t *testing.T) {
	b := New([]time.Duration{time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Interval(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMaxDelayMsIsFinalScheduleEntry(t *testing.T) {
	b := New(DefaultSchedule)
	assert.Equal(t, int64(60000), b.MaxDelayMs())
}

func TestCurrentDelayMsTracksStep(t *testing.T) {
	b := New([]time.Duration{time.Second, 2 * time.Second})
	assert.Equal(t, int64(1000), b.CurrentDelayMs())
	_ = b.NextBackOff()
	assert.Equal(t, int64(2000), b.CurrentDelayMs())
}
