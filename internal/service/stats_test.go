package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/events"
)

func newStatsHarness(t *testing.T) (*events.Bus, *StatsAggregator) {
	t.Helper()
	bus := events.NewBus(events.BusOptions{})
	stats, err := NewStatsAggregator(StatsOptions{Bus: bus})
	require.NoError(t, err)
	t.Cleanup(func() {
		stats.Close()
		bus.Close()
	})
	return bus, stats
}

func TestStatsCountsOutcomes(t *testing.T) {
	bus, stats := newStatsHarness(t)
	firedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	bus.Publish(events.Event{Type: events.TypeExecuted, JobID: "a", At: firedAt})
	bus.Publish(events.Event{Type: events.TypeExecuted, JobID: "a", At: firedAt.Add(time.Minute)})
	bus.Publish(events.Event{Type: events.TypeFailed, JobID: "b", At: firedAt.Add(2 * time.Minute), Message: "exit 3"})
	bus.Publish(events.Event{Type: events.TypeMissed, JobID: "c", At: firedAt.Add(3 * time.Minute)})

	require.Eventually(t, func() bool {
		s := stats.Snapshot()
		return s.Executed == 2 && s.Failed == 1 && s.Missed == 1
	}, 2*time.Second, 5*time.Millisecond)

	s := stats.Snapshot()
	require.NotNil(t, s.LastExecution)
	assert.True(t, s.LastExecution.Equal(firedAt.Add(time.Minute)))
	require.NotNil(t, s.LastError)
	assert.Equal(t, "b", s.LastError.JobID)
	assert.Equal(t, "exit 3", s.LastError.Message)
	assert.InDelta(t, float64(1)/float64(3), s.FailureRate(), 1e-9)
}

func TestStatsLastErrorTracksLatestFailure(t *testing.T) {
	bus, stats := newStatsHarness(t)
	at := time.Now().UTC()

	bus.Publish(events.Event{Type: events.TypeFailed, JobID: "first", At: at, Message: "boom"})
	bus.Publish(events.Event{Type: events.TypeFailed, JobID: "second", At: at.Add(time.Second), Message: "still broken"})

	require.Eventually(t, func() bool {
		return stats.Snapshot().Failed == 2
	}, 2*time.Second, 5*time.Millisecond)

	last := stats.Snapshot().LastError
	require.NotNil(t, last)
	assert.Equal(t, "second", last.JobID)
	assert.Equal(t, "still broken", last.Message)
}

func TestStatsSurfacesDroppedEvents(t *testing.T) {
	bus := events.NewBus(events.BusOptions{Buffer: 1})
	stats, err := NewStatsAggregator(StatsOptions{Bus: bus})
	require.NoError(t, err)
	t.Cleanup(func() {
		stats.Close()
		bus.Close()
	})

	// A subscriber that never drains forces drop-oldest on its buffer.
	_, stuckUnsub := bus.Subscribe("stuck")
	defer stuckUnsub()

	// Publish one at a time so the aggregator's own channel never overflows.
	for i := uint64(1); i <= 3; i++ {
		bus.Publish(events.Event{Type: events.TypeMissed, JobID: "x"})
		require.Eventually(t, func() bool {
			return stats.Snapshot().Missed == i
		}, 2*time.Second, 2*time.Millisecond)
	}

	assert.GreaterOrEqual(t, stats.Snapshot().DroppedEvents, uint64(2))
}

func TestStatsCloseStopsConsuming(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	stats, err := NewStatsAggregator(StatsOptions{Bus: bus})
	require.NoError(t, err)
	defer bus.Close()

	bus.Publish(events.Event{Type: events.TypeExecuted, At: time.Now()})
	require.Eventually(t, func() bool {
		return stats.Snapshot().Executed == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats.Close()
	stats.Close()

	bus.Publish(events.Event{Type: events.TypeExecuted, At: time.Now()})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), stats.Snapshot().Executed)
}

func TestStatsRequiresBus(t *testing.T) {
	_, err := NewStatsAggregator(StatsOptions{})
	require.Error(t, err)
}

func TestStatsZeroValueSnapshot(t *testing.T) {
	_, stats := newStatsHarness(t)
	s := stats.Snapshot()
	assert.Equal(t, model.SchedulerStats{}, s)
	assert.Zero(t, s.FailureRate())
}
