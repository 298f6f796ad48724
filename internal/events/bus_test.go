package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/events"
)

func TestBus_FanOut(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	defer bus.Close()

	statsCh, unsubStats := bus.Subscribe("stats")
	defer unsubStats()
	logCh, unsubLog := bus.Subscribe("log")
	defer unsubLog()

	ev := events.Event{
		Type:    events.TypeExecuted,
		JobID:   "daily",
		Outcome: model.OutcomeSuccess,
		At:      time.Now(),
	}
	bus.Publish(ev)

	got := <-statsCh
	assert.Equal(t, ev, got)
	got = <-logCh
	assert.Equal(t, ev, got)
	assert.Zero(t, bus.Dropped())
}

func TestBus_PublishNeverBlocks_DropsOldest(t *testing.T) {
	bus := events.NewBus(events.BusOptions{Buffer: 2})
	defer bus.Close()

	ch, unsub := bus.Subscribe("slow")
	defer unsub()

	bus.Publish(events.Event{JobID: "a"})
	bus.Publish(events.Event{JobID: "b"})
	bus.Publish(events.Event{JobID: "c"}) // overflows; "a" drops

	assert.Equal(t, uint64(1), bus.Dropped())

	first := <-ch
	second := <-ch
	assert.Equal(t, "b", first.JobID)
	assert.Equal(t, "c", second.JobID)
}

func TestBus_PerSubscriberOrder(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	defer bus.Close()

	ch, unsub := bus.Subscribe("order")
	defer unsub()

	for i := 0; i < 10; i++ {
		bus.Publish(events.Event{JobID: "tick", Message: string(rune('0' + i))})
	}
	for i := 0; i < 10; i++ {
		ev := <-ch
		assert.Equal(t, string(rune('0'+i)), ev.Message)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	defer bus.Close()

	ch, unsub := bus.Subscribe("gone")
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe reaches nobody and never panics.
	bus.Publish(events.Event{JobID: "x"})
	unsub()
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	ch, _ := bus.Subscribe("s")

	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	bus.Publish(events.Event{JobID: "late"})
	assert.Zero(t, bus.Dropped())

	lateCh, lateUnsub := bus.Subscribe("after-close")
	_, open = <-lateCh
	assert.False(t, open)
	lateUnsub()
}

func TestChangeNotifier_SignalWakesSubscribers(t *testing.T) {
	n := events.NewChangeNotifier()
	defer n.Close()

	ch, unsub := n.Subscribe()
	defer unsub()

	n.Signal()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a signal")
	}
}

func TestChangeNotifier_SignalsCoalesce(t *testing.T) {
	n := events.NewChangeNotifier()
	defer n.Close()

	ch, unsub := n.Subscribe()
	defer unsub()

	n.Signal()
	n.Signal()
	n.Signal()

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one pending notification")
	default:
	}
}

func TestChangeNotifier_UnsubscribeAndClose(t *testing.T) {
	n := events.NewChangeNotifier()

	ch1, unsub1 := n.Subscribe()
	ch2, _ := n.Subscribe()

	unsub1()
	_, open := <-ch1
	require.False(t, open)

	n.Signal() // only ch2 remains; must not panic
	<-ch2

	n.Close()
	_, open = <-ch2
	assert.False(t, open)
}
