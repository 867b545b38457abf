package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrelay/internal/wire"
)

func TestPublishRejectsEmptyCategory(t *testing.T) {
	bus := NewBus(nil)
	err := bus.Publish(Event{Type: "x"})
	assert.Error(t, err)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(4)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(Event{Category: CategoryUpstream, Type: "disconnected"}))

	select {
	case ev := <-sub.C():
		assert.Equal(t, CategoryUpstream, ev.Category)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishDropsOnFullSubscriberBuffer(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(Event{Category: CategoryHealth}))
	require.NoError(t, bus.Publish(Event{Category: CategoryHealth}))

	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(4)
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(sub))

	assert.Equal(t, int64(0), bus.Stats().Subscribers)
}

func TestStatsCountsPublishedEvents(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(Event{Category: CategoryConfig})
	bus.Publish(Event{Category: CategoryConfig})
	assert.Equal(t, uint64(2), bus.Stats().Published)
}

func TestUpstreamDisconnectedEventShape(t *testing.T) {
	ev := UpstreamDisconnectedEvent("position")
	assert.Equal(t, CategoryUpstream, ev.Category)
	assert.Equal(t, "disconnected", ev.Type)
	assert.Equal(t, "position", ev.Labels["topic"])
}

func TestStatusTransitionEventShape(t *testing.T) {
	ev := StatusTransitionEvent("athlete-1", wire.StatusSafe, wire.StatusApproaching)
	assert.Equal(t, CategoryUpstream, ev.Category)
	assert.Equal(t, "status_transition", ev.Type)
	assert.Equal(t, "athlete-1", ev.Labels["device"])
	assert.Equal(t, string(wire.StatusSafe), ev.Fields["from"])
	assert.Equal(t, string(wire.StatusApproaching), ev.Fields["to"])
}

func TestRecorderWriteFailedEventShape(t *testing.T) {
	ev := RecorderWriteFailedEvent("sess-1", errors.New("disk full"))
	assert.Equal(t, CategoryRecorder, ev.Category)
	assert.Equal(t, "error", ev.Severity)
	assert.Equal(t, "sess-1", ev.Fields["session_id"])
	assert.Equal(t, "disk full", ev.Fields["error"])
}

func TestRegistryReloadEventsShape(t *testing.T) {
	failed := RegistryReloadFailedEvent(errors.New("bad json"))
	assert.Equal(t, CategoryConfig, failed.Category)
	assert.Equal(t, "error", failed.Severity)

	ok := RegistryReloadedEvent()
	assert.Equal(t, CategoryConfig, ok.Category)
	assert.Equal(t, "registry_reloaded", ok.Type)
}

func TestSlowConsumerDisconnectEventShape(t *testing.T) {
	ev := SlowConsumerDisconnectEvent("client-9")
	assert.Equal(t, CategoryBroadcast, ev.Category)
	assert.Equal(t, "client-9", ev.Labels["client"])
}
