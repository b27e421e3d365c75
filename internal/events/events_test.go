package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventSelectionChanged)

	bus.PublishSelectionChanged("s1", []string{"a", "b"})

	select {
	case received := <-ch:
		ev, ok := received.(*SelectionChangedEvent)
		if !ok {
			t.Fatal("Expected SelectionChangedEvent")
		}
		if ev.Session != "s1" {
			t.Errorf("Expected session 's1', got '%s'", ev.Session)
		}
		if len(ev.IDs) != 2 {
			t.Errorf("Expected 2 ids, got %d", len(ev.IDs))
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventResolutionReady)
	ch2 := bus.Subscribe(EventResolutionReady)

	bus.PublishResolutionReady("s1", "img-1", 2, "https://cdn/img-1/full")

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			rr := ev.(*ResolutionReadyEvent)
			if rr.Tier != 2 {
				t.Errorf("subscriber %d: tier = %d, want 2", i, rr.Tier)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d did not receive event", i)
		}
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	all := bus.SubscribeAll()

	bus.PublishRangeRendered("s1", 1, 50, 3, []string{"a"})
	bus.PublishError("s1", "range_fetch", errors.New("boom"), true)

	got := []EventType{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got = append(got, ev.Type())
		case <-time.After(100 * time.Millisecond):
			t.Fatal("Timeout waiting for event")
		}
	}

	if got[0] != EventRangeRendered || got[1] != EventError {
		t.Errorf("event order = %v", got)
	}
}

func TestEventBus_DroppedEvents(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventBatchProgress)

	bus.PublishBatchProgress("s1", "star", "a", 1, 3, nil)
	bus.PublishBatchProgress("s1", "star", "b", 2, 3, nil)
	bus.PublishBatchProgress("s1", "star", "c", 3, 3, nil)

	if dropped := bus.GetDroppedEventCount(); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if reset := bus.ResetDroppedEventCount(); reset != 2 {
		t.Errorf("reset returned %d, want 2", reset)
	}
	if bus.GetDroppedEventCount() != 0 {
		t.Error("counter should be zero after reset")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventSelectionMode)
	bus.Unsubscribe(EventSelectionMode, ch)

	bus.PublishSelectionMode("s1", true)

	select {
	case <-ch:
		t.Error("unsubscribed channel received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventLog)

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	// Publishing after close must not panic
	bus.PublishLog(InfoLevel, "after close", "test", nil)

	closed := bus.Subscribe(EventLog)
	if _, ok := <-closed; ok {
		t.Error("subscription on closed bus should be closed")
	}
}

func TestEventBus_NilPublish(t *testing.T) {
	var bus *EventBus
	// A nil bus is a valid "no subscribers" bus
	bus.PublishSelectionChanged("s1", nil)
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
