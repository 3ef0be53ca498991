package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On("test.event", func(e Event) {
		atomic.AddInt32(&received, 1)
		if e.Payload["key"] != "value" {
			t.Errorf("payload not delivered: %v", e.Payload)
		}
	})

	eb.Emit(Event{Type: "test.event", Payload: map[string]any{"key": "value"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "event.a"})
	eb.Emit(Event{Type: "event.b"})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_HandlerPanicDoesNotStopOthers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On("test.event", func(e Event) {
		panic("boom")
	})
	eb.On("test.event", func(e Event) {
		atomic.AddInt32(&after, 1)
	})

	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&after) != 1 {
		t.Errorf("handler after the panicking one did not run")
	}
}

func TestEventBus_TimestampDefaulted(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got time.Time
	eb.On("test.event", func(e Event) {
		got = e.Timestamp
	})

	eb.Emit(Event{Type: "test.event"})

	if got.IsZero() {
		t.Error("expected Emit to stamp a zero timestamp")
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	events := eb.Replay("a", time.Time{})
	if len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}

	allEvents := eb.Replay("*", time.Time{})
	if len(allEvents) != 3 {
		t.Errorf("expected 3 total events, got %d", len(allEvents))
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	past := time.Now().Add(-time.Hour)
	eb.Emit(Event{Type: "a", Timestamp: past})
	eb.Emit(Event{Type: "a"})

	events := eb.Replay("a", time.Now().Add(-time.Minute))
	if len(events) != 1 {
		t.Errorf("expected 1 recent event, got %d", len(events))
	}
}

func TestEventBus_HistoryBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "tick"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected history capped at 5, got %d", eb.HistoryLen())
	}
}
