package eventbus

import (
	"sync"
	"testing"
)

// syncSchedule runs tasks immediately, so tests don't need to coordinate
// with a real dispatch goroutine.
func syncSchedule(f func()) { f() }

func TestOnEmitDelivers(t *testing.T) {
	b := New(syncSchedule, nil)
	var got interface{}
	if _, err := b.On(EventMessageReceived, func(payload interface{}) {
		got = payload
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	b.Emit(EventMessageReceived, "hello")
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}
}

func TestOnRejectsUnknownEvent(t *testing.T) {
	b := New(syncSchedule, nil)
	if _, err := b.On(Event("not-a-real-event"), func(interface{}) {}); err != ErrUnknownEvent {
		t.Fatalf("got %v, want ErrUnknownEvent", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(syncSchedule, nil)
	count := 0
	unsub, err := b.On(EventMessageReceived, func(interface{}) { count++ })
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	b.Emit(EventMessageReceived, nil)
	unsub()
	b.Emit(EventMessageReceived, nil)

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New(syncSchedule, nil)
	count := 0
	if _, err := b.Once(EventMessageReceived, func(interface{}) { count++ }); err != nil {
		t.Fatalf("Once: %v", err)
	}

	b.Emit(EventMessageReceived, nil)
	b.Emit(EventMessageReceived, nil)

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestListenerPanicDoesNotBreakOtherListeners(t *testing.T) {
	b := New(syncSchedule, nil)
	var mu sync.Mutex
	secondRan := false

	b.On(EventMessageReceived, func(interface{}) { panic("boom") })
	b.On(EventMessageReceived, func(interface{}) {
		mu.Lock()
		secondRan = true
		mu.Unlock()
	})

	b.Emit(EventMessageReceived, nil)

	mu.Lock()
	defer mu.Unlock()
	if !secondRan {
		t.Fatal("a panicking listener prevented a later listener from running")
	}
}

func TestEmitOnUnknownEventIsNoop(t *testing.T) {
	b := New(syncSchedule, nil)
	b.Emit(Event("bogus"), nil) // must not panic
}
