// Package eventbus implements typed pub/sub over a closed set of named
// events, with asynchronous next-turn dispatch and listener isolation: a
// panicking listener is recovered and logged, never allowed to break
// dispatch to the remaining listeners.
package eventbus

import (
	"errors"
	"sync"

	"github.com/pion/logging"
)

// Event is a closed enumeration of the protocol's event names.
type Event string

const (
	EventMessageReceived  Event = "message-received"
	EventSessionConnected Event = "session-connected"
	EventSessionError     Event = "session-error"
)

var knownEvents = map[Event]struct{}{
	EventMessageReceived:  {},
	EventSessionConnected: {},
	EventSessionError:     {},
}

var ErrUnknownEvent = errors.New("eventbus: event name is not in the closed set")

// Listener receives an event payload. Its return value is ignored;
// panics are recovered by the bus.
type Listener func(payload interface{})

// Scheduler defers f to run on the next turn of the cooperative
// dispatch model. session.Session supplies its task-queue Enqueue method
// here; tests may supply a synchronous scheduler that runs f immediately.
type Scheduler func(f func())

// Bus is a concurrency-safe, closed-vocabulary publish/subscribe bus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Event][]subscription
	nextID    uint64
	schedule  Scheduler
	log       logging.LeveledLogger
}

type subscription struct {
	id   uint64
	fn   Listener
	once bool
}

// New constructs a Bus. schedule controls how listener dispatch is
// deferred; log receives panic recoveries from listeners.
func New(schedule Scheduler, log logging.LeveledLogger) *Bus {
	return &Bus{
		listeners: make(map[Event][]subscription),
		schedule:  schedule,
		log:       log,
	}
}

// On subscribes fn to ev, returning an unsubscribe function. Returns
// ErrUnknownEvent if ev is not one of the closed set of event names.
func (b *Bus) On(ev Event, fn Listener) (func(), error) {
	return b.subscribe(ev, fn, false)
}

// Once subscribes fn to ev for exactly one delivery.
func (b *Bus) Once(ev Event, fn Listener) (func(), error) {
	return b.subscribe(ev, fn, true)
}

func (b *Bus) subscribe(ev Event, fn Listener, once bool) (func(), error) {
	if _, ok := knownEvents[ev]; !ok {
		return nil, ErrUnknownEvent
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[ev] = append(b.listeners[ev], subscription{id: id, fn: fn, once: once})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[ev]
		for i, s := range subs {
			if s.id == id {
				b.listeners[ev] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}, nil
}

// Emit dispatches payload to every listener currently subscribed to ev,
// each on its own scheduled turn. The listener slice is cloned
// before iteration so a listener that subscribes or unsubscribes during
// dispatch cannot corrupt the in-flight delivery. Emit on an unknown
// event name is a silent no-op: callers that construct Event values
// dynamically from wire data should not be able to crash the bus.
func (b *Bus) Emit(ev Event, payload interface{}) {
	b.mu.RLock()
	subs := make([]subscription, len(b.listeners[ev]))
	copy(subs, b.listeners[ev])
	b.mu.RUnlock()

	var onceIDs []uint64
	for _, s := range subs {
		s := s
		if s.once {
			onceIDs = append(onceIDs, s.id)
		}
		b.schedule(func() {
			b.dispatch(s.fn, payload)
		})
	}

	if len(onceIDs) > 0 {
		b.mu.Lock()
		remaining := b.listeners[ev][:0]
		for _, s := range b.listeners[ev] {
			keep := true
			for _, id := range onceIDs {
				if s.id == id {
					keep = false
					break
				}
			}
			if keep {
				remaining = append(remaining, s)
			}
		}
		b.listeners[ev] = remaining
		b.mu.Unlock()
	}
}

func (b *Bus) dispatch(fn Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Errorf("eventbus: listener panic: %v", r)
		}
	}()
	fn(payload)
}
