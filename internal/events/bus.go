// Package events implements a typed publish/subscribe bus for runtime
// lifecycle notifications: task and schedule transitions, and background
// errors injected into the agent loop.
package events

import (
	"log/slog"
	"sync"
)

// Topic names used by the core. Payload shapes are documented per topic
// at the call site that publishes them.
const (
	TopicSystemError = "system:error"

	TopicTaskSpawned   = "task:spawned"
	TopicTaskStarted   = "task:started"
	TopicTaskOutput    = "task:output"
	TopicTaskProgress  = "task:progress"
	TopicTaskCompleted = "task:completed"
	TopicTaskFailed    = "task:failed"
	TopicTaskCancelled = "task:cancelled"

	TopicScheduleCreated = "schedule:created"
	TopicScheduleFired   = "schedule:fired"
	TopicSchedulePaused  = "schedule:paused"
	TopicScheduleResumed = "schedule:resumed"
	TopicScheduleDeleted = "schedule:deleted"
)

// SystemErrorPayload is published on TopicSystemError.
type SystemErrorPayload struct {
	Type    string // "unhandledRejection" | "uncaughtException"
	Message string
}

// Listener receives a published payload. The concrete type of payload is
// determined by the topic the listener subscribed to.
type Listener func(payload any)

// Subscription identifies a listener registration so it can be detached.
type Subscription struct {
	topic string
	id    uint64
}

// Bus is a typed, synchronous publish/subscribe dispatcher. Listeners on a
// topic are invoked in registration order, on the publisher's goroutine; a
// panic or error from one listener is logged and does not prevent the
// remaining listeners on that topic from running.
type Bus struct {
	mu        sync.Mutex
	logger    *slog.Logger
	listeners map[string][]entry
	nextID    uint64
}

type entry struct {
	id       uint64
	listener Listener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		logger:    slog.Default().With("component", "events.Bus"),
		listeners: make(map[string][]entry),
	}
}

// Subscribe attaches a listener to topic, returning a Subscription usable
// with Unsubscribe. Registration order determines invocation order.
func (b *Bus) Subscribe(topic string, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[topic] = append(b.listeners[topic], entry{id: id, listener: listener})
	return Subscription{topic: topic, id: id}
}

// Unsubscribe detaches a previously-registered listener. It is a no-op if
// the subscription was already removed.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.listeners[sub.topic]
	for i, e := range entries {
		if e.id == sub.id {
			b.listeners[sub.topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of listeners currently attached to topic,
// used by tests to assert subscriber-count invariants.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}

// Publish invokes every listener on topic, in registration order, on the
// calling goroutine. A snapshot of the listener slice is taken under lock so
// a listener that subscribes or unsubscribes during Publish does not race
// the dispatch loop.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	snapshot := make([]entry, len(b.listeners[topic]))
	copy(snapshot, b.listeners[topic])
	b.mu.Unlock()

	for _, e := range snapshot {
		b.invoke(topic, e.listener, payload)
	}
}

func (b *Bus) invoke(topic string, listener Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "topic", topic, "recover", r)
		}
	}()
	listener(payload)
}
