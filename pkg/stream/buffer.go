// Package stream implements the per-turn event buffer and its SSE framing.
// Each streaming response owns one Buffer; resume after disconnect replays
// from it using the client's Last-Event-ID.
package stream

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EventType is the wire-level SSE event name.
type EventType string

const (
	EventToken        EventType = "token"
	EventToolCall     EventType = "toolCall"
	EventToolResult   EventType = "toolResult"
	EventUsage        EventType = "usage"
	EventPlanning     EventType = "planning"
	EventStepComplete EventType = "stepComplete"
	EventStatus       EventType = "status"
	EventError        EventType = "error"
	EventDone         EventType = "done"
	EventReconnected  EventType = "reconnected"
)

// Event is one buffered wire event. Data is JSON-encoded at frame time.
type Event struct {
	ID   string
	Type EventType
	Data any
}

// NewMarkerEvent mints a wire event outside any buffer's sequence. Marker
// IDs use counter 0, which a buffer never assigns, so they are distinct
// from every buffered ID and sort before the replayed events they precede.
func NewMarkerEvent(t EventType, data any) Event {
	return Event{
		ID:   fmt.Sprintf("0-%s", uuid.NewString()[:8]),
		Type: t,
		Data: data,
	}
}

// DefaultCapacity is the buffer bound when none is configured.
const DefaultCapacity = 100

// subscriberChanSize bounds the live delivery channel; a full channel blocks
// the producer, which is the intended backpressure.
const subscriberChanSize = 32

type subscriber struct {
	ch   chan Event
	done chan struct{}

	// mu serializes delivery against stop so the channel is never closed
	// mid-send.
	mu      sync.Mutex
	stopped bool
	once    sync.Once
}

// deliver sends ev to the subscriber unless it has been stopped. Blocks
// while the channel is full; stop unblocks it.
func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// stop unblocks any pending delivery and closes the live channel, so a
// detached reader's range loop terminates. Safe to call more than once.
func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.ch)
	})
}

// Buffer is a bounded ring of the most recent events on one stream, with
// monotonic ID assignment and at most one live subscriber. All methods are
// safe for concurrent use; there is a single producer per buffer.
type Buffer struct {
	mu      sync.Mutex
	events  []Event // ring storage, len(events) == capacity
	head    int     // index of the oldest event
	size    int
	counter uint64
	closed  bool
	sub     *subscriber
}

// NewBuffer creates a buffer retaining the last capacity events.
// capacity <= 0 selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{events: make([]Event, capacity)}
}

// Publish assigns the next event ID, appends the event, and delivers it to
// the live subscriber if one is attached. It blocks when the subscriber's
// channel is full, so a slow client slows the producer.
func (b *Buffer) Publish(t EventType, data any) Event {
	b.mu.Lock()
	ev := b.appendLocked(t, data)
	sub := b.sub
	b.mu.Unlock()

	if sub != nil {
		sub.deliver(ev)
	}
	return ev
}

// appendLocked assigns an ID and stores the event in the ring, overwriting
// the oldest slot once full. Caller holds b.mu.
func (b *Buffer) appendLocked(t EventType, data any) Event {
	b.counter++
	ev := Event{
		ID:   fmt.Sprintf("%d-%s", b.counter, uuid.NewString()[:8]),
		Type: t,
		Data: data,
	}
	if b.size < len(b.events) {
		b.events[(b.head+b.size)%len(b.events)] = ev
		b.size++
	} else {
		b.events[b.head] = ev
		b.head = (b.head + 1) % len(b.events)
	}
	return ev
}

// EventsAfter returns all buffered events strictly after lastID, in order.
// An empty or unknown lastID returns the entire buffer, which is the
// conservative replay when the client's position was already evicted.
func (b *Buffer) EventsAfter(lastID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventsAfterLocked(lastID)
}

func (b *Buffer) eventsAfterLocked(lastID string) []Event {
	start := 0
	if lastID != "" {
		for i := 0; i < b.size; i++ {
			if b.events[(b.head+i)%len(b.events)].ID == lastID {
				start = i + 1
				break
			}
		}
	}
	out := make([]Event, b.size-start)
	for i := range out {
		out[i] = b.events[(b.head+start+i)%len(b.events)]
	}
	return out
}

// Subscribe atomically returns the replay tail after lastID together with a
// live channel for everything published afterwards, so no event is missed
// between replay and attach. The channel is closed when the producer
// finishes. The cancel function detaches the subscriber; it is safe to call
// more than once. At most one subscriber is attached at a time; a newer one
// displaces the older, whose channel is closed so its reader terminates.
func (b *Buffer) Subscribe(lastID string) (replay []Event, live <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replay = b.eventsAfterLocked(lastID)

	sub := &subscriber{
		ch:   make(chan Event, subscriberChanSize),
		done: make(chan struct{}),
	}
	if b.closed {
		close(sub.ch)
		return replay, sub.ch, func() {}
	}

	if b.sub != nil {
		b.sub.stop()
	}
	b.sub = sub

	cancel = func() {
		b.mu.Lock()
		if b.sub == sub {
			b.sub = nil
		}
		b.mu.Unlock()
		sub.stop()
	}
	return replay, sub.ch, cancel
}

// Close marks the stream finished and releases the subscriber. Events
// already buffered remain available for replay. Publish must not be called
// after Close.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	if b.sub != nil {
		b.sub.stop()
		b.sub = nil
	}
}

// Closed reports whether the producer has finished.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
