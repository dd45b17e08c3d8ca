package runstate

import (
	"github.com/google/uuid"
)

// Event kinds emitted to stream subscribers.
const (
	EventChecking = "checking"
	EventResult   = "result"
)

// Event is one fan-out message. Data is marshalled to JSON by the transport.
type Event struct {
	Kind string
	Data any
}

// CheckingPayload is the body of a checking event.
type CheckingPayload struct {
	Checking bool `json:"checking"`
}

// Subscriber is a bounded event sink registered with a State.
type Subscriber struct {
	ID     string
	events chan Event
}

// Events yields queued events in broadcast order. The channel is closed
// once the subscriber is unsubscribed or shed.
func (sub *Subscriber) Events() <-chan Event {
	return sub.events
}

// Subscribe registers a new subscriber.
func (s *State) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		events: make(chan Event, s.queueSize),
	}

	s.mu.Lock()
	s.subscribers[sub.ID] = sub
	s.mu.Unlock()

	s.metrics.SubscriberAdded()
	return sub
}

// Unsubscribe removes sub. Removing an already shed subscriber is a no-op.
func (s *State) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	s.mu.Lock()
	removed := s.removeLocked(sub.ID)
	s.mu.Unlock()

	if removed {
		s.metrics.SubscriberRemoved(false)
	}
}

// Broadcast enqueues ev on every subscriber without blocking. Subscribers
// whose queue is full are removed in the same pass.
func (s *State) Broadcast(kind string, data any) {
	ev := Event{Kind: kind, Data: data}

	s.mu.Lock()
	var shed int
	for id, sub := range s.subscribers {
		select {
		case sub.events <- ev:
		default:
			s.removeLocked(id)
			shed++
		}
	}
	s.mu.Unlock()

	for i := 0; i < shed; i++ {
		s.metrics.SubscriberRemoved(true)
	}
}

// SubscriberCount reports the number of registered subscribers.
func (s *State) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// removeLocked deletes and closes the subscriber; the caller holds s.mu.
func (s *State) removeLocked(id string) bool {
	sub, ok := s.subscribers[id]
	if !ok {
		return false
	}
	delete(s.subscribers, id)
	close(sub.events)
	return true
}
