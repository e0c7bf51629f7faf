// Package stream fan-outs live access decisions to porter dashboard
// subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"time"
)

// DecisionEvent is one authorization outcome pushed to dashboards.
type DecisionEvent struct {
	PointID      string    `json:"point_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	ActorKind    string    `json:"actor_kind,omitempty"`
	UnitID       string    `json:"unit_id,omitempty"`
	Direction    string    `json:"direction"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason,omitempty"`
	VisitID      string    `json:"visit_id,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	At           time.Time `json:"at"`
}

// Stream fan-outs decision events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan DecisionEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan DecisionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan DecisionEvent {
	ch := make(chan DecisionEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt DecisionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
