// Package signals lets code react to records created, updated or deleted
// through model endpoints.
package signals

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/ajax_layer/internal/app/model"
)

// Event is delivered to receivers of a signal.
type Event struct {
	// Sender is the model of the instance.
	Sender   *model.Model
	Instance *model.Record
	Payload  map[string]any
}

// Receiver handles one event.
type Receiver func(ctx context.Context, ev Event)

type subscription struct {
	id       string
	receiver Receiver
}

// Signal is a named list of receivers.
type Signal struct {
	name string

	mu   sync.RWMutex
	subs []subscription
}

// New creates a signal with no receivers.
func New(name string) *Signal {
	return &Signal{name: name}
}

// Name returns the signal name.
func (s *Signal) Name() string { return s.name }

// Connect adds fn and returns a func that removes it again.
func (s *Signal) Connect(fn Receiver) (disconnect func()) {
	id := uuid.NewString()
	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: id, receiver: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.disconnect(id) })
	}
}

func (s *Signal) disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Send calls every receiver in connect order on the calling goroutine.
func (s *Signal) Send(ctx context.Context, ev Event) {
	s.mu.RLock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.receiver(ctx, ev)
	}
}

// Hub groups the signals model endpoints emit.
type Hub struct {
	Created *Signal
	Updated *Signal
	Deleted *Signal
}

// NewHub returns a hub with fresh signals.
func NewHub() *Hub {
	return &Hub{
		Created: New("created"),
		Updated: New("updated"),
		Deleted: New("deleted"),
	}
}
