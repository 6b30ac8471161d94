// Package events publishes delivery and automation lifecycle events for
// downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types. They double as AMQP routing keys.
const (
	TypeAutomationTriggered = "automation.triggered"
	TypeMessageSent         = "message.sent"
	TypeMessageFailed       = "message.failed"
	TypeQueueCleaned        = "queue.cleaned"
	TypeMetricsRecomputed   = "metrics.recomputed"
)

// Event is one published fact.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	UserID       uint      `json:"user_id,omitempty"`
	ContactID    uint      `json:"contact_id,omitempty"`
	AutomationID *uint     `json:"automation_id,omitempty"`
	QueuedID     uint      `json:"queued_id,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Count        int64     `json:"count,omitempty"`
	At           time.Time `json:"at"`
}

// New returns an event of type t stamped with a fresh ID.
func New(t string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at.UTC()}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps published events in memory, for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e.
func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the published events of type t.
func (m *Memory) OfType(t string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
