package updater

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies orchestrator events published to observers.
type EventType string

const (
	EventCheckStarted     EventType = "check_started"
	EventCheckCompleted   EventType = "check_completed"
	EventCheckFailed      EventType = "check_failed"
	EventUpdateAvailable  EventType = "update_available"
	EventUpdateApplied    EventType = "update_applied"
	EventValidationFailed EventType = "validation_failed"
	EventRollback         EventType = "rollback"
)

// Event is a single orchestrator notification, e.g. for the API event stream.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type eventPublisher struct {
	mu       sync.Mutex
	listener func(Event)
}

// SetEventListener registers the single observer for orchestrator events.
// The listener is invoked synchronously and must not block.
func (p *eventPublisher) SetEventListener(listener func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = listener
}

func (p *eventPublisher) publish(eventType EventType, data map[string]any) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()

	if listener == nil {
		return
	}
	listener(Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}
