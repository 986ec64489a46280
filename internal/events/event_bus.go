// Package events is the control plane's internal pub/sub: components
// publish domain events (a host provisioned, a server spawned, maintenance
// entered) and optional subscribers (the InfluxDB mirror, admin tooling)
// react without coupling to the publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloxon/controlplane/pkg/logger"
)

// EventType is the kind of domain event raised.
type EventType string

const (
	// Host lifecycle events.
	EventHostProvisioning EventType = "host.provisioning"
	EventHostActive       EventType = "host.active"
	EventHostInactive     EventType = "host.inactive"
	EventHostReaped       EventType = "host.reaped"

	// Server lifecycle events.
	EventServerSpawned EventType = "server.spawned"
	EventServerBound   EventType = "server.bound"
	EventServerReaped  EventType = "server.reaped"

	// Matchmaking events.
	EventMatchmakerTimeout EventType = "matchmaker.timeout"
	EventMatchmakerFailed  EventType = "matchmaker.failed"

	// Maintenance events.
	EventMaintenanceEntered EventType = "maintenance.entered"
	EventMaintenanceExited  EventType = "maintenance.exited"
)

// Event is one published occurrence.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"` // e.g. "matchmaker", "lifecycle"
	HostID    string                 `json:"host_id,omitempty"`
	ServerUID string                 `json:"server_uid,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// EventHandler reacts to a published event.
type EventHandler func(event Event)

// EventStorage is the pluggable durable sink for events (the InfluxDB
// mirror implements this).
type EventStorage interface {
	Store(event Event) error
	Query(filters EventFilters) ([]Event, error)
}

// EventFilters narrows a Query call.
type EventFilters struct {
	Types     []EventType
	HostID    string
	UserID    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// EventBus fans out published events to subscribed handlers and, if
// configured, a durable EventStorage.
type EventBus struct {
	subscribers map[EventType][]EventHandler
	mu          sync.RWMutex
	storage     EventStorage
}

var (
	globalBus     *EventBus
	globalBusOnce sync.Once
)

// GetEventBus returns the process-wide event bus singleton.
func GetEventBus() *EventBus {
	globalBusOnce.Do(func() {
		globalBus = NewEventBus(nil)
	})
	return globalBus
}

// SetEventStorage wires a durable sink onto the global bus.
func SetEventStorage(storage EventStorage) {
	bus := GetEventBus()
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.storage = storage
}

// NewEventBus constructs a bus, optionally backed by storage.
func NewEventBus(storage EventStorage) *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]EventHandler),
		storage:     storage,
	}
}

// Subscribe registers handler for eventType.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], handler)
}

// Publish fans event out to every subscriber of its type and, if
// configured, the durable storage. Handlers run in their own goroutine so a
// slow or panicking subscriber can't stall the publisher.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if eb.storage != nil {
		if err := eb.storage.Store(event); err != nil {
			logger.Error("failed to store event", err, map[string]interface{}{
				"event_id": event.ID, "event_type": event.Type,
			})
		}
	}

	eb.mu.RLock()
	handlers := eb.subscribers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panicked", nil, map[string]interface{}{
						"event_type": event.Type, "panic": r,
					})
				}
			}()
			h(event)
		}(handler)
	}
}

// Query retrieves events from the configured storage, or nil if none.
func (eb *EventBus) Query(filters EventFilters) ([]Event, error) {
	if eb.storage == nil {
		return nil, nil
	}
	return eb.storage.Query(filters)
}
