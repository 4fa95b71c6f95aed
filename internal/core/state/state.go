// Package state holds the daemon's cached view of the alarm panel and the
// event bus that fans state changes out to the MQTT and HTTP surfaces.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trymwestin/nexecur/internal/core/panel"
)

// Snapshot is a copy of everything the daemon knows about the panel.
type Snapshot struct {
	Alarm        panel.ArmState       `json:"alarm"`
	Capabilities panel.Capabilities   `json:"capabilities"`
	Connected    bool                 `json:"connected"`
	Stale        bool                 `json:"stale"`
	Devices      []panel.CameraDevice `json:"devices"`
	LastError    string               `json:"last_error,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// EventType identifies event categories.
type EventType string

const (
	EventPanelUpdate  EventType = "panel_update"
	EventDeviceUpdate EventType = "device_update"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event represents a state change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Reader provides read-only access to state.
type Reader interface {
	Snapshot() Snapshot
}

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		// No publisher can hold the channel once it is out of the map.
		close(ch)
		for range ch {
		}
	}
	return ch, unsub
}

// --- Store ---

// Store holds the current panel state with thread-safe access.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *EventBus
	log  *slog.Logger
}

// NewStore creates a new store wired to the event bus.
func NewStore(bus *EventBus, log *slog.Logger) *Store {
	return &Store{bus: bus, log: log}
}

// Snapshot returns a copy of all state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	snap := s.snap
	snap.Devices = append([]panel.CameraDevice(nil), s.snap.Devices...)
	return snap
}

// UpdatePanel merges a fresh panel snapshot from the backend client.
func (s *Store) UpdatePanel(st panel.State) {
	s.mu.Lock()
	s.snap.Alarm = st.Status
	s.snap.Capabilities = st.Capabilities
	s.snap.Stale = false
	if v, ok := st.Raw["api_error"].(bool); ok && v {
		s.snap.Stale = true
	}
	s.snap.LastError = ""
	s.snap.UpdatedAt = time.Now()
	snap := s.copyLocked()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventPanelUpdate, Data: snap})
}

// SetDevices replaces the known camera device list.
func (s *Store) SetDevices(devices []panel.CameraDevice) {
	s.mu.Lock()
	s.snap.Devices = append([]panel.CameraDevice(nil), devices...)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventDeviceUpdate, Data: snap.Devices})
}

// SetError records a failed poll without touching the cached panel state.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.snap.LastError = err.Error()
	s.mu.Unlock()
}

// SetConnected updates the backend connectivity status.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.snap.Connected != connected
	s.snap.Connected = connected
	s.mu.Unlock()

	if !changed {
		return
	}
	if connected {
		s.bus.Publish(Event{Type: EventConnected})
	} else {
		s.bus.Publish(Event{Type: EventDisconnected})
	}
}
