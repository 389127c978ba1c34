package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rchub/internal/logging"
)

// Type identifies a daemon state change event.
type Type string

const (
	JobCacheChanged      Type = "job_cache_changed"
	MountStateChanged    Type = "mount_state_changed"
	ServeStateChanged    Type = "serve_state_changed"
	BackendSwitched      Type = "backend_switched"
	BackendFallback      Type = "backend_fallback"
	EngineReady          Type = "engine_ready"
	EngineFailed         Type = "engine_failed"
	EnginePathError      Type = "engine_path_error"
	EnginePasswordError  Type = "engine_password_error"
	SchedulerTaskChanged Type = "scheduler_task_changed"
)

// Event carries a typed state change from a daemon component to subscribers.
type Event struct {
	Type    Type
	Backend string
	Message string
	Payload any
	Time    time.Time
}

// Bus fans events out to subscriber channels. Delivery is non-blocking: a
// subscriber that falls behind loses events rather than stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan Event
	logger *slog.Logger
}

// NewBus constructs an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uuid.UUID]chan Event),
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel function removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := uuid.New()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to all subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("subscriber buffer full, event dropped",
				logging.String(logging.FieldEventType, string(evt.Type)))
		}
	}
}

// Emit is shorthand for publishing a typed event with a message.
func (b *Bus) Emit(eventType Type, backend, message string) {
	b.Publish(Event{Type: eventType, Backend: backend, Message: message})
}
