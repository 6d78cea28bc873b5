package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingUpdated     = "booking_updated"
	EventBookingCancelled   = "booking_cancelled"
	EventBookingPaid        = "booking_paid"
	EventCalendarSyncFailed = "calendar_sync_failed"
)

// AllEventTypes lists every event the booking service emits.
var AllEventTypes = []string{
	EventBookingCreated,
	EventBookingUpdated,
	EventBookingCancelled,
	EventBookingPaid,
	EventCalendarSyncFailed,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     string  `json:"booking_id"`
	UserID        string  `json:"user_id"`
	UserName      string  `json:"user_name"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	DurationHours float64 `json:"duration_hours"`
	TimeZone      string  `json:"time_zone"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	ChangedBy     string  `json:"changed_by,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every type in AllEventTypes.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range AllEventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
