package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingApproved  = "booking_approved"
	EventBookingRejected  = "booking_rejected"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"
	EventCalendarFrozen   = "calendar_frozen"
	EventCalendarUnfrozen = "calendar_unfrozen"
)

// BookingEvents lists every booking lifecycle event type.
var BookingEvents = []string{
	EventBookingCreated,
	EventBookingApproved,
	EventBookingRejected,
	EventBookingConfirmed,
	EventBookingCancelled,
	EventBookingCompleted,
}

// CalendarEvents are published when a vendor changes availability directly.
var CalendarEvents = []string{EventCalendarFrozen, EventCalendarUnfrozen}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    int64  `json:"booking_id"`
	PropertyID   int64  `json:"property_id"`
	PropertyName string `json:"property_name,omitempty"`
	CustomerID   int64  `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	CheckIn      string `json:"check_in"`
	CheckOut     string `json:"check_out"`
	FromStatus   string `json:"from_status,omitempty"`
	Status       string `json:"status"`
	TotalAmount  string `json:"total_amount"`
	ChangedBy    string `json:"changed_by,omitempty"`
}

// CalendarEventPayload describes a freeze or unfreeze of a date range.
type CalendarEventPayload struct {
	PropertyID int64  `json:"property_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	ChangedBy  string `json:"changed_by,omitempty"`
}

// Event is one published fact. Payload holds the JSON-encoded payload struct.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus is an in-process, synchronous pub/sub. Publish returns after every
// handler ran; a failing or panicking handler is reported through OnError
// and does not stop the rest.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	onError  func(event *Event, err error)
	seq      atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]EventHandler)}
}

func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.SubscribeMany([]string{eventType}, handler)
}

func (b *EventBus) SubscribeMany(eventTypes []string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

func (b *EventBus) Publish(event *Event) {
	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	report := b.onError
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := invoke(h, event); err != nil && report != nil {
			report(event, err)
		}
	}
}

func invoke(h EventHandler, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(event)
}

// PublishJSON encodes payload and publishes it. A nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	b.Publish(&Event{Type: eventType, Payload: raw})
	return nil
}
