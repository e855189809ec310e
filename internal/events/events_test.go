package events

import (
	"errors"
	"strings"
	"testing"
)

func TestPublishJSONDeliversPayload(t *testing.T) {
	bus := NewEventBus()

	var got []*Event
	bus.Subscribe(EventBookingCreated, func(e *Event) error {
		got = append(got, e)
		return nil
	})

	for id := int64(1); id <= 2; id++ {
		if err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: id, PropertyID: 7, Status: "pending"}); err != nil {
			t.Fatalf("PublishJSON: %v", err)
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].ID == 0 || got[0].ID == got[1].ID {
		t.Errorf("expected distinct event ids, got %d and %d", got[0].ID, got[1].ID)
	}
	if got[1].CreatedAt.IsZero() {
		t.Errorf("expected timestamp to be set")
	}

	var p BookingEventPayload
	if err := got[1].Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.BookingID != 2 || p.PropertyID != 7 || p.Status != "pending" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestPublishJSONEncodeError(t *testing.T) {
	bus := NewEventBus()
	err := bus.PublishJSON(EventBookingCreated, map[string]interface{}{"bad": make(chan int)})
	if err == nil || !strings.Contains(err.Error(), EventBookingCreated) {
		t.Errorf("expected encode error naming the event, got %v", err)
	}
}

func TestFailingHandlersAreIsolated(t *testing.T) {
	bus := NewEventBus()
	var reported []string
	bus.OnError(func(e *Event, err error) {
		reported = append(reported, e.Type+": "+err.Error())
	})

	delivered := 0
	bus.Subscribe(EventBookingConfirmed, func(*Event) error { return errors.New("smtp down") })
	bus.Subscribe(EventBookingConfirmed, func(*Event) error { panic("nil template") })
	bus.Subscribe(EventBookingConfirmed, func(*Event) error { delivered++; return nil })

	bus.Publish(&Event{Type: EventBookingConfirmed})

	if delivered != 1 {
		t.Errorf("later handlers must still run, delivered=%d", delivered)
	}
	want := []string{
		"booking_confirmed: smtp down",
		"booking_confirmed: handler panic: nil template",
	}
	if len(reported) != len(want) {
		t.Fatalf("expected %d reports, got %v", len(want), reported)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Errorf("report %d: want %q, got %q", i, want[i], reported[i])
		}
	}
}

func TestSubscribeManyRoutesByType(t *testing.T) {
	bus := NewEventBus()
	seen := map[string]int{}
	bus.SubscribeMany(BookingEvents, func(e *Event) error { seen[e.Type]++; return nil })

	for _, et := range append(append([]string{}, BookingEvents...), CalendarEvents...) {
		bus.Publish(&Event{Type: et})
	}

	for _, et := range BookingEvents {
		if seen[et] != 1 {
			t.Errorf("%s delivered %d times", et, seen[et])
		}
	}
	for _, et := range CalendarEvents {
		if seen[et] != 0 {
			t.Errorf("%s must not reach booking subscribers", et)
		}
	}
}

func TestNilAndEmptyBus(t *testing.T) {
	NewEventBus().Publish(&Event{Type: "unknown"})

	var bus *EventBus
	if err := bus.PublishJSON(EventBookingCreated, nil); err != nil {
		t.Errorf("nil bus should drop events, got %v", err)
	}
}
