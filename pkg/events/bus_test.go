package events

import "testing"

type testEvent struct{ n string }

func (e testEvent) Name() string { return e.n }

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(func(e Event) { order = append(order, "first:"+e.Name()) })
	bus.Subscribe(func(e Event) { order = append(order, "second:"+e.Name()) })

	bus.Publish(testEvent{n: "a"})
	bus.Publish(testEvent{n: "b"})

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if len(order) != len(want) {
		t.Fatalf("got %d deliveries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	sub := bus.Subscribe(func(Event) { count++ })
	bus.Publish(testEvent{n: "a"})
	bus.Unsubscribe(sub)
	bus.Publish(testEvent{n: "b"})

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}

	// Unsubscribing twice is harmless.
	bus.Unsubscribe(sub)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(testEvent{n: "a"}) // must not panic
}
