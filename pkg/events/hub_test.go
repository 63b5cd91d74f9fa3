package events

import (
	"testing"
	"time"
)

func TestHubDeliversMessages(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.PublishMessage("calibration.over", map[string]string{"status": "finished"})

	select {
	case msg := <-ch:
		if msg.Name != "calibration.over" {
			t.Errorf("message name = %q", msg.Name)
		}
		payload, err := DecodeAs[map[string]string](msg)
		if err != nil {
			t.Fatalf("DecodeAs failed: %v", err)
		}
		if payload["status"] != "finished" {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// The subscriber buffer is finite; an unread subscriber must not block
	// the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.PublishMessage("system.properties-changed", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	for range ch {
	}
	// Unsubscribing twice is a no-op.
	h.Unsubscribe(ch)
}

func TestDecodeAsEmptyData(t *testing.T) {
	v, err := DecodeAs[int](Message{Name: "x"})
	if err != nil {
		t.Fatalf("DecodeAs on empty data failed: %v", err)
	}
	if v != 0 {
		t.Errorf("got %d, want zero value", v)
	}
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var h *Hub
	h.PublishMessage("anything", nil)
}
