package bus

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscription) any {
	t.Helper()
	select {
	case msg, ok := <-sub:
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestPubSubBus_PublishSubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	state := b.Subscribe(TopicState)
	all := b.Subscribe(TopicState, TopicNotification)

	b.Publish(TopicState, "connected")
	b.Publish(TopicNotification, 42)

	if got := receive(t, state); got != "connected" {
		t.Errorf("state subscriber got %v, want connected", got)
	}
	if got := receive(t, all); got != "connected" {
		t.Errorf("multi-topic subscriber got %v, want connected", got)
	}
	if got := receive(t, all); got != 42 {
		t.Errorf("multi-topic subscriber got %v, want 42", got)
	}

	select {
	case msg := <-state:
		t.Errorf("state subscriber got notification %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPubSubBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(TopicState)
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("received message after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Error("subscription not closed after Unsubscribe")
	}
}

func TestPayloadType(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "<nil>"},
		{"x", "string"},
		{3, "int"},
		{struct{}{}, "struct {}"},
	}

	for _, tt := range tests {
		if got := payloadType(tt.in); got != tt.want {
			t.Errorf("payloadType(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
