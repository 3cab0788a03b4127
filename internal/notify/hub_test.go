package notify

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	h := NewHub(16)
	_, ch, cancel := h.Subscribe(0)
	defer cancel()

	h.Publish(TopicIncomingCall, "peer-a")
	ev := <-ch
	if ev.Topic != TopicIncomingCall || ev.Payload != "peer-a" || ev.Seq != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestReplayFromCursor(t *testing.T) {
	h := NewHub(16)
	h.Publish(TopicSessionState, "active")
	h.Publish(TopicChatMessage, "one")
	h.Publish(TopicChatMessage, "two")

	replay, _, cancel := h.Subscribe(1)
	defer cancel()
	if len(replay) != 2 || replay[0].Payload != "one" || replay[1].Payload != "two" {
		t.Fatalf("unexpected replay: %+v", replay)
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 10; i++ {
		h.Publish(TopicSystem, i)
	}
	if h.BacklogSize() != 3 {
		t.Fatalf("history must be capped at 3, got %d", h.BacklogSize())
	}
	replay, _, cancel := h.Subscribe(0)
	defer cancel()
	if replay[0].Payload != 7 {
		t.Fatalf("oldest retained event must be 7, got %v", replay[0].Payload)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := NewHub(8)
	_, ch, cancel := h.Subscribe(0)
	defer cancel()

	// Fill the subscriber buffer past capacity without draining.
	for i := 0; i < 200; i++ {
		h.Publish(TopicSystem, i)
	}
	drained := 0
	for range ch {
		drained++
	}
	if drained != 128 {
		t.Fatalf("expected the channel closed after its buffer filled, drained %d", drained)
	}
}

func TestCancelDetaches(t *testing.T) {
	h := NewHub(8)
	_, ch, cancel := h.Subscribe(0)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscription must be closed")
	}
	// A second cancel is a no-op.
	cancel()
}
