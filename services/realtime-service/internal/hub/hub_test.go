package hub

import "testing"

func client(id, userID string) *Client {
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, 4)}
}

func TestSendToTargetsUsers(t *testing.T) {
	h := New()
	a1, a2, b := client("1", "alice"), client("2", "alice"), client("3", "bob")
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}

	if got := h.SendTo([]string{"alice"}, TopicRequests, []byte("x")); got != 2 {
		t.Fatalf("expected both alice tabs, got %d", got)
	}
	if len(b.Send) != 0 {
		t.Fatalf("bob should not receive alice's events")
	}
	if got := h.SendTo(nil, TopicAnnouncements, []byte("y")); got != 3 {
		t.Fatalf("expected broadcast to 3 clients, got %d", got)
	}
	if got := h.SendTo([]string{}, TopicRequests, []byte("z")); got != 0 {
		t.Fatalf("empty audience should reach nobody, got %d", got)
	}
}

func TestSubscriptionFiltersTopics(t *testing.T) {
	h := New()
	c := client("1", "alice")
	h.Register(c)

	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","topics":["equipment","bogus"]}`))
	if !ok {
		t.Fatalf("expected subscribe message")
	}
	h.UpdateSubscription(c, msg.Subscription())
	if got := h.SendTo([]string{"alice"}, TopicRequests, []byte("x")); got != 0 {
		t.Fatalf("requests should be filtered out, got %d", got)
	}
	if got := h.SendTo([]string{"alice"}, TopicEquipment, []byte("x")); got != 1 {
		t.Fatalf("equipment should pass, got %d", got)
	}

	for _, raw := range []string{`{"action":"subscribe","topics":["typo"]}`, `{"action":"subscribe"}`} {
		if _, ok := ParseSubscribe([]byte(raw)); ok {
			t.Fatalf("subscribe without known topics should be ignored: %s", raw)
		}
	}
	if got := h.SendTo([]string{"alice"}, TopicRequests, []byte("x")); got != 0 {
		t.Fatalf("previous subscription should stand, got %d", got)
	}

	msg, _ = ParseSubscribe([]byte(`{"action":"unsubscribe"}`))
	h.UpdateSubscription(c, msg.Subscription())
	if got := h.SendTo([]string{"alice"}, TopicRequests, []byte("x")); got != 1 {
		t.Fatalf("unsubscribe should restore every topic, got %d", got)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"dance"}`)); ok {
		t.Fatalf("unknown action should be rejected")
	}
}

func TestSlowClientDropsMessages(t *testing.T) {
	h := New()
	c := &Client{ID: "1", UserID: "alice", Send: make(chan []byte, 1)}
	h.Register(c)
	h.SendTo(nil, TopicRequests, []byte("a"))
	if got := h.SendTo(nil, TopicRequests, []byte("b")); got != 0 {
		t.Fatalf("full buffer should drop, got %d", got)
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New()
	c := client("1", "alice")
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if _, open := <-c.Send; open {
		t.Fatalf("expected closed channel")
	}
	if h.Connected() != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestTopicFor(t *testing.T) {
	cases := map[string]string{
		"request.decided":        TopicRequests,
		"movement.confirmed":     TopicEquipment,
		"repair_return.created":  TopicEquipment,
		"assignment.withdrawn":   TopicEquipment,
		"announcement.published": TopicAnnouncements,
	}
	for eventType, want := range cases {
		if got := TopicFor(eventType); got != want {
			t.Fatalf("%s: expected %s, got %s", eventType, want, got)
		}
	}
}
