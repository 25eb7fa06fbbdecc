package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/example/roadassist/internal/models"
)

type fakeConn struct {
	msgs   []interface{}
	closed bool
	fail   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.fail {
		return errors.New("write fail")
	}
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *fakeConn) Close() error { c.closed = true; return nil }

type fakePusher struct{ tokens []string }

func (p *fakePusher) Push(token string, ev models.RequestEvent) error {
	p.tokens = append(p.tokens, token)
	return nil
}

func TestNotifyProvidersPrefersSessionThenPush(t *testing.T) {
	reg := NewRegistry()
	online := &fakeConn{}
	reg.Add("p-online", online)
	push := &fakePusher{}
	r := New(reg, push, nil)

	providers := []models.Provider{
		{ID: "p-online"},
		{ID: "p-push", PushToken: "tok-1"},
		{ID: "p-gone"},
	}
	r.NotifyProviders(context.Background(), providers, models.RequestEvent{Type: "request.new", RequestID: "r1"})

	if len(online.msgs) != 1 {
		t.Fatalf("online provider should get ws message, got %d", len(online.msgs))
	}
	if len(push.tokens) != 1 || push.tokens[0] != "tok-1" {
		t.Fatalf("offline provider with token should get push, got %v", push.tokens)
	}
}

func TestNotifyCustomerPublishesUpdateChannel(t *testing.T) {
	reg := NewRegistry()
	owner := &fakeConn{}
	watcher := &fakeConn{}
	reg.Add("cust-1", owner)
	ws := reg.Add("watcher", watcher)
	ws.Subscribe("requests:update:r1")

	r := New(reg, nil, nil)
	r.NotifyCustomer(context.Background(), "cust-1", models.RequestEvent{Type: "request.accepted", RequestID: "r1"})

	if len(owner.msgs) != 1 {
		t.Fatalf("owner should be notified directly, got %d", len(owner.msgs))
	}
	if len(watcher.msgs) != 1 {
		t.Fatalf("channel subscriber should be notified, got %d", len(watcher.msgs))
	}
}

func TestBroadcastReachesNewRequestChannel(t *testing.T) {
	reg := NewRegistry()
	sub := &fakeConn{}
	s := reg.Add("p-sub", sub)
	s.Subscribe("requests:new:mechanic")
	r := New(reg, nil, nil)

	req := &models.ServiceRequest{ID: "r1", ServiceType: models.ServiceMechanic}
	r.Broadcast(context.Background(), models.ServiceMechanic, models.RequestEvent{Type: "request.new", RequestID: "r1", Request: req})

	if len(sub.msgs) != 1 {
		t.Fatalf("service-type subscriber should receive new request, got %d", len(sub.msgs))
	}
}

func TestAddressedEventsStayOffTheFeed(t *testing.T) {
	reg := NewRegistry()
	feed := &fakeConn{}
	s := reg.Add("p-watcher", feed)
	s.Subscribe("requests:new:mechanic")
	winner := &fakeConn{}
	reg.Add("p-winner", winner)
	r := New(reg, nil, nil)

	req := &models.ServiceRequest{ID: "r1", ServiceType: models.ServiceMechanic, ConfirmedProviderID: "p-winner"}
	r.NotifyProviders(context.Background(), []models.Provider{{ID: "p-winner"}}, models.RequestEvent{
		Type: "request.confirmed", RequestID: "r1", Request: req, ProviderID: "p-winner",
	})

	if len(winner.msgs) != 1 {
		t.Fatalf("confirmed provider should be notified directly, got %d", len(winner.msgs))
	}
	if len(feed.msgs) != 0 {
		t.Fatalf("addressed event must not reach the new-requests feed, got %d", len(feed.msgs))
	}
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	reg := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}
	s1 := reg.Add("u1", first)
	reg.Add("u1", second)
	if !first.closed {
		t.Fatal("stale connection should be closed on replacement")
	}
	// removing the stale session must not evict the live one
	reg.Remove("u1", s1)
	if err := reg.Send("u1", "hello"); err != nil {
		t.Fatalf("live session evicted: %v", err)
	}
	if len(second.msgs) != 1 {
		t.Fatalf("expected message on live session, got %d", len(second.msgs))
	}
}
