package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/skillvault/internal/escrow"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: "escrow_funded", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"escrow_funded", "escrow_released"},
	}}

	funded := &Event{Type: "escrow_funded"}
	released := &Event{Type: "escrow_released"}
	created := &Event{Type: "escrow_created"}

	if !h.shouldSend(client, funded) {
		t.Error("Should receive escrow_funded events")
	}
	if !h.shouldSend(client, released) {
		t.Error("Should receive escrow_released events")
	}
	if h.shouldSend(client, created) {
		t.Error("Should NOT receive escrow_created events")
	}
}

func TestShouldSend_AgentFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		AgentAddrs: []string{"0xagent1"},
	}}

	asProvider := &Event{
		Type: "escrow_funded",
		Data: map[string]interface{}{"provider": "0xagent1", "renter": "0xother"},
	}
	asRenter := &Event{
		Type: "escrow_funded",
		Data: map[string]interface{}{"provider": "0xother", "renter": "0xagent1"},
	}
	unrelated := &Event{
		Type: "escrow_funded",
		Data: map[string]interface{}{"provider": "0xother", "renter": "0xanother"},
	}

	if !h.shouldSend(client, asProvider) {
		t.Error("Should match on provider address")
	}
	if !h.shouldSend(client, asRenter) {
		t.Error("Should match on renter address")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated agents")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	// No filters set: everything passes.
	if !h.shouldSend(client, &Event{Type: "escrow_created"}) {
		t.Error("empty subscription should receive events")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		EventTypes: []string{"escrow_released"},
		AgentAddrs: []string{"0xagent1"},
	}}

	match := &Event{
		Type: "escrow_released",
		Data: map[string]interface{}{"provider": "0xagent1"},
	}
	wrongType := &Event{
		Type: "escrow_funded",
		Data: map[string]interface{}{"provider": "0xagent1"},
	}
	wrongAgent := &Event{
		Type: "escrow_released",
		Data: map[string]interface{}{"provider": "0xother"},
	}

	if !h.shouldSend(client, match) {
		t.Error("Should receive matching event")
	}
	if h.shouldSend(client, wrongType) {
		t.Error("Should NOT receive wrong event type")
	}
	if h.shouldSend(client, wrongAgent) {
		t.Error("Should NOT receive wrong agent")
	}
}

// ---------------------------------------------------------------------------
// Hub loop tests
// ---------------------------------------------------------------------------

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Broadcast(&Event{
		Type:      "escrow_created",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"escrowId": "esc_1"},
	})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if ev.Type != "escrow_created" {
			t.Errorf("event type = %q, want escrow_created", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached client")
	}

	h.unregister <- client
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed after unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client

	cancel()

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on context cancel")
	}
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed on shutdown")
		}
	default:
		t.Error("send channel still open after shutdown")
	}
}

// ---------------------------------------------------------------------------
// EscrowSink tests
// ---------------------------------------------------------------------------

func TestEscrowSink_Publish(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{AllEvents: true}}
	h.register <- client

	sink := NewEscrowSink(h)
	sink.Publish("escrow_funded", &escrow.Escrow{
		ID:       "esc_1",
		Provider: "0xprovider",
		Renter:   "0xrenter",
		Amount:   "5.000000",
		State:    escrow.StateFunded,
		Terms:    escrow.Terms{SkillName: "translation"},
	})

	select {
	case msg := <-client.send:
		var ev struct {
			Type string `json:"type"`
			Data struct {
				EscrowID string `json:"escrowId"`
				State    string `json:"state"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != "escrow_funded" || ev.Data.EscrowID != "esc_1" || ev.Data.State != "funded" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("sink event never reached client")
	}
}
