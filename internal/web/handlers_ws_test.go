package web

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"drouter-control/internal/state"
)

func newTestHub() *WSHub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWSHub(logger)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client

	// Give hub time to process
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count := len(hub.clients)
	hub.mu.RUnlock()
	if count != 1 {
		t.Errorf("after register: count = %d, want 1", count)
	}

	hub.unregister <- client

	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count = len(hub.clients)
	hub.mu.RUnlock()
	if count != 0 {
		t.Errorf("after unregister: count = %d, want 0", count)
	}
}

func TestWSHubBroadcastsEvents(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}

	hub.register <- c1
	hub.register <- c2
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{Router: 1, Output: 2, Input: 3}})
	time.Sleep(10 * time.Millisecond)

	for i, c := range []*wsClient{c1, c2} {
		select {
		case msg := <-c.send:
			if len(msg) == 0 {
				t.Errorf("client %d received empty message", i)
			}
		default:
			t.Errorf("client %d did not receive broadcast", i)
		}
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	// A client whose buffer fills must be dropped instead of stalling the hub.
	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}

	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		hub.Broadcast(state.Event{Type: state.EventGPIState, Data: state.GPIOData{Router: 1, Line: i}})
	}
	time.Sleep(20 * time.Millisecond)

	hub.mu.RLock()
	_, slowAlive := hub.clients[slow]
	_, fastAlive := hub.clients[fast]
	hub.mu.RUnlock()

	if slowAlive {
		t.Error("slow client was not evicted")
	}
	if !fastAlive {
		t.Error("fast client was evicted")
	}
}
