package state

import (
	"log/slog"
	"os"
	"testing"
)

func newTestBus() *Bus {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBus(logger)
}

func TestBusOnDeliversMatchingType(t *testing.T) {
	bus := newTestBus()
	var got []Event
	bus.On(EventCrosspoint, func(ev Event) { got = append(got, ev) })

	bus.Emit(Event{Type: EventCrosspoint, Data: CrosspointData{Router: 1, Output: 2, Input: 3}})
	bus.Emit(Event{Type: EventGPIState, Data: GPIOData{Router: 1, Line: 1, Code: "hhhhh"}})

	if len(got) != 1 {
		t.Fatalf("delivered = %d, want 1", len(got))
	}
	d := got[0].Data.(CrosspointData)
	if d.Output != 2 || d.Input != 3 {
		t.Errorf("data = %+v", d)
	}
}

func TestBusOnAllSeesEverything(t *testing.T) {
	bus := newTestBus()
	var count int
	bus.OnAll(func(Event) { count++ })

	bus.Emit(Event{Type: EventRouterAdded})
	bus.Emit(Event{Type: EventConnection})
	bus.Emit(Event{Type: "anything"})

	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newTestBus()
	var count int
	unsub := bus.On(EventActionAdded, func(Event) { count++ })

	bus.Emit(Event{Type: EventActionAdded})
	unsub()
	bus.Emit(Event{Type: EventActionAdded})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	bus := newTestBus()
	var after int
	bus.On(EventConnection, func(Event) { panic("boom") })
	bus.On(EventConnection, func(Event) { after++ })

	bus.Emit(Event{Type: EventConnection})

	if after != 1 {
		t.Error("handler after panicking one was not called")
	}
}
