//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

type engineCall struct {
	kind     string
	router   int
	output   int
	input    int
	line     int
	code     string
	duration int
	snapshot string
	id       int
}

type chanControl struct {
	calls chan engineCall
}

func newChanControl() *chanControl {
	return &chanControl{calls: make(chan engineCall, 16)}
}

func (c *chanControl) SetOutputCrosspoint(router, output, input int) error {
	c.calls <- engineCall{kind: "crosspoint", router: router, output: output, input: input}
	return nil
}

func (c *chanControl) SetGPIState(router, line int, code string, duration int) error {
	c.calls <- engineCall{kind: "gpi", router: router, line: line, code: code, duration: duration}
	return nil
}

func (c *chanControl) SetGPOState(router, line int, code string, duration int) error {
	c.calls <- engineCall{kind: "gpo", router: router, line: line, code: code, duration: duration}
	return nil
}

func (c *chanControl) ActivateSnapshot(router int, snapshot string) error {
	c.calls <- engineCall{kind: "snapshot", router: router, snapshot: snapshot}
	return nil
}

func (c *chanControl) SaveAction(edit protoj.ActionEdit) error {
	c.calls <- engineCall{kind: "save_action", router: edit.Router, id: edit.ID}
	return nil
}

func (c *chanControl) RemoveAction(id int) error {
	c.calls <- engineCall{kind: "delete_action", id: id}
	return nil
}

func (c *chanControl) waitCall(t *testing.T) engineCall {
	t.Helper()
	select {
	case call := <-c.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for control call")
		return engineCall{}
	}
}

func testEngine(t *testing.T, control Control, scripts map[string]string) (*Engine, *state.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dir := filepath.Join(t.TempDir(), "scripts")
	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	for name, code := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := state.NewStore()
	bus := state.NewBus(logger)
	e := NewEngine(store, bus, control, mgr, logger)
	e.Start()
	t.Cleanup(e.Stop)
	return e, bus
}

func TestEngineDispatchesEventToScript(t *testing.T) {
	control := newChanControl()
	script := `
drouter.on("crosspoint", {router = 1}, function(ev)
	drouter.set_crosspoint(ev.router, ev.output, 12)
end)
`
	_, bus := testEngine(t, control, map[string]string{"relay.lua": script})

	bus.Emit(state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{Router: 1, Output: 4, Input: 2}})

	call := control.waitCall(t)
	want := engineCall{kind: "crosspoint", router: 1, output: 4, input: 12}
	if call != want {
		t.Errorf("call = %+v, want %+v", call, want)
	}
}

func TestEngineRouterFilterExcludes(t *testing.T) {
	control := newChanControl()
	script := `
drouter.on("gpi_state", {router = 2, line = 3}, function(ev)
	drouter.set_gpo(ev.router, ev.line, ev.code)
end)
`
	_, bus := testEngine(t, control, map[string]string{"gpio.lua": script})

	// Wrong router, then wrong line, then a match.
	bus.Emit(state.Event{Type: state.EventGPIState, Data: state.GPIOData{Router: 1, Line: 3, Code: "hxxxx"}})
	bus.Emit(state.Event{Type: state.EventGPIState, Data: state.GPIOData{Router: 2, Line: 1, Code: "hxxxx"}})
	bus.Emit(state.Event{Type: state.EventGPIState, Data: state.GPIOData{Router: 2, Line: 3, Code: "lllll"}})

	call := control.waitCall(t)
	want := engineCall{kind: "gpo", router: 2, line: 3, code: "lllll"}
	if call != want {
		t.Errorf("call = %+v, want %+v", call, want)
	}
	select {
	case extra := <-control.calls:
		t.Errorf("unexpected extra call %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineSkipsDisabledScripts(t *testing.T) {
	control := newChanControl()
	script := `
-- disabled
drouter.on("crosspoint", {}, function(ev)
	drouter.set_crosspoint(1, 1, 1)
end)
`
	_, bus := testEngine(t, control, map[string]string{"off.lua": script})

	bus.Emit(state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{Router: 1, Output: 1, Input: 2}})

	select {
	case call := <-control.calls:
		t.Errorf("disabled script ran: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineReloadScript(t *testing.T) {
	control := newChanControl()
	script := `
drouter.on("connection", {}, function(ev)
	drouter.activate_snapshot(1, "recover")
end)
`
	e, bus := testEngine(t, control, map[string]string{"recover.lua": script})

	if err := e.ReloadScript("recover"); err != nil {
		t.Fatal(err)
	}

	bus.Emit(state.Event{Type: state.EventConnection, Data: state.ConnectionData{Connected: true}})

	call := control.waitCall(t)
	if call.kind != "snapshot" || call.snapshot != "recover" {
		t.Errorf("call = %+v", call)
	}
	// Reload must not leave the old VM running alongside the new one.
	select {
	case extra := <-control.calls:
		t.Errorf("handler fired twice after reload: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	control := newChanControl()
	e, _ := testEngine(t, control, nil)

	res := e.RunLuaCode(`drouter.log("first") drouter.log("second")`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "first" || res.Logs[1] != "second" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeReportsErrors(t *testing.T) {
	control := newChanControl()
	e, _ := testEngine(t, control, nil)

	res := e.RunLuaCode(`this is not lua`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("expected error message")
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	control := newChanControl()
	e, _ := testEngine(t, control, nil)

	for _, code := range []string{
		`os.execute("true")`,
		`io.open("/etc/passwd")`,
		`require("socket")`,
	} {
		res := e.RunLuaCode(code)
		if res.OK {
			t.Errorf("sandboxed call succeeded: %s", code)
		}
	}
}

func TestEventScope(t *testing.T) {
	tests := []struct {
		name       string
		event      state.Event
		wantRouter int
		wantLine   int
	}{
		{
			name:       "connection has no scope",
			event:      state.Event{Type: state.EventConnection, Data: state.ConnectionData{}},
			wantRouter: -1, wantLine: -1,
		},
		{
			name:       "crosspoint scopes to output",
			event:      state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{Router: 2, Output: 7, Input: 1}},
			wantRouter: 2, wantLine: 7,
		},
		{
			name:       "gpio scopes to line",
			event:      state.Event{Type: state.EventGPOState, Data: state.GPIOData{Router: 3, Line: 5}},
			wantRouter: 3, wantLine: 5,
		},
		{
			name:       "endpoint scopes to number",
			event:      state.Event{Type: state.EventInputAdded, Data: state.EndpointData{Router: 1, Endpoint: state.Endpoint{Number: 9}}},
			wantRouter: 1, wantLine: 9,
		},
		{
			name:       "action scopes to router only",
			event:      state.Event{Type: state.EventActionAdded, Data: state.ActionData{Action: state.Action{ID: 4, Router: 6}}},
			wantRouter: 6, wantLine: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, line := eventScope(tt.event)
			if router != tt.wantRouter || line != tt.wantLine {
				t.Errorf("eventScope() = (%d, %d), want (%d, %d)", router, line, tt.wantRouter, tt.wantLine)
			}
		})
	}
}

func TestMatchesHandler(t *testing.T) {
	ev := state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{Router: 1, Output: 4, Input: 2}}

	tests := []struct {
		name string
		h    luaEventHandler
		want bool
	}{
		{"any", luaEventHandler{eventType: "crosspoint", router: -1, line: -1}, true},
		{"router match", luaEventHandler{eventType: "crosspoint", router: 1, line: -1}, true},
		{"router mismatch", luaEventHandler{eventType: "crosspoint", router: 2, line: -1}, false},
		{"line match", luaEventHandler{eventType: "crosspoint", router: 1, line: 4}, true},
		{"line mismatch", luaEventHandler{eventType: "crosspoint", router: 1, line: 5}, false},
		{"type mismatch", luaEventHandler{eventType: "gpi_state", router: -1, line: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.h, ev); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}
