//go:build !no_automation

// Package automation runs sandboxed Lua scripts that react to router events
// and drive the control session.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

// Control is the command surface scripts may use.
type Control interface {
	SetOutputCrosspoint(router, output, input int) error
	SetGPIState(router, line int, code string, duration int) error
	SetGPOState(router, line int, code string, duration int) error
	ActivateSnapshot(router int, snapshot string) error
	SaveAction(edit protoj.ActionEdit) error
	RemoveAction(id int) error
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a registered Lua callback for an event pattern. Router
// and line filters of -1 match anything.
type luaEventHandler struct {
	eventType string
	router    int
	line      int
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine manages Lua VMs and dispatches bus events to scripts.
type Engine struct {
	store   *state.Store
	bus     *state.Bus
	control Control
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(store *state.Store, bus *state.Bus, control Control, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		control: control,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the bus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.bus.OnAll(func(event state.Event) {
		e.dispatchEvent(event)
	})

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.logger.Info("automation engine started", "scripts", len(e.vms))
}

// Stop cancels all VMs and unsubscribes from the bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}

	if e.unsub != nil {
		e.unsub()
	}

	e.logger.Info("automation engine stopped")
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunLuaCode executes Lua code in a temporary sandboxed VM and captures its
// log output. Used for one-shot script testing.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	var logs []string
	var logMu sync.Mutex

	registerRouterModule(L, vm, e)

	// Override drouter.log to capture output.
	if tbl, ok := L.GetGlobal("drouter").(*lua.LTable); ok {
		tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
			msg := L.CheckString(1)
			logMu.Lock()
			logs = append(logs, msg)
			logMu.Unlock()
			return 0
		}))
	}

	if err := L.DoString(code); err != nil {
		return &RunResult{OK: false, Error: err.Error(), Logs: logs, Duration: time.Since(start).String()}
	}
	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	// Sandbox: remove dangerous libs and functions
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
	return L
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandboxedState()
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	registerRouterModule(L, vm, e)

	// Execute the script to register handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	// Command loop goroutine; exits when the context is cancelled.
	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes a bus event to all matching Lua handlers.
func (e *Engine) dispatchEvent(event state.Event) {
	e.mu.Lock()
	vmsCopy := make(map[string]*scriptVM, len(e.vms))
	for k, v := range e.vms {
		vmsCopy[k] = v
	}
	e.mu.Unlock()

	for _, vm := range vmsCopy {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}

			fn := h.fn
			// Hand off to the VM's command channel for single-threaded Lua
			// execution; skip stopped VMs.
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) {
				e.callHandler(L, fn, event)
			}:
			default:
				e.logger.Warn("script command channel full, dropping event")
			}
		}
	}
}

// eventScope extracts the router and line/output identifiers a handler can
// filter on. Missing dimensions come back as -1.
func eventScope(event state.Event) (router, line int) {
	router, line = -1, -1
	switch d := event.Data.(type) {
	case state.RouterData:
		router = d.Router
	case state.EndpointData:
		router, line = d.Router, d.Endpoint.Number
	case state.SnapshotData:
		router = d.Router
	case state.ActionData:
		router = d.Action.Router
	case state.ActionNextData:
		router = d.Router
	case state.CrosspointData:
		router, line = d.Router, d.Output
	case state.GPIOData:
		router, line = d.Router, d.Line
	}
	return router, line
}

func matchesHandler(h luaEventHandler, event state.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	router, line := eventScope(event)
	if h.router >= 0 && h.router != router {
		return false
	}
	if h.line >= 0 && h.line != line {
		return false
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event state.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, eventToTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// eventToTable builds the Lua event table passed to handlers.
func eventToTable(L *lua.LState, event state.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(event.Type))

	switch d := event.Data.(type) {
	case state.ConnectionData:
		t.RawSetString("connected", lua.LBool(d.Connected))
		t.RawSetString("reason", lua.LString(d.Reason))
	case state.RouterData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("name", lua.LString(d.Name))
		t.RawSetString("router_type", lua.LString(string(d.Type)))
	case state.EndpointData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("number", lua.LNumber(d.Endpoint.Number))
		t.RawSetString("name", lua.LString(d.Endpoint.Name))
	case state.SnapshotData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("name", lua.LString(d.Name))
	case state.ActionData:
		t.RawSetString("router", lua.LNumber(d.Action.Router))
		t.RawSetString("id", lua.LNumber(d.Action.ID))
		t.RawSetString("time", lua.LString(d.Action.Time))
	case state.ActionRemovedData:
		t.RawSetString("id", lua.LNumber(d.ID))
	case state.ActionNextData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("id", lua.LNumber(d.ID))
		t.RawSetString("next", lua.LBool(d.Next))
	case state.CrosspointData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("output", lua.LNumber(d.Output))
		t.RawSetString("input", lua.LNumber(d.Input))
	case state.GPIOData:
		t.RawSetString("router", lua.LNumber(d.Router))
		t.RawSetString("line", lua.LNumber(d.Line))
		t.RawSetString("code", lua.LString(d.Code))
	case state.ProtocolErrorData:
		t.RawSetString("code", lua.LNumber(d.Code))
		t.RawSetString("description", lua.LString(d.Description))
	case state.ParseErrorData:
		t.RawSetString("message", lua.LString(d.Message))
	}
	return t
}
