//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

// registerRouterModule registers the `drouter` global table in a Lua state.
func registerRouterModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return routerOn(L, vm)
	}))

	mod.RawSetString("set_crosspoint", L.NewFunction(func(L *lua.LState) int {
		router := L.CheckInt(1)
		output := L.CheckInt(2)
		input := L.CheckInt(3)
		if err := e.control.SetOutputCrosspoint(router, output, input); err != nil {
			e.logger.Warn("script set_crosspoint", "err", err)
		}
		return 0
	}))

	mod.RawSetString("crosspoint", L.NewFunction(func(L *lua.LState) int {
		router := L.CheckInt(1)
		output := L.CheckInt(2)
		if input, ok := e.store.Crosspoint(router, output); ok {
			L.Push(lua.LNumber(input))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	mod.RawSetString("set_gpi", L.NewFunction(func(L *lua.LState) int {
		return routerSetGPIO(L, e, e.control.SetGPIState)
	}))

	mod.RawSetString("set_gpo", L.NewFunction(func(L *lua.LState) int {
		return routerSetGPIO(L, e, e.control.SetGPOState)
	}))

	mod.RawSetString("gpi", L.NewFunction(func(L *lua.LState) int {
		return routerGPIOState(L, e.store.GPIState)
	}))

	mod.RawSetString("gpo", L.NewFunction(func(L *lua.LState) int {
		return routerGPIOState(L, e.store.GPOState)
	}))

	mod.RawSetString("activate_snapshot", L.NewFunction(func(L *lua.LState) int {
		router := L.CheckInt(1)
		name := L.CheckString(2)
		if err := e.control.ActivateSnapshot(router, name); err != nil {
			e.logger.Warn("script activate_snapshot", "err", err)
		}
		return 0
	}))

	mod.RawSetString("save_action", L.NewFunction(func(L *lua.LState) int {
		return routerSaveAction(L, e)
	}))

	mod.RawSetString("delete_action", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckInt(1)
		if err := e.control.RemoveAction(id); err != nil {
			e.logger.Warn("script delete_action", "err", err)
		}
		return 0
	}))

	mod.RawSetString("routers", L.NewFunction(func(L *lua.LState) int {
		t := L.NewTable()
		for i, r := range e.store.Routers() {
			rt := L.NewTable()
			rt.RawSetString("number", lua.LNumber(r.Number))
			rt.RawSetString("name", lua.LString(r.Name))
			rt.RawSetString("type", lua.LString(string(r.Type)))
			t.RawSetInt(i+1, rt)
		}
		L.Push(t)
		return 1
	}))

	mod.RawSetString("inputs", L.NewFunction(func(L *lua.LState) int {
		return routerEndpoints(L, e.store.Inputs)
	}))

	mod.RawSetString("outputs", L.NewFunction(func(L *lua.LState) int {
		return routerEndpoints(L, e.store.Outputs)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return routerAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		e.logger.Info("script log", "msg", msg)
		return 0
	}))

	L.SetGlobal("drouter", mod)
}

const maxHandlersPerScript = 100

// drouter.on(type, filter, callback). Filter keys: router, line (line also
// matches crosspoint outputs).
func routerOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		router:    -1,
		line:      -1,
		fn:        fn,
	}

	if v := filterTable.RawGetString("router"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.router = int(n)
		}
	}
	if v := filterTable.RawGetString("line"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.line = int(n)
		}
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// drouter.set_gpi(router, line, code [, duration_ms])
func routerSetGPIO(L *lua.LState, e *Engine, set func(router, line int, code string, duration int) error) int {
	router := L.CheckInt(1)
	line := L.CheckInt(2)
	code := L.CheckString(3)
	duration := L.OptInt(4, 0)
	if err := set(router, line, code, duration); err != nil {
		e.logger.Warn("script gpio command", "err", err)
	}
	return 0
}

func routerGPIOState(L *lua.LState, get func(router, line int) (string, bool)) int {
	router := L.CheckInt(1)
	line := L.CheckInt(2)
	if code, ok := get(router, line); ok {
		L.Push(lua.LString(code))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

func routerEndpoints(L *lua.LState, list func(router int) []state.Endpoint) int {
	router := L.CheckInt(1)
	t := L.NewTable()
	for i, ep := range list(router) {
		et := L.NewTable()
		et.RawSetString("number", lua.LNumber(ep.Number))
		et.RawSetString("name", lua.LString(ep.Name))
		et.RawSetString("host_name", lua.LString(ep.HostName))
		t.RawSetInt(i+1, et)
	}
	L.Push(t)
	return 1
}

// drouter.save_action{router=1, time="06:00:00", monday=true, destination=2, source=3, ...}
func routerSaveAction(L *lua.LState, e *Engine) int {
	tbl := L.CheckTable(1)
	edit := protoj.ActionEdit{ID: -1, IsActive: true}

	getInt := func(key string, dst *int) {
		if v, ok := tbl.RawGetString(key).(lua.LNumber); ok {
			*dst = int(v)
		}
	}
	getBool := func(key string, dst *bool) {
		if v, ok := tbl.RawGetString(key).(lua.LBool); ok {
			*dst = bool(v)
		}
	}
	getString := func(key string, dst *string) {
		if v, ok := tbl.RawGetString(key).(lua.LString); ok {
			*dst = string(v)
		}
	}

	getInt("id", &edit.ID)
	getInt("router", &edit.Router)
	getInt("destination", &edit.Destination)
	getInt("source", &edit.Source)
	getString("time", &edit.Time)
	getString("comment", &edit.Comment)
	getBool("is_active", &edit.IsActive)
	getBool("sunday", &edit.Sunday)
	getBool("monday", &edit.Monday)
	getBool("tuesday", &edit.Tuesday)
	getBool("wednesday", &edit.Wednesday)
	getBool("thursday", &edit.Thursday)
	getBool("friday", &edit.Friday)
	getBool("saturday", &edit.Saturday)

	if edit.Time == "" {
		L.RaiseError("save_action: time is required")
		return 0
	}
	if err := e.control.SaveAction(edit); err != nil {
		e.logger.Warn("script save_action", "err", err)
	}
	return 0
}

// drouter.after(ms, fn) schedules fn on the script's command loop.
func routerAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	ms := L.CheckInt(1)
	fn := L.CheckFunction(2)

	time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		select {
		case <-vm.ctx.Done():
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("lua timer error", "err", err)
			}
		}:
		default:
			e.logger.Warn("script command channel full, dropping timer")
		}
	})
	return 0
}
