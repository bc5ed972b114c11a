//go:build no_automation

package automation

import (
	"log/slog"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

// ScriptMeta holds the metadata read from a script's header comment.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Control is the command surface scripts may use.
type Control interface {
	SetOutputCrosspoint(router, output, input int) error
	SetGPIState(router, line int, code string, duration int) error
	SetGPOState(router, line int, code string, duration int) error
	ActivateSnapshot(router int, snapshot string) error
	SaveAction(edit protoj.ActionEdit) error
	RemoveAction(id int) error
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil-safe manager when automation is disabled.
func NewManager(_ string) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get returns nil.
func (m *Manager) Get(_ string) (*Script, error) { return nil, nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *state.Store, _ *state.Bus, _ Control, _ *Manager, _ *slog.Logger) *Engine {
	return &Engine{}
}

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// ReloadScript is a no-op.
func (e *Engine) ReloadScript(_ string) error { return nil }

// StopScript is a no-op.
func (e *Engine) StopScript(_ string) {}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
