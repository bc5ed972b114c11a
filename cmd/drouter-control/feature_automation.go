//go:build !no_automation

package main

import (
	"log/slog"

	"drouter-control/internal/automation"
	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(session *protoj.Session, store *state.Store, bus *state.Bus, cfg *Config, logger *slog.Logger) *autoStopper {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}

	engine := automation.NewEngine(store, bus, session, scriptMgr, logger)
	engine.Start()
	return &autoStopper{engine: engine}
}
