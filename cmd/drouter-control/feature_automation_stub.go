//go:build no_automation

package main

import (
	"log/slog"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *protoj.Session, _ *state.Store, _ *state.Bus, _ *Config, _ *slog.Logger) *autoStopper {
	return &autoStopper{}
}
