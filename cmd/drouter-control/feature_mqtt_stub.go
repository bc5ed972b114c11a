//go:build no_mqtt

package main

import (
	"log/slog"

	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *protoj.Session, _ *state.Store, _ *state.Bus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
