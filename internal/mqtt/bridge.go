//go:build !no_mqtt

// Package mqtt mirrors router state to an MQTT broker and accepts route,
// GPIO, and snapshot commands on set topics.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"drouter-control/internal/state"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Control is the command subset of the protocol session used by the bridge.
type Control interface {
	SetOutputCrosspoint(router, output, input int) error
	SetGPIState(router, line int, code string, duration int) error
	SetGPOState(router, line int, code string, duration int) error
	ActivateSnapshot(router int, snapshot string) error
}

// Bridge connects the router state to an MQTT broker.
type Bridge struct {
	client  pahomqtt.Client
	store   *state.Store
	bus     *state.Bus
	control Control
	prefix  string
	logger  *slog.Logger
	unsub   func()
}

// NewBridge creates and connects the bridge. The broker connection retries in
// the background; a will message flips the bridge topic to offline if the
// daemon dies.
func NewBridge(store *state.Store, bus *state.Bus, control Control, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		store:   store,
		bus:     bus,
		control: control,
		prefix:  cfg.TopicPrefix,
		logger:  logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("drouter-control").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish("bridge/state", "online", true)
			b.publishSnapshot()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to bus events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish("bridge/state", "offline", true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event state.Event) {
	switch event.Type {
	case state.EventConnection:
		d, ok := event.Data.(state.ConnectionData)
		if !ok {
			return
		}
		payload := "disconnected"
		if d.Connected {
			payload = "connected"
		}
		b.publish("router/state", payload, true)

	case state.EventRouterAdded:
		d, ok := event.Data.(state.RouterData)
		if !ok {
			return
		}
		b.publishJSON(fmt.Sprintf("routers/%d", d.Router), map[string]any{
			"name": d.Name,
			"type": d.Type,
		}, true)

	case state.EventCrosspoint:
		d, ok := event.Data.(state.CrosspointData)
		if !ok {
			return
		}
		b.publishJSON(fmt.Sprintf("routers/%d/crosspoints/%d", d.Router, d.Output), map[string]any{
			"input": d.Input,
		}, true)

	case state.EventGPIState:
		d, ok := event.Data.(state.GPIOData)
		if !ok {
			return
		}
		b.publish(fmt.Sprintf("routers/%d/gpis/%d", d.Router, d.Line), d.Code, true)

	case state.EventGPOState:
		d, ok := event.Data.(state.GPIOData)
		if !ok {
			return
		}
		b.publish(fmt.Sprintf("routers/%d/gpos/%d", d.Router, d.Line), d.Code, true)

	case state.EventProtocolError:
		d, ok := event.Data.(state.ProtocolErrorData)
		if !ok {
			return
		}
		b.publishJSON("bridge/last_error", d, false)
	}
}

// publishSnapshot pushes the full derived state after (re)connecting to the
// broker, so retained topics match reality.
func (b *Bridge) publishSnapshot() {
	for _, r := range b.store.Routers() {
		b.publishJSON(fmt.Sprintf("routers/%d", r.Number), map[string]any{
			"name": r.Name,
			"type": r.Type,
		}, true)
		for _, cp := range b.store.Crosspoints(r.Number) {
			b.publishJSON(fmt.Sprintf("routers/%d/crosspoints/%d", r.Number, cp.Output), map[string]any{
				"input": cp.Input,
			}, true)
		}
		for _, g := range b.store.GPIStates(r.Number) {
			b.publish(fmt.Sprintf("routers/%d/gpis/%d", r.Number, g.Line), g.Code, true)
		}
		for _, g := range b.store.GPOStates(r.Number) {
			b.publish(fmt.Sprintf("routers/%d/gpos/%d", r.Number, g.Line), g.Code, true)
		}
	}
}

func (b *Bridge) subscribeCommands() {
	filter := b.prefix + "/routers/+/+/set"
	nested := b.prefix + "/routers/+/+/+/set"
	for _, f := range []string{filter, nested} {
		token := b.client.Subscribe(f, 0, b.handleCommand)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.logger.Error("mqtt subscribe", "filter", f, "err", token.Error())
		}
	}
}

type gpioCommand struct {
	Code     string `json:"code"`
	Duration int    `json:"duration"`
}

func (b *Bridge) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	cmd, err := parseCommandTopic(b.prefix, msg.Topic())
	if err != nil {
		b.logger.Debug("ignoring topic", "topic", msg.Topic(), "err", err)
		return
	}
	payload := strings.TrimSpace(string(msg.Payload()))

	switch cmd.Kind {
	case "crosspoint":
		var input int
		if _, err := fmt.Sscanf(payload, "%d", &input); err != nil {
			b.logger.Warn("bad crosspoint payload", "topic", msg.Topic(), "payload", payload)
			return
		}
		if err := b.control.SetOutputCrosspoint(cmd.Router, cmd.Line, input); err != nil {
			b.logger.Warn("set crosspoint", "err", err)
		}

	case "gpi", "gpo":
		gc := gpioCommand{Code: payload}
		if strings.HasPrefix(payload, "{") {
			if err := json.Unmarshal(msg.Payload(), &gc); err != nil {
				b.logger.Warn("bad gpio payload", "topic", msg.Topic(), "err", err)
				return
			}
		}
		set := b.control.SetGPIState
		if cmd.Kind == "gpo" {
			set = b.control.SetGPOState
		}
		if err := set(cmd.Router, cmd.Line, gc.Code, gc.Duration); err != nil {
			b.logger.Warn("set gpio", "err", err)
		}

	case "snapshot":
		if payload == "" {
			b.logger.Warn("empty snapshot name", "topic", msg.Topic())
			return
		}
		if err := b.control.ActivateSnapshot(cmd.Router, payload); err != nil {
			b.logger.Warn("activate snapshot", "err", err)
		}
	}
}

func (b *Bridge) publish(topic, payload string, retain bool) {
	b.client.Publish(b.prefix+"/"+topic, 0, retain, payload)
}

func (b *Bridge) publishJSON(topic string, v any, retain bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("mqtt marshal", "topic", topic, "err", err)
		return
	}
	b.client.Publish(b.prefix+"/"+topic, 0, retain, data)
}
