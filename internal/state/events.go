package state

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventConnection    = "connection"
	EventRouterAdded   = "router_added"
	EventInputAdded    = "input_added"
	EventOutputAdded   = "output_added"
	EventSnapshotAdded = "snapshot_added"
	EventActionAdded   = "action_added"
	EventActionRemoved = "action_removed"
	EventActionNext    = "action_next"
	EventCrosspoint    = "crosspoint"
	EventGPIState      = "gpi_state"
	EventGPOState      = "gpo_state"
	EventProtocolError = "protocol_error"
	EventParseError    = "parse_error"
)

// ConnectionCode mirrors the session result codes of the wire protocol.
type ConnectionCode int

const (
	ConnectionOK ConnectionCode = iota
	ConnectionInvalidLogin
	ConnectionWatchdogActive
)

func (c ConnectionCode) String() string {
	switch c {
	case ConnectionOK:
		return "ok"
	case ConnectionInvalidLogin:
		return "invalid login"
	case ConnectionWatchdogActive:
		return "watchdog active"
	default:
		return "unknown"
	}
}

// ConnectionData is the payload of EventConnection.
type ConnectionData struct {
	Connected bool           `json:"connected"`
	Code      ConnectionCode `json:"code"`
	Reason    string         `json:"reason,omitempty"`
}

// RouterData is the payload of EventRouterAdded.
type RouterData struct {
	Router int        `json:"router"`
	Name   string     `json:"name"`
	Type   RouterType `json:"type"`
}

// EndpointData is the payload of EventInputAdded / EventOutputAdded.
type EndpointData struct {
	Router   int      `json:"router"`
	Endpoint Endpoint `json:"endpoint"`
}

// SnapshotData is the payload of EventSnapshotAdded.
type SnapshotData struct {
	Router int    `json:"router"`
	Name   string `json:"name"`
}

// ActionData is the payload of EventActionAdded.
type ActionData struct {
	Action Action `json:"action"`
}

// ActionRemovedData is the payload of EventActionRemoved.
type ActionRemovedData struct {
	ID int `json:"id"`
}

// ActionNextData is the payload of EventActionNext.
type ActionNextData struct {
	Router int  `json:"router"`
	ID     int  `json:"id"`
	Next   bool `json:"next"`
}

// CrosspointData is the payload of EventCrosspoint.
type CrosspointData struct {
	Router int `json:"router"`
	Output int `json:"output"`
	Input  int `json:"input"`
}

// GPIOData is the payload of EventGPIState / EventGPOState.
type GPIOData struct {
	Router int    `json:"router"`
	Line   int    `json:"line"`
	Code   string `json:"code"`
}

// ProtocolErrorData is the payload of EventProtocolError (a server-reported
// error document).
type ProtocolErrorData struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// ParseErrorData is the payload of EventParseError (a framing or decode
// failure on the local side).
type ParseErrorData struct {
	Message string `json:"message"`
}

// Event represents a state change notification.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// Bus provides pub/sub for state change events.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]EventHandler)
	}
	b.handlers[eventType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
