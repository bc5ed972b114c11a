package protoj

import (
	"log/slog"

	"drouter-control/internal/metric"
	"drouter-control/internal/state"
)

// sendFunc transmits one outbound command on the current connection.
type sendFunc func(verb string, args any) error

// dispatcher applies decoded messages to the store and emits change events.
// It runs on the session's read goroutine only.
type dispatcher struct {
	store  *state.Store
	bus    *state.Bus
	logger *slog.Logger
	send   sendFunc

	// routerFilter restricts which directory entries get registered and
	// bootstrapped. Empty means all.
	routerFilter map[int]struct{}

	// isActive gates routestat/gpistat/gpostat notifications: during the
	// bootstrap those documents are initial state, not changes.
	isActive func() bool

	// activated is called on every pong; the session uses the first one per
	// connection to flip to the active state.
	activated func()
}

func newDispatcher(store *state.Store, bus *state.Bus, logger *slog.Logger, send sendFunc, filter []int) *dispatcher {
	d := &dispatcher{
		store:  store,
		bus:    bus,
		logger: logger,
		send:   send,
	}
	if len(filter) > 0 {
		d.routerFilter = make(map[int]struct{}, len(filter))
		for _, n := range filter {
			d.routerFilter[n] = struct{}{}
		}
	}
	return d
}

func (d *dispatcher) routerAllowed(n int) bool {
	if d.routerFilter == nil {
		return true
	}
	_, ok := d.routerFilter[n]
	return ok
}

// dispatchDoc decodes one framed document and applies it. Decode failures
// are reported as parse-error events; they never tear down the connection.
func (d *dispatcher) dispatchDoc(doc []byte) {
	metric.FramesTotal.Inc()
	msg, err := DecodeMessage(doc)
	if err != nil {
		metric.DecodeErrors.Inc()
		d.logger.Warn("undecodable document", "err", err, "len", len(doc))
		d.bus.Emit(state.Event{Type: state.EventParseError, Data: state.ParseErrorData{Message: err.Error()}})
		return
	}

	switch m := msg.(type) {
	case *ErrorMessage:
		d.handleError(m)
	case *RouterNamesMessage:
		d.handleRouterNames(m)
	case *SourceNamesMessage:
		d.handleSourceNames(m)
	case *DestNamesMessage:
		d.handleDestNames(m)
	case *SnapshotsMessage:
		d.handleSnapshots(m)
	case *ActionListMessage:
		d.handleActionList(m)
	case *ActionDeleteMessage:
		d.handleActionDelete(m)
	case *ActionStatMessage:
		d.handleActionStat(m)
	case *GPIStatMessage:
		d.handleGPIStat(m)
	case *GPOStatMessage:
		d.handleGPOStat(m)
	case *RouteStatMessage:
		d.handleRouteStat(m)
	case *PongMessage:
		metric.MessagesTotal.WithLabelValues("pong").Inc()
		d.activated()
	case *UnknownMessage:
		d.logger.Debug("unhandled message", "verb", m.Verb)
	}
}

func (d *dispatcher) handleError(m *ErrorMessage) {
	metric.MessagesTotal.WithLabelValues("error").Inc()
	if m.Type == ErrCodeOK {
		return
	}
	d.logger.Warn("server error", "code", m.Type, "description", m.Description)
	d.bus.Emit(state.Event{Type: state.EventProtocolError, Data: state.ProtocolErrorData{
		Code:        m.Type,
		Description: m.Description,
	}})
}

// handleRouterNames registers the directory and runs the per-router bootstrap
// sequence, then issues the activation ping. Command order matters: the
// server answers in order, so the full state arrives before the pong flips
// the session to active.
func (d *dispatcher) handleRouterNames(m *RouterNamesMessage) {
	metric.MessagesTotal.WithLabelValues("routernames").Inc()
	for _, r := range m.Routers {
		if !d.routerAllowed(r.Number) {
			d.logger.Debug("router filtered out", "router", r.Number, "name", r.Name)
			continue
		}
		if !d.store.AddRouter(r.Number, r.Name, state.RouterType(r.Type)) {
			continue
		}
		d.bus.Emit(state.Event{Type: state.EventRouterAdded, Data: state.RouterData{
			Router: r.Number,
			Name:   r.Name,
			Type:   state.RouterType(r.Type),
		}})

		args := routerArgs{Router: r.Number}
		d.sendOrLog("sourcenames", args)
		d.sendOrLog("destnames", args)
		d.sendOrLog("snapshots", args)
		d.sendOrLog("actionlist", args)
		d.sendOrLog("routestat", args)
		d.sendOrLog("actionstat", actionStatArgs{Router: r.Number, SendUpdates: true})
	}
	d.sendOrLog("ping", emptyArgs{})
}

func (d *dispatcher) handleSourceNames(m *SourceNamesMessage) {
	metric.MessagesTotal.WithLabelValues("sourcenames").Inc()
	for _, e := range m.Sources {
		ep := endpointFromEntry(e)
		isNew, ok := d.store.UpsertInput(m.Router, ep)
		if !ok {
			d.logger.Debug("sourcenames for unknown router", "router", m.Router)
			return
		}
		if isNew {
			d.bus.Emit(state.Event{Type: state.EventInputAdded, Data: state.EndpointData{
				Router:   m.Router,
				Endpoint: ep,
			}})
		}
	}
}

func (d *dispatcher) handleDestNames(m *DestNamesMessage) {
	metric.MessagesTotal.WithLabelValues("destnames").Inc()
	for _, e := range m.Destinations {
		ep := endpointFromEntry(e)
		isNew, ok := d.store.UpsertOutput(m.Router, ep)
		if !ok {
			d.logger.Debug("destnames for unknown router", "router", m.Router)
			return
		}
		if isNew {
			d.bus.Emit(state.Event{Type: state.EventOutputAdded, Data: state.EndpointData{
				Router:   m.Router,
				Endpoint: ep,
			}})
		}
	}
}

func (d *dispatcher) handleSnapshots(m *SnapshotsMessage) {
	metric.MessagesTotal.WithLabelValues("snapshots").Inc()
	for _, name := range m.Names {
		if !d.store.AddSnapshot(m.Router, name) {
			d.logger.Debug("snapshots for unknown router", "router", m.Router)
			return
		}
		d.bus.Emit(state.Event{Type: state.EventSnapshotAdded, Data: state.SnapshotData{
			Router: m.Router,
			Name:   name,
		}})
	}
}

func (d *dispatcher) handleActionList(m *ActionListMessage) {
	metric.MessagesTotal.WithLabelValues("actionlist").Inc()
	for _, e := range m.Actions {
		a := actionFromEntry(m.Router, e)
		changed, ok := d.store.UpsertAction(a)
		if !ok {
			d.logger.Debug("actionlist for unknown router", "router", m.Router)
			return
		}
		// Re-announced duplicates keep the store idempotent and stay silent.
		if changed {
			d.bus.Emit(state.Event{Type: state.EventActionAdded, Data: state.ActionData{Action: a}})
		}
	}
}

func (d *dispatcher) handleActionDelete(m *ActionDeleteMessage) {
	metric.MessagesTotal.WithLabelValues("actiondelete").Inc()
	if _, ok := d.store.RemoveAction(m.ID); !ok {
		return
	}
	d.bus.Emit(state.Event{Type: state.EventActionRemoved, Data: state.ActionRemovedData{ID: m.ID}})
}

func (d *dispatcher) handleActionStat(m *ActionStatMessage) {
	metric.MessagesTotal.WithLabelValues("actionstat").Inc()
	changed, ok := d.store.SetNextActions(m.Router, m.NextIDs)
	if !ok {
		d.logger.Debug("actionstat for unknown router", "router", m.Router)
		return
	}
	for _, id := range changed {
		d.bus.Emit(state.Event{Type: state.EventActionNext, Data: state.ActionNextData{
			Router: m.Router,
			ID:     id,
			Next:   d.store.IsNextAction(m.Router, id),
		}})
	}
}

func (d *dispatcher) handleGPIStat(m *GPIStatMessage) {
	metric.MessagesTotal.WithLabelValues("gpistat").Inc()
	if !d.store.SetGPIState(m.Router, m.Line, m.Code) {
		d.logger.Debug("gpistat for unknown router", "router", m.Router)
		return
	}
	if !d.isActive() {
		return
	}
	d.bus.Emit(state.Event{Type: state.EventGPIState, Data: state.GPIOData{
		Router: m.Router,
		Line:   m.Line,
		Code:   m.Code,
	}})
}

func (d *dispatcher) handleGPOStat(m *GPOStatMessage) {
	metric.MessagesTotal.WithLabelValues("gpostat").Inc()
	if !d.store.SetGPOState(m.Router, m.Line, m.Code) {
		d.logger.Debug("gpostat for unknown router", "router", m.Router)
		return
	}
	if !d.isActive() {
		return
	}
	d.bus.Emit(state.Event{Type: state.EventGPOState, Data: state.GPIOData{
		Router: m.Router,
		Line:   m.Line,
		Code:   m.Code,
	}})
}

func (d *dispatcher) handleRouteStat(m *RouteStatMessage) {
	metric.MessagesTotal.WithLabelValues("routestat").Inc()
	if !d.store.SetCrosspoint(m.Router, m.Destination, m.Source) {
		d.logger.Debug("routestat for unknown router", "router", m.Router)
		return
	}
	if !d.isActive() {
		return
	}
	d.bus.Emit(state.Event{Type: state.EventCrosspoint, Data: state.CrosspointData{
		Router: m.Router,
		Output: m.Destination,
		Input:  m.Source,
	}})
}

func (d *dispatcher) sendOrLog(verb string, args any) {
	if err := d.send(verb, args); err != nil {
		d.logger.Warn("send command", "verb", verb, "err", err)
	}
}

func endpointFromEntry(e EndpointEntry) state.Endpoint {
	return state.Endpoint{
		Number:          e.Number,
		Name:            e.Name,
		HostDescription: e.HostDescription,
		HostAddress:     e.HostAddress,
		HostName:        e.HostName,
		Slot:            e.Slot,
		SourceNumber:    e.SourceNumber,
		StreamAddress:   e.StreamAddress,
		GPIOAddress:     e.GPIOAddress,
	}
}

func actionFromEntry(router int, e ActionEntry) state.Action {
	return state.Action{
		ID:        e.ID,
		Router:    router,
		IsActive:  e.IsActive,
		Time:      e.Time,
		Sunday:    e.Sunday,
		Monday:    e.Monday,
		Tuesday:   e.Tuesday,
		Wednesday: e.Wednesday,
		Thursday:  e.Thursday,
		Friday:    e.Friday,
		Saturday:  e.Saturday,

		Destination:            e.Destination,
		DestinationName:        e.DestinationName,
		DestinationHostAddress: e.DestinationHostAddress,
		DestinationHostName:    e.DestinationHostName,
		Source:                 e.Source,
		SourceName:             e.SourceName,
		SourceHostAddress:      e.SourceHostAddress,
		SourceHostName:         e.SourceHostName,
		Comment:                e.Comment,
	}
}
