package protoj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"drouter-control/internal/metric"
	"drouter-control/internal/state"
)

// Timer intervals of the session state machine. The holdoff is fixed: the
// session retries forever at the same pace, without backoff.
const (
	DefaultHoldoff  = 5 * time.Second
	DefaultStartup  = 1 * time.Second
	defaultDialWait = 10 * time.Second
)

var (
	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotConnected is returned when a command is issued with no live
	// connection.
	ErrNotConnected = errors.New("not connected")
)

// SessionState is the lifecycle phase of a session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAwaitingDirectory
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingDirectory:
		return "awaiting directory"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the session parameters.
type Config struct {
	Address  string // host:port of the drouterd protocol socket
	Username string
	Password string

	// RouterFilter restricts which matrices are mirrored. Empty = all.
	RouterFilter []int

	// Holdoff is the fixed delay between a connection loss and the next
	// attempt. Zero means DefaultHoldoff.
	Holdoff time.Duration

	// StartupInterval is the re-ping cadence while waiting for the first
	// pong. Zero means DefaultStartup.
	StartupInterval time.Duration

	// Dial overrides the transport, used by tests. Nil means TCP.
	Dial func(ctx context.Context, address string) (net.Conn, error)
}

// Session owns one logical connection to a drouterd instance. It connects,
// walks the bootstrap handshake, keeps the derived store current, and
// reconnects after a fixed holdoff whenever the transport fails. All exported
// methods are safe for concurrent use.
type Session struct {
	cfg    Config
	store  *state.Store
	bus    *state.Bus
	logger *slog.Logger
	disp   *dispatcher

	mu           sync.Mutex
	st           SessionState
	conn         net.Conn
	gen          uint64 // connection generation; stale read loops bail out
	closed       bool
	holdoffTimer *time.Timer
	startupTimer *time.Timer
	dialCancel   context.CancelFunc // cancels a holdoff dial in flight

	wg sync.WaitGroup
}

// NewSession creates a session bound to a store and event bus. Connect starts
// it.
func NewSession(cfg Config, store *state.Store, bus *state.Bus, logger *slog.Logger) *Session {
	if cfg.Holdoff <= 0 {
		cfg.Holdoff = DefaultHoldoff
	}
	if cfg.StartupInterval <= 0 {
		cfg.StartupInterval = DefaultStartup
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		}
	}
	s := &Session{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		st:     StateDisconnected,
	}
	s.disp = newDispatcher(store, bus, logger, s.sendCommand, cfg.RouterFilter)
	s.disp.isActive = func() bool { return s.State() == StateActive }
	s.disp.activated = s.markActive
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Connect dials the server and starts the handshake. On a dial failure the
// error is returned and the holdoff reconnect loop takes over, so a daemon
// can treat the first failure as non-fatal.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.st = StateConnecting
	s.mu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	conn, err := s.cfg.Dial(ctx, s.cfg.Address)
	if err != nil {
		s.mu.Lock()
		if s.closed {
			// Torn down while the dial was in flight: no notification, no
			// retry.
			s.mu.Unlock()
			return ErrSessionClosed
		}
		s.st = StateDisconnected
		s.mu.Unlock()
		s.logger.Warn("connect failed", "address", s.cfg.Address, "err", err)
		s.bus.Emit(state.Event{Type: state.EventConnection, Data: state.ConnectionData{
			Connected: false,
			Code:      state.ConnectionWatchdogActive,
			Reason:    err.Error(),
		}})
		s.scheduleReconnect()
		return fmt.Errorf("connect %s: %w", s.cfg.Address, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	s.st = StateAwaitingDirectory
	s.mu.Unlock()

	s.logger.Info("connected", "address", s.cfg.Address)

	// The directory request opens the handshake; everything else is driven
	// by the replies.
	if err := s.sendCommand("routernames", emptyArgs{}); err != nil {
		s.logger.Warn("send routernames", "err", err)
	}
	s.armStartup()

	s.wg.Add(1)
	go s.readLoop(conn, gen)
	return nil
}

// readLoop frames the inbound stream and feeds the dispatcher until the
// transport fails or the session is torn down.
func (s *Session) readLoop(conn net.Conn, gen uint64) {
	defer s.wg.Done()
	var asm Assembler
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, seg := range asm.Feed(buf[:n]) {
				if !s.isCurrent(gen) {
					return
				}
				if seg.Err != nil {
					metric.FramingErrors.Inc()
					s.logger.Warn("framing error", "err", seg.Err)
					s.bus.Emit(state.Event{Type: state.EventParseError, Data: state.ParseErrorData{
						Message: seg.Err.Error(),
					}})
					continue
				}
				s.disp.dispatchDoc(seg.Doc)
			}
		}
		if err != nil {
			s.connectionLost(gen, err)
			return
		}
	}
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// connectionLost handles a transport failure: drop the derived state, notify
// once, arm the holdoff timer.
func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.st = StateDisconnected
	s.stopStartupLocked()
	s.mu.Unlock()

	s.logger.Warn("connection lost", "address", s.cfg.Address, "err", err)
	metric.Connected.Set(0)
	s.store.Clear()
	s.bus.Emit(state.Event{Type: state.EventConnection, Data: state.ConnectionData{
		Connected: false,
		Code:      state.ConnectionWatchdogActive,
		Reason:    err.Error(),
	}})
	s.scheduleReconnect()
}

// scheduleReconnect arms the holdoff timer. The attempt joins the session
// WaitGroup so Close can drain a retry that is already running.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopHoldoffLocked()
	s.wg.Add(1)
	s.holdoffTimer = time.AfterFunc(s.cfg.Holdoff, func() {
		defer s.wg.Done()
		s.reconnect()
	})
}

// stopHoldoffLocked cancels a pending holdoff attempt, releasing its
// WaitGroup slot when the timer had not fired yet.
func (s *Session) stopHoldoffLocked() {
	if s.holdoffTimer == nil {
		return
	}
	if s.holdoffTimer.Stop() {
		s.wg.Done()
	}
	s.holdoffTimer = nil
}

func (s *Session) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialWait)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.st = StateConnecting
	s.dialCancel = cancel
	s.mu.Unlock()

	metric.Reconnects.Inc()
	s.logger.Info("reconnecting", "address", s.cfg.Address)
	// On failure connect has already armed the next holdoff.
	_ = s.connect(ctx)
}

// armStartup starts the confirmation timer. While the first pong is pending
// the session re-issues ping at the startup cadence in case the activation
// request was lost in the bootstrap flood.
func (s *Session) armStartup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	s.startupTimer = time.AfterFunc(s.cfg.StartupInterval, s.startupExpired)
}

func (s *Session) startupExpired() {
	if s.State() != StateAwaitingDirectory {
		return
	}
	s.logger.Debug("activation pending, re-pinging")
	if err := s.sendCommand("ping", emptyArgs{}); err != nil {
		s.logger.Debug("startup ping", "err", err)
	}
	s.armStartup()
}

func (s *Session) stopStartupLocked() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
		s.startupTimer = nil
	}
}

// markActive flips the session to active on the first pong of a connection.
// Later pongs are keepalive noise and change nothing.
func (s *Session) markActive() {
	s.mu.Lock()
	if s.st != StateAwaitingDirectory {
		s.mu.Unlock()
		return
	}
	s.st = StateActive
	s.stopStartupLocked()
	s.mu.Unlock()

	s.logger.Info("session active", "address", s.cfg.Address, "routers", len(s.store.Routers()))
	metric.Connected.Set(1)
	s.bus.Emit(state.Event{Type: state.EventConnection, Data: state.ConnectionData{
		Connected: true,
		Code:      state.ConnectionOK,
	}})
}

// Close tears the session down: timers stopped, socket closed, read loop
// drained. No events are delivered after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.st = StateClosed
	s.stopHoldoffLocked()
	s.stopStartupLocked()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	metric.Connected.Set(0)
	return nil
}

func (s *Session) sendCommand(verb string, args any) error {
	data, err := EncodeCommand(verb, args)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", verb, err)
	}
	metric.CommandsTotal.WithLabelValues(verb).Inc()
	return nil
}

// SetOutputCrosspoint routes an input to an output. Input -1 silences the
// output. Confirmation arrives as a routestat push.
func (s *Session) SetOutputCrosspoint(router, output, input int) error {
	return s.sendCommand("activateroute", routeArgs{
		Router:      router,
		Destination: output,
		Source:      input,
	})
}

// SetGPIState drives a GPI line bundle with a level code such as "hlhhl".
// A non-zero duration (milliseconds) makes the server revert the lines after
// the interval; zero latches.
func (s *Session) SetGPIState(router, line int, code string, duration int) error {
	return s.sendCommand("triggergpi", gpiArgs{
		Router:   router,
		Source:   line,
		Code:     code,
		Duration: duration,
	})
}

// SetGPOState drives a GPO line bundle, same semantics as SetGPIState.
func (s *Session) SetGPOState(router, line int, code string, duration int) error {
	return s.sendCommand("triggergpo", gpoArgs{
		Router:      router,
		Destination: line,
		Code:        code,
		Duration:    duration,
	})
}

// ActivateSnapshot applies a named server-side preset.
func (s *Session) ActivateSnapshot(router int, snapshot string) error {
	return s.sendCommand("activatesnap", snapshotArgs{
		Router:   router,
		Snapshot: snapshot,
	})
}

// SaveAction creates (negative id) or replaces a scheduled action. The time
// is daemon-local "hh:mm:ss"; the wire wants a trailing "Z", added here.
func (s *Session) SaveAction(edit ActionEdit) error {
	edit.Time = edit.Time + "Z"
	return s.sendCommand("actionedit", edit)
}

// RemoveAction deletes a scheduled action globally by id.
func (s *Session) RemoveAction(id int) error {
	return s.sendCommand("actiondelete", actionDeleteArgs{ID: id})
}
