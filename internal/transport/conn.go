// Package transport maintains the single duplex WebSocket connection to the
// recognition service.
//
// The connection owns its socket exclusively. Binary frames carry raw audio
// out; text frames carry JSON control messages out and protocol events in.
// Every unexpected close schedules exactly one reconnect after a fixed delay;
// attempts are unbounded in count but never run in parallel.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/observability/metrics"
	"github.com/seeyonai/summit-transcribe/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	// StateIdle - no connection and none wanted; the resting state.
	StateIdle State = iota
	// StateConnecting - a dial is in flight.
	StateConnecting
	// StateReady - connected, no recognition session active.
	StateReady
	// StateListening - connected and a recognition session is active.
	StateListening
	// StateError - the connection dropped; a reconnect is pending.
	StateError
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name, so JSON surfaces show "listening"
// rather than an internal ordinal.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateIdle; candidate <= StateError; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("transport: unknown state %q", text)
}

// ErrNotConnected is returned by SendControl when no socket is open.
var ErrNotConnected = errors.New("transport: not connected")

// EventHandler receives inbound protocol events in arrival order.
type EventHandler func(ev protocol.Event)

// StateHandler receives connection state transitions with a human-readable
// status message.
type StateHandler func(state State, message string)

// Config holds connection settings.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// Conn is the streaming connection. All methods are safe for concurrent use.
type Conn struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu             sync.Mutex
	ws             *websocket.Conn
	state          State
	closed         bool
	dialing        bool
	reconnectTimer *time.Timer
	onEvent        EventHandler
	onState        StateHandler
}

// New creates a Conn. It does not dial until Connect is called.
func New(cfg Config) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Conn{
		cfg:     cfg,
		log:     logging.WithComponent("transport"),
		metrics: metrics.DefaultMetrics,
		state:   StateIdle,
	}
}

// OnEvent registers the single consumer of inbound protocol events.
func (c *Conn) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = h
}

// OnStateChange registers the single consumer of state transitions.
func (c *Conn) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens a new connection if none is open and no dial is in flight.
// The dial happens in the background; completion is reported through the
// state handler.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.dialing || c.ws != nil {
		c.mu.Unlock()
		return
	}
	// A manual connect supersedes any pending reconnect.
	c.clearReconnectLocked()
	c.dialing = true
	notify := c.transitionLocked(StateConnecting, "connecting to recognition service")
	c.mu.Unlock()
	notify()

	go c.dial()
}

func (c *Conn) dial() {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.Dial(c.cfg.URL, nil)
	c.metrics.RecordConnect(err)

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		notify := c.transitionLocked(StateError, "connection failed: "+err.Error())
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		notify()
		return
	}

	c.ws = ws
	notify := c.transitionLocked(StateReady, "connected")
	c.mu.Unlock()
	notify()

	c.log.Info().Str("url", c.cfg.URL).Msg("connected")
	go c.readLoop(ws)
}

// SendAudioFrame forwards binary audio over the open connection. Frames are
// silently dropped while not connected; stale audio is worthless in a live
// stream, so nothing is queued or retried.
func (c *Conn) SendAudioFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil || (c.state != StateReady && c.state != StateListening) {
		c.metrics.RecordAudioDropped()
		return
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		// The read loop notices the broken socket and handles recovery.
		c.log.Debug().Err(err).Msg("audio frame write failed")
		return
	}
	c.metrics.RecordAudioSent(len(frame))
}

// SendControl sends a JSON control message over the open connection.
func (c *Conn) SendControl(msg protocol.ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal control: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return ErrNotConnected
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: send control: %w", err)
	}
	c.log.Debug().Str("type", msg.Type).Msg("control message sent")
	return nil
}

// Close terminates the connection without scheduling a reconnect. Used only
// on intentional teardown.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.clearReconnectLocked()
	ws := c.ws
	c.ws = nil
	notify := c.transitionLocked(StateIdle, "closed")
	c.mu.Unlock()

	if ws != nil {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}
	notify()
}

// readLoop receives messages from the service until the socket breaks, then
// hands off to disconnect handling. Events are dispatched strictly in arrival
// order from this single goroutine.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			// One bad frame must not interrupt a live session.
			c.metrics.ProtocolDropped.Inc()
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}

		c.dispatch(ws, ev)
	}
}

// dispatch applies protocol-derived state transitions and forwards the event
// to the registered handler.
func (c *Conn) dispatch(ws *websocket.Conn, ev protocol.Event) {
	c.mu.Lock()
	if c.closed || c.ws != ws {
		c.mu.Unlock()
		return
	}

	notify := func() {}
	if ev.Type == protocol.EventInfo {
		switch ev.Message {
		case protocol.InfoSessionStarted:
			notify = c.transitionLocked(StateListening, "session started")
		case protocol.InfoSessionFinished:
			notify = c.transitionLocked(StateReady, "session finished")
		}
	}
	if ev.Type == protocol.EventError {
		c.metrics.ServiceErrors.Inc()
	}
	handler := c.onEvent
	c.mu.Unlock()

	notify()
	if handler != nil {
		handler(ev)
	}
}

// handleDisconnect reacts to an unexpected close by scheduling exactly one
// reconnect attempt after the fixed delay.
func (c *Conn) handleDisconnect(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.ws != ws {
		// Intentional close, or a stale loop from a superseded socket.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	notify := c.transitionLocked(StateError, "connection lost, reconnecting")
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	ws.Close()
	c.log.Warn().Dur("delay", c.cfg.ReconnectDelay).Msg("connection lost, reconnect scheduled")
	notify()
}

// scheduleReconnectLocked arms the reconnect timer. Any pending timer is
// cleared first so attempts never stack. Caller must hold mu.
func (c *Conn) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	c.clearReconnectLocked()
	c.metrics.RecordReconnectScheduled()
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.Connect()
	})
}

func (c *Conn) clearReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// transitionLocked updates the state and returns a function that notifies the
// state handler. Caller must hold mu and invoke the returned function after
// releasing it.
func (c *Conn) transitionLocked(s State, message string) func() {
	if c.state == s {
		return func() {}
	}
	c.state = s
	c.metrics.RecordConnectionState(int(s))
	handler := c.onState
	if handler == nil {
		return func() {}
	}
	return func() { handler(s, message) }
}
