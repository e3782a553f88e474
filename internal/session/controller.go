// Package session orchestrates capture, transport, and transcript
// reconciliation into one user-facing recording session.
//
// The controller is the single owner of mutable session state. Commands,
// connection state changes, and protocol events all serialize through one
// dispatch goroutine, so reconciliation sees a strictly ordered event stream
// and no state is ever mutated concurrently.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seeyonai/summit-transcribe/internal/events"
	"github.com/seeyonai/summit-transcribe/internal/models"
	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/observability/metrics"
	"github.com/seeyonai/summit-transcribe/internal/protocol"
	"github.com/seeyonai/summit-transcribe/internal/transcript"
	"github.com/seeyonai/summit-transcribe/internal/transport"
)

// Connection is the transport surface the controller drives.
// *transport.Conn implements it.
type Connection interface {
	Connect()
	Close()
	State() transport.State
	SendControl(msg protocol.ControlMessage) error
	SendAudioFrame(frame []byte)
	OnEvent(h transport.EventHandler)
	OnStateChange(h transport.StateHandler)
}

// Capture is the microphone surface the controller drives.
// *audio.Engine implements it.
type Capture interface {
	OnFrame(sink func(frame []byte))
	Start(ctx context.Context) error
	Stop()
}

// EventSink receives session state and transcript updates. Implementations
// are pure observers; they must not mutate session state.
type EventSink interface {
	StatusChanged(state transport.State, message string)
	PartialTranscript(seg transcript.Segment)
	SegmentCommitted(seg transcript.Segment)
	StatsChanged(stats transcript.Stats)
}

// Status is the observable session state.
type Status struct {
	State   transport.State  `json:"state"`
	Message string           `json:"message"`
	Stats   transcript.Stats `json:"stats"`
}

// Config holds controller settings.
type Config struct {
	Principal    string // identity used for published event keys
	Speaker      string // initial active speaker label
	SampleRateHz int    // advertised in every start control message
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSetSpeaker
	cmdReset
)

type dispatchEvent struct {
	// exactly one of these is set
	cmd     *command
	protoEv *protocol.Event
	conn    *connChange
}

type command struct {
	kind    commandKind
	speaker string
	reply   chan error
}

type connChange struct {
	state   transport.State
	message string
}

// Controller ties capture, transport, and reconciliation together.
type Controller struct {
	cfg       Config
	conn      Connection
	capture   Capture
	rec       *transcript.Reconciler
	publisher *events.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	queue chan dispatchEvent

	// mutated only inside the dispatch goroutine
	wantsListening bool
	speaker        string
	sessionID      string
	sessionStart   time.Time
	sessionLog     zerolog.Logger

	mu     sync.RWMutex
	status Status
	sinks  []EventSink
}

// NewController wires the capture sink into the connection and registers the
// controller as the connection's event consumer. Call Run before issuing
// commands.
func NewController(cfg Config, conn Connection, capture Capture, publisher *events.Publisher) *Controller {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 16000
	}
	c := &Controller{
		cfg:        cfg,
		conn:       conn,
		capture:    capture,
		rec:        transcript.New(),
		publisher:  publisher,
		metrics:    metrics.DefaultMetrics,
		log:        logging.WithComponent("session"),
		queue:      make(chan dispatchEvent, 256),
		speaker:    cfg.Speaker,
		sessionLog: logging.WithComponent("session"),
		status:     Status{State: transport.StateIdle, Message: "idle"},
	}

	capture.OnFrame(conn.SendAudioFrame)
	conn.OnEvent(func(ev protocol.Event) {
		c.queue <- dispatchEvent{protoEv: &ev}
	})
	conn.OnStateChange(func(state transport.State, message string) {
		c.queue <- dispatchEvent{conn: &connChange{state: state, message: message}}
	})
	return c
}

// Subscribe registers an observer for session updates.
func (c *Controller) Subscribe(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Status returns the current observable session state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Live returns a copy of the live segment, or nil.
func (c *Controller) Live() *transcript.Segment {
	return c.rec.Live()
}

// Committed returns the committed segments, most recent first.
func (c *Controller) Committed() []transcript.Segment {
	return c.rec.Committed()
}

// Run processes commands and events until ctx is cancelled. It must be
// running for any command to take effect.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.queue:
			switch {
			case ev.cmd != nil:
				ev.cmd.reply <- c.handleCommand(ctx, ev.cmd)
			case ev.protoEv != nil:
				c.handleProtocolEvent(*ev.protoEv)
			case ev.conn != nil:
				c.handleConnChange(*ev.conn)
			}
		}
	}
}

// StartListening begins a recognition session: it records the listening
// intent, connects if needed, sends the start control message once the
// connection is ready, and starts microphone capture. The returned error is
// the capture result; capture failures are not retried.
func (c *Controller) StartListening() error {
	return c.send(&command{kind: cmdStart, reply: make(chan error, 1)})
}

// StopListening ends the recognition session and stops capture. The
// connection stays open for a subsequent session.
func (c *Controller) StopListening() error {
	return c.send(&command{kind: cmdStop, reply: make(chan error, 1)})
}

// SetSpeaker changes the active speaker label. Takes effect for segments
// created after the change.
func (c *Controller) SetSpeaker(label string) error {
	return c.send(&command{kind: cmdSetSpeaker, speaker: label, reply: make(chan error, 1)})
}

// Reset discards the accumulated transcript for a new recording run. This is
// the only path that clears committed segments.
func (c *Controller) Reset() error {
	return c.send(&command{kind: cmdReset, reply: make(chan error, 1)})
}

// Shutdown stops capture and closes the connection.
func (c *Controller) Shutdown() {
	c.capture.Stop()
	c.conn.Close()
}

func (c *Controller) send(cmd *command) error {
	c.queue <- dispatchEvent{cmd: cmd}
	return <-cmd.reply
}

func (c *Controller) handleCommand(ctx context.Context, cmd *command) error {
	switch cmd.kind {
	case cmdStart:
		return c.startListening(ctx)
	case cmdStop:
		c.stopListening()
		return nil
	case cmdSetSpeaker:
		c.speaker = cmd.speaker
		if c.wantsListening {
			c.sessionLog = logging.WithSession(c.sessionID, c.speaker)
		}
		return nil
	case cmdReset:
		c.rec.Reset()
		c.notifyStats()
		return nil
	default:
		return fmt.Errorf("session: unknown command %d", cmd.kind)
	}
}

func (c *Controller) startListening(ctx context.Context) error {
	c.wantsListening = true
	c.sessionID = fmt.Sprintf("%s-%d", c.cfg.Principal, time.Now().UnixMilli())
	c.sessionStart = time.Now()
	c.sessionLog = logging.WithSession(c.sessionID, c.speaker)
	c.sessionLog.Info().Msg("recognition session requested")
	c.metrics.SessionsStarted.Inc()

	switch c.conn.State() {
	case transport.StateReady, transport.StateListening:
		c.sendStart()
	default:
		// The start control message is deferred to the ready transition.
		c.conn.Connect()
	}

	// Restart capture from a clean state; Stop is a no-op when idle.
	c.capture.Stop()
	if err := c.capture.Start(ctx); err != nil {
		c.log.Error().Err(err).Msg("microphone capture failed")
		c.setStatus(c.Status().State, "microphone unavailable, check permissions")
		return err
	}
	return nil
}

func (c *Controller) stopListening() {
	c.wantsListening = false
	c.capture.Stop()

	if !c.sessionStart.IsZero() {
		c.sessionLog.Info().
			Dur("duration", time.Since(c.sessionStart)).
			Msg("recognition session stopped")
		c.metrics.SessionDuration.Observe(time.Since(c.sessionStart).Seconds())
		c.sessionStart = time.Time{}
	}

	state := c.conn.State()
	if state == transport.StateReady || state == transport.StateListening {
		if err := c.conn.SendControl(protocol.StopMessage()); err != nil {
			c.log.Warn().Err(err).Msg("stop control message failed")
		}
		c.setStatus(transport.StateReady, "stopped")
		return
	}
	c.setStatus(state, "stopped")
}

// sendStart issues the start control message and optimistically transitions
// to listening; the service confirms with a "session started" info event.
func (c *Controller) sendStart() {
	if err := c.conn.SendControl(protocol.StartMessage(c.cfg.SampleRateHz)); err != nil {
		c.log.Warn().Err(err).Msg("start control message failed")
		return
	}
	c.setStatus(transport.StateListening, "listening")
}

func (c *Controller) handleConnChange(change connChange) {
	switch change.state {
	case transport.StateReady:
		if c.wantsListening {
			// The connection came (back) up mid-session: resume by
			// re-sending start without user action.
			c.sendStart()
			return
		}
		c.setStatus(transport.StateReady, change.message)
	case transport.StateListening:
		c.setStatus(transport.StateListening, change.message)
	default:
		c.setStatus(change.state, change.message)
	}
}

func (c *Controller) handleProtocolEvent(ev protocol.Event) {
	now := time.Now()

	switch ev.Type {
	case protocol.EventPartial:
		c.rec.OnPartial(ev.Text, c.speaker, now)
		c.metrics.RecordPartialTranscript()
		if live := c.rec.Live(); live != nil {
			c.publishPartial(*live, now)
			c.notifyPartial(*live)
		}
		c.notifyStats()

	case protocol.EventFinal:
		before := len(c.rec.Committed())
		c.rec.OnFinal(ev.Text, c.speaker, now)
		committed := c.rec.Committed()
		if len(committed) > before {
			seg := committed[0]
			c.metrics.RecordFinalTranscript(true)
			c.publishFinal(seg, now)
			c.notifyCommitted(seg)
		} else {
			c.metrics.RecordFinalTranscript(false)
		}
		c.notifyStats()

	case protocol.EventInfo:
		c.log.Info().Str("message", ev.Message).Msg("service info")
		if ev.Message == protocol.InfoReady {
			// Connection-level readiness; the state itself is driven by the
			// transport. Surface the message.
			c.setStatus(c.Status().State, ev.Message)
		}

	case protocol.EventError:
		// Non-fatal: surfaced as status, connection and transcript are kept.
		c.log.Warn().Str("message", ev.Message).Msg("service error")
		c.setStatus(c.Status().State, "service error: "+ev.Message)
	}
}

func (c *Controller) publishPartial(seg transcript.Segment, now time.Time) {
	if c.publisher == nil {
		return
	}
	ev := models.CaptionPartial{
		SessionID: c.sessionID,
		Speaker:   seg.Speaker,
		Text:      seg.Text,
		Timestamp: now.UnixMilli(),
	}
	if err := c.publisher.PublishPartial(context.Background(), c.sessionID, ev); err != nil {
		c.sessionLog.Warn().Err(err).Msg("failed to publish partial caption")
	}
}

func (c *Controller) publishFinal(seg transcript.Segment, now time.Time) {
	if c.publisher == nil {
		return
	}
	ev := models.CaptionFinal{
		SessionID:   c.sessionID,
		Speaker:     seg.Speaker,
		Text:        seg.Text,
		StartedAt:   seg.StartTime.UnixMilli(),
		FinalizedAt: seg.EndTime.UnixMilli(),
		Timestamp:   now.UnixMilli(),
	}
	if err := c.publisher.PublishFinal(context.Background(), c.sessionID, ev); err != nil {
		c.sessionLog.Warn().Err(err).Msg("failed to publish final caption")
	}
}

func (c *Controller) setStatus(state transport.State, message string) {
	c.mu.Lock()
	if c.status.State == state && c.status.Message == message {
		c.mu.Unlock()
		return
	}
	c.status.State = state
	c.status.Message = message
	c.status.Stats = c.rec.Stats()
	status := c.status
	sinks := c.sinks
	c.mu.Unlock()

	c.log.Info().Str("state", state.String()).Str("message", message).Msg("status changed")
	for _, s := range sinks {
		s.StatusChanged(status.State, status.Message)
	}
}

func (c *Controller) notifyPartial(seg transcript.Segment) {
	c.mu.RLock()
	sinks := c.sinks
	c.mu.RUnlock()
	for _, s := range sinks {
		s.PartialTranscript(seg)
	}
}

func (c *Controller) notifyCommitted(seg transcript.Segment) {
	c.mu.RLock()
	sinks := c.sinks
	c.mu.RUnlock()
	for _, s := range sinks {
		s.SegmentCommitted(seg)
	}
}

func (c *Controller) notifyStats() {
	stats := c.rec.Stats()
	c.mu.Lock()
	c.status.Stats = stats
	sinks := c.sinks
	c.mu.Unlock()
	for _, s := range sinks {
		s.StatsChanged(stats)
	}
}
