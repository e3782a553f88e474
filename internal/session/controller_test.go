package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seeyonai/summit-transcribe/internal/events"
	"github.com/seeyonai/summit-transcribe/internal/protocol"
	"github.com/seeyonai/summit-transcribe/internal/transcript"
	"github.com/seeyonai/summit-transcribe/internal/transport"
)

type fakeConn struct {
	mu       sync.Mutex
	state    transport.State
	controls []protocol.ControlMessage
	frames   [][]byte
	closed   bool

	onEvent transport.EventHandler
	onState transport.StateHandler

	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{state: transport.StateIdle}
}

func (f *fakeConn) Connect() {
	f.setState(transport.StateConnecting, "connecting")
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) SendControl(msg protocol.ControlMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.controls = append(f.controls, msg)
	return nil
}

func (f *fakeConn) SendAudioFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeConn) OnEvent(h transport.EventHandler)       { f.onEvent = h }
func (f *fakeConn) OnStateChange(h transport.StateHandler) { f.onState = h }

// setState simulates a transport state transition.
func (f *fakeConn) setState(state transport.State, message string) {
	f.mu.Lock()
	f.state = state
	h := f.onState
	f.mu.Unlock()
	if h != nil {
		h(state, message)
	}
}

func (f *fakeConn) deliver(ev protocol.Event) {
	f.onEvent(ev)
}

func (f *fakeConn) sentControls() []protocol.ControlMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ControlMessage, len(f.controls))
	copy(out, f.controls)
	return out
}

type fakeCapture struct {
	mu       sync.Mutex
	sink     func([]byte)
	started  int
	stopped  int
	startErr error
}

func (f *fakeCapture) OnFrame(sink func(frame []byte)) { f.sink = sink }

func (f *fakeCapture) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

type recordingSink struct {
	mu        sync.Mutex
	statuses  []Status
	partials  []transcript.Segment
	committed []transcript.Segment
	stats     []transcript.Stats
}

func (s *recordingSink) StatusChanged(state transport.State, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, Status{State: state, Message: message})
}

func (s *recordingSink) PartialTranscript(seg transcript.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, seg)
}

func (s *recordingSink) SegmentCommitted(seg transcript.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, seg)
}

func (s *recordingSink) StatsChanged(stats transcript.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stats)
}

func newTestController(t *testing.T) (*Controller, *fakeConn, *fakeCapture, *recordingSink, context.CancelFunc) {
	t.Helper()
	conn := newFakeConn()
	capture := &fakeCapture{}
	pub := events.New(&events.Config{Enabled: false})
	c := NewController(Config{Principal: "summit", Speaker: "S1", SampleRateHz: 16000}, conn, capture, pub)
	sink := &recordingSink{}
	c.Subscribe(sink)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return c, conn, capture, sink, cancel
}

func waitForStatus(t *testing.T, c *Controller, state transport.State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Status()
		if st.State == state {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, current %s", state, c.Status().State)
	return Status{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestStartListening_ConnectsThenSendsStartOnReady(t *testing.T) {
	c, conn, capture, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if capture.started != 1 {
		t.Fatalf("capture started %d times, want 1", capture.started)
	}
	if got := len(conn.sentControls()); got != 0 {
		t.Fatalf("sent %d control messages before ready, want 0", got)
	}

	conn.setState(transport.StateReady, "ready")

	waitFor(t, func() bool { return len(conn.sentControls()) == 1 })
	msg := conn.sentControls()[0]
	if msg.Type != protocol.ControlStart || msg.SampleRate != 16000 {
		t.Fatalf("unexpected start message %+v", msg)
	}
	waitForStatus(t, c, transport.StateListening)
}

func TestStartListening_ImmediateWhenAlreadyReady(t *testing.T) {
	c, conn, _, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	waitForStatus(t, c, transport.StateReady)

	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if got := len(conn.sentControls()); got != 1 {
		t.Fatalf("sent %d control messages, want 1", got)
	}
	waitForStatus(t, c, transport.StateListening)
}

func TestStartListening_CaptureFailureSurfaced(t *testing.T) {
	conn := newFakeConn()
	capture := &fakeCapture{startErr: errors.New("pulse: no such device")}
	c := NewController(Config{Principal: "summit"}, conn, capture, events.New(nil))
	sink := &recordingSink{}
	c.Subscribe(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.StartListening(); err == nil {
		t.Fatal("expected capture error")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, st := range sink.statuses {
		if st.Message == "microphone unavailable, check permissions" {
			return
		}
	}
	t.Fatalf("capture failure not surfaced, statuses %+v", sink.statuses)
}

func TestResumeAfterReconnect(t *testing.T) {
	c, conn, _, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	waitForStatus(t, c, transport.StateReady)
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	waitForStatus(t, c, transport.StateListening)

	// Drop and recover. The listening intent survives the outage, so the
	// controller re-sends start without user action.
	conn.setState(transport.StateError, "connection lost")
	waitForStatus(t, c, transport.StateError)
	conn.setState(transport.StateConnecting, "reconnecting")
	conn.setState(transport.StateReady, "ready")

	waitFor(t, func() bool { return len(conn.sentControls()) == 2 })
	waitForStatus(t, c, transport.StateListening)
}

func TestStopListening_KeepsConnectionOpen(t *testing.T) {
	c, conn, capture, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	waitForStatus(t, c, transport.StateListening)

	if err := c.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	controls := conn.sentControls()
	if len(controls) != 2 || controls[1].Type != protocol.ControlStop {
		t.Fatalf("unexpected control messages %+v", controls)
	}
	if capture.stopped == 0 {
		t.Fatal("capture was not stopped")
	}
	if conn.closed {
		t.Fatal("connection must stay open after stop")
	}

	// A later reconnect must not resume listening.
	conn.setState(transport.StateError, "connection lost")
	conn.setState(transport.StateReady, "ready")
	waitForStatus(t, c, transport.StateReady)
	if got := len(conn.sentControls()); got != 2 {
		t.Fatalf("sent %d control messages after stop, want 2", got)
	}
}

func TestProtocolEvents_DriveReconciliation(t *testing.T) {
	c, conn, _, sink, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	conn.deliver(protocol.Event{Type: protocol.EventPartial, Text: "hello"})
	conn.deliver(protocol.Event{Type: protocol.EventPartial, Text: "hello world"})
	conn.deliver(protocol.Event{Type: protocol.EventFinal, Text: "hello world.", IsFinal: true})

	waitFor(t, func() bool { return len(c.Committed()) == 1 })

	committed := c.Committed()
	if committed[0].Text != "hello world." {
		t.Fatalf("committed text = %q", committed[0].Text)
	}
	if committed[0].Speaker != "S1" {
		t.Fatalf("committed speaker = %q", committed[0].Speaker)
	}
	if c.Live() != nil {
		t.Fatal("live segment must be cleared after final")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.partials) != 2 {
		t.Fatalf("observed %d partials, want 2", len(sink.partials))
	}
	if len(sink.committed) != 1 || sink.committed[0].Text != "hello world." {
		t.Fatalf("observed committed %+v", sink.committed)
	}
	last := sink.stats[len(sink.stats)-1]
	if last.SegmentCount != 1 || last.WordCount != 2 {
		t.Fatalf("stats = %+v", last)
	}
}

func TestSetSpeaker_AppliesToNewSegments(t *testing.T) {
	c, conn, _, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	conn.deliver(protocol.Event{Type: protocol.EventPartial, Text: "first"})
	conn.deliver(protocol.Event{Type: protocol.EventFinal, Text: "first", IsFinal: true})
	waitFor(t, func() bool { return len(c.Committed()) == 1 })

	if err := c.SetSpeaker("S2"); err != nil {
		t.Fatalf("SetSpeaker: %v", err)
	}
	conn.deliver(protocol.Event{Type: protocol.EventPartial, Text: "second"})
	conn.deliver(protocol.Event{Type: protocol.EventFinal, Text: "second", IsFinal: true})
	waitFor(t, func() bool { return len(c.Committed()) == 2 })

	committed := c.Committed()
	if committed[0].Speaker != "S2" || committed[1].Speaker != "S1" {
		t.Fatalf("speakers = %q, %q", committed[0].Speaker, committed[1].Speaker)
	}
}

func TestServiceError_DoesNotDropTranscript(t *testing.T) {
	c, conn, _, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	conn.deliver(protocol.Event{Type: protocol.EventPartial, Text: "kept"})
	conn.deliver(protocol.Event{Type: protocol.EventError, Message: "recognizer overloaded"})

	waitFor(t, func() bool {
		st := c.Status()
		return st.Message == "service error: recognizer overloaded"
	})
	if live := c.Live(); live == nil || live.Text != "kept" {
		t.Fatalf("live segment lost after service error: %+v", live)
	}
}

func TestReset_ClearsTranscript(t *testing.T) {
	c, conn, _, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	conn.setState(transport.StateReady, "ready")
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	conn.deliver(protocol.Event{Type: protocol.EventFinal, Text: "done", IsFinal: true})
	waitFor(t, func() bool { return len(c.Committed()) == 1 })

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(c.Committed()) != 0 || c.Live() != nil {
		t.Fatal("reset did not clear transcript")
	}
	if st := c.Status(); st.Stats.SegmentCount != 0 {
		t.Fatalf("stats not reset: %+v", st.Stats)
	}
}

func TestCaptureFramesFlowToConnection(t *testing.T) {
	c, conn, capture, _, cancel := newTestController(t)
	defer cancel()
	defer c.Shutdown()

	if capture.sink == nil {
		t.Fatal("capture sink not wired")
	}
	capture.sink([]byte{1, 2, 3, 4})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.frames) != 1 || len(conn.frames[0]) != 4 {
		t.Fatalf("frames = %+v", conn.frames)
	}
}
