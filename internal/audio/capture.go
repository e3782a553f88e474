// Package audio acquires the microphone and turns it into a stream of
// fixed-format binary frames: PCM16LE, 16 kHz, mono.
//
// Capture runs through an external recorder process (ffmpeg by default)
// emitting raw PCM on stdout. The engine reads fixed-duration frames,
// downmixes and resamples them to the target format, and pushes each encoded
// frame synchronously to the single registered sink. The microphone stream
// and the recorder process are owned exclusively by the engine.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/observability/metrics"
)

// TargetSampleRate is the output sample rate all frames are encoded at.
const TargetSampleRate = 16000

// ErrAlreadyStarted is returned by Start when capture is already running.
var ErrAlreadyStarted = errors.New("audio: capture already started")

// DefaultFilters is the recorder filter chain applied when none is
// configured: spectral noise suppression plus adaptive gain normalization.
const DefaultFilters = "afftdn,dynaudnorm"

// Config describes the capture pipeline.
type Config struct {
	Command      string // recorder binary; ffmpeg gets well-known arguments
	Device       string // input device passed to the recorder
	Filters      string // recorder audio filter chain; "off" disables it
	SourceRateHz int    // native rate the recorder emits
	Channels     int    // native channel count the recorder emits (1 or 2)
	FrameMs      int    // duration of each frame pushed to the sink
}

// Engine captures microphone audio and emits encoded frames to one sink.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	sink    func(frame []byte)
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// New creates an Engine. Defaults are filled for zero config values.
func New(cfg Config) *Engine {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	if cfg.Filters == "" {
		cfg.Filters = DefaultFilters
	}
	if cfg.SourceRateHz <= 0 {
		cfg.SourceRateHz = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 100
	}
	return &Engine{
		cfg: cfg,
		log: logging.WithComponent("audio"),
	}
}

// OnFrame registers the single frame sink. Must be called before Start.
func (e *Engine) OnFrame(sink func(frame []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Start acquires the microphone by launching the recorder process. On any
// failure all acquired resources are released and an error is returned;
// capture failures are never retried automatically.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, e.cfg.Command, recorderArgs(e.cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("audio: recorder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		metrics.DefaultMetrics.CaptureFailures.Inc()
		return fmt.Errorf("audio: start recorder %q (check microphone permissions): %w", e.cfg.Command, err)
	}

	e.cancel = cancel
	e.running = true
	e.done = make(chan struct{})
	sink := e.sink

	e.log.Info().
		Str("command", e.cfg.Command).
		Str("device", e.cfg.Device).
		Int("sourceRate", e.cfg.SourceRateHz).
		Int("channels", e.cfg.Channels).
		Msg("capture started")

	go func(done chan struct{}) {
		defer close(done)
		e.pump(stdout, sink)
		cmd.Wait()
	}(e.done)

	return nil
}

// pump reads fixed-duration source frames, encodes them to 16 kHz mono
// PCM16LE, and forwards each to the sink with no additional buffering.
func (e *Engine) pump(r io.Reader, sink func([]byte)) {
	frameBytes := e.cfg.SourceRateHz * e.cfg.Channels * 2 * e.cfg.FrameMs / 1000
	buf := make([]byte, frameBytes)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := e.encode(buf[:n])
			if sink != nil && len(frame) > 0 {
				sink(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				e.log.Warn().Err(err).Msg("capture stream ended")
			}
			return
		}
	}
}

// encode converts one source frame to the target format.
func (e *Engine) encode(frame []byte) []byte {
	if e.cfg.Channels == 2 {
		frame = StereoToMono(frame)
	}
	return ResampleMono16(frame, e.cfg.SourceRateHz, TargetSampleRate)
}

// Stop disconnects the pipeline, stops the recorder process, and releases
// the microphone. Idempotent; calling it when not started is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	cancel()
	<-done
	e.log.Info().Msg("capture stopped")
}

// recorderArgs builds the argument list for the recorder command. ffmpeg is
// given a pulse input with noise suppression and auto-gain requested through
// the filter chain, emitting raw s16le on stdout; any other command is
// expected to do that on its own. Echo cancellation comes from PulseAudio's
// echo-cancel module, which registers itself as the default source when
// loaded.
func recorderArgs(cfg Config) []string {
	if filepath.Base(cfg.Command) != "ffmpeg" {
		return nil
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", cfg.Device,
	}
	if cfg.Filters != "" && cfg.Filters != "off" {
		args = append(args, "-af", cfg.Filters)
	}
	return append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SourceRateHz),
		"-f", "s16le",
		"-",
	)
}
