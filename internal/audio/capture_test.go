package audio

import (
	"bytes"
	"context"
	"slices"
	"testing"
)

func TestRecorderArgs_RequestsProcessingFilters(t *testing.T) {
	e := New(Config{})
	args := recorderArgs(e.cfg)

	// Noise suppression and auto gain ride the default filter chain.
	i := slices.Index(args, "-af")
	if i < 0 || i+1 >= len(args) {
		t.Fatalf("no filter chain in args %v", args)
	}
	if args[i+1] != "afftdn,dynaudnorm" {
		t.Errorf("filter chain = %q, want afftdn,dynaudnorm", args[i+1])
	}
	if j := slices.Index(args, "-i"); j < 0 || args[j+1] != "default" {
		t.Errorf("pulse input device missing from args %v", args)
	}
}

func TestRecorderArgs_FiltersOff(t *testing.T) {
	e := New(Config{Filters: "off"})
	if args := recorderArgs(e.cfg); slices.Contains(args, "-af") {
		t.Errorf("filter chain present with filters off: %v", args)
	}
}

func TestRecorderArgs_NonFFmpegUntouched(t *testing.T) {
	e := New(Config{Command: "parec"})
	if args := recorderArgs(e.cfg); args != nil {
		t.Errorf("expected no generated args for a custom recorder, got %v", args)
	}
}

func TestStop_WithoutStartIsNoOp(t *testing.T) {
	e := New(Config{})

	e.Stop()
	e.Stop()
}

func TestStart_MissingRecorderReturnsError(t *testing.T) {
	e := New(Config{Command: "definitely-not-a-recorder-binary"})
	e.OnFrame(func([]byte) {})

	err := e.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing recorder binary")
	}

	// Failed start must leave no running state behind.
	e.Stop()
}

func TestStart_TwiceReturnsErrAlreadyStarted(t *testing.T) {
	// cat with no arguments reads an empty stdin and exits immediately; the
	// engine still counts as started until Stop.
	e := New(Config{Command: "cat", SourceRateHz: 16000, Channels: 1, FrameMs: 10})
	e.OnFrame(func([]byte) {})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	if err := e.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestPump_EncodesFixedFrames(t *testing.T) {
	e := New(Config{SourceRateHz: 32000, Channels: 1, FrameMs: 10})

	// Two full 10ms source frames at 32kHz mono: 640 bytes each.
	src := make([]byte, 1280)
	var frames [][]byte
	e.pump(bytes.NewReader(src), func(frame []byte) {
		frames = append(frames, frame)
	})

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	// 10ms at 16kHz mono PCM16 = 160 samples = 320 bytes.
	for i, f := range frames {
		if len(f) != 320 {
			t.Errorf("frame %d: expected 320 bytes, got %d", i, len(f))
		}
	}
}

func TestPump_StereoSourceDownmixed(t *testing.T) {
	e := New(Config{SourceRateHz: 16000, Channels: 2, FrameMs: 10})

	// One 10ms stereo frame at 16kHz: 160 sample pairs = 640 bytes.
	src := make([]byte, 640)
	var got []byte
	e.pump(bytes.NewReader(src), func(frame []byte) {
		got = frame
	})

	if len(got) != 320 {
		t.Errorf("expected 320-byte mono frame, got %d bytes", len(got))
	}
}

func TestPump_ShortTailStillDelivered(t *testing.T) {
	e := New(Config{SourceRateHz: 16000, Channels: 1, FrameMs: 10})

	// One full 320-byte frame plus a 100-byte tail.
	src := make([]byte, 420)
	var frames [][]byte
	e.pump(bytes.NewReader(src), func(frame []byte) {
		frames = append(frames, frame)
	})

	if len(frames) != 2 {
		t.Fatalf("expected full frame plus tail, got %d frames", len(frames))
	}
	if len(frames[1]) != 100 {
		t.Errorf("expected 100-byte tail frame, got %d bytes", len(frames[1]))
	}
}
