// Package protocol defines the wire messages exchanged with the recognition
// service. Text frames carry JSON control/event messages; binary frames carry
// raw PCM16LE audio and never pass through this package.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types sent by the client.
const (
	ControlStart = "start"
	ControlStop  = "stop"
)

// EventType classifies inbound messages from the recognition service.
type EventType string

const (
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventInfo    EventType = "info"
	EventError   EventType = "error"
)

// Well-known info payloads that drive the client's status display.
const (
	InfoReady           = "ready"
	InfoSessionStarted  = "session started"
	InfoSessionFinished = "session finished"
)

// ControlMessage is a client → service JSON control frame.
type ControlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// StartMessage returns the control message that begins a recognition session.
// Every start carries the sample rate.
func StartMessage(sampleRate int) ControlMessage {
	return ControlMessage{Type: ControlStart, SampleRate: sampleRate}
}

// StopMessage returns the control message that ends a recognition session.
func StopMessage() ControlMessage {
	return ControlMessage{Type: ControlStop}
}

// Event is a service → client message after decoding and classification.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	IsFinal bool      `json:"isFinal,omitempty"`
	Message string    `json:"message,omitempty"`
}

// DecodeEvent parses a raw inbound text frame into an Event. Frames with an
// unknown type are rejected so the caller can log and drop them.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case EventPartial, EventFinal, EventInfo, EventError:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("decode event: unknown type %q", ev.Type)
	}
}
