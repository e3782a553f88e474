// Package models defines the data structures for published caption events.
package models

// CaptionPartial represents an interim caption for the live segment.
type CaptionPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// CaptionFinal represents a committed transcript segment.
type CaptionFinal struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	StartedAt   int64  `json:"startedAt"`
	FinalizedAt int64  `json:"finalizedAt"`
	Timestamp   int64  `json:"timestamp"`
}

// Event type names used on the wire.
const (
	EventTypeCaptionPartial = "session.caption.partial"
	EventTypeCaptionFinal   = "session.caption.final"
)
