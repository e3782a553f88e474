// Package transcript maintains the authoritative in-memory transcript built
// from a noisy stream of partial and final recognition updates.
//
// The reconciler owns exactly one mutable "live" segment plus an immutable,
// most-recent-first list of committed segments. Live text only ever grows:
// a partial that extends the previous text replaces it, any other non-equal
// partial is treated as a service-side restart and appended after a space.
// Committed text is never retroactively edited.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Segment is a single utterance, either live (still being updated) or
// committed (immutable).
type Segment struct {
	// Text is the recognized text. Empty only transiently on a live segment.
	Text string `json:"text"`

	// StartTime is when the segment began accumulating. Set on the first
	// partial and never mutated afterwards. Zero means unset.
	StartTime time.Time `json:"startTime"`

	// EndTime is set exactly once, at commit. Zero while the segment is live.
	EndTime time.Time `json:"endTime,omitzero"`

	// IsPartial is true while the service is still updating the segment.
	IsPartial bool `json:"isPartial"`

	// Speaker is the label active when the segment was created. It does not
	// change if the active speaker changes mid-utterance.
	Speaker string `json:"speaker"`
}

// Stats are derived counters over the live segment and committed history.
type Stats struct {
	CharCount    int `json:"charCount"`
	WordCount    int `json:"wordCount"`
	SegmentCount int `json:"segmentCount"`
}

// Reconciler applies partial/final updates to the transcript state.
// Thread-safe for concurrent access.
type Reconciler struct {
	mu        sync.RWMutex
	live      *Segment
	committed []Segment // most-recent-first
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// OnPartial merges an interim update into the live segment, creating the
// segment if none exists.
func (r *Reconciler) OnPartial(text, speaker string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live == nil {
		r.live = &Segment{
			Text:      text,
			StartTime: now,
			IsPartial: true,
			Speaker:   speaker,
		}
		return
	}

	prev := r.live.Text
	switch {
	case strings.HasPrefix(text, prev) && len(text) > len(prev):
		// Normal incremental growth.
		r.live.Text = text
	case text != prev:
		// The service restarted its partial window mid-utterance. Keep the
		// prior fragment and append the new one.
		r.live.Text = prev + " " + text
	}
	// text == prev is a duplicate update; nothing to do. StartTime and
	// Speaker are pinned at creation either way.
}

// OnFinal commits the current utterance. An empty text falls back to the live
// segment's accumulated text; if that is also empty nothing is committed.
// The live segment is cleared unconditionally so a stale partial never bleeds
// into the next utterance.
func (r *Reconciler) OnFinal(text, speaker string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := text
	if resolved == "" && r.live != nil {
		resolved = r.live.Text
	}

	if resolved != "" {
		start := now
		if r.live != nil && !r.live.StartTime.IsZero() {
			start = r.live.StartTime
		}
		seg := Segment{
			Text:      resolved,
			StartTime: start,
			EndTime:   now,
			IsPartial: false,
			Speaker:   speaker,
		}
		r.committed = append([]Segment{seg}, r.committed...)
	}

	r.live = nil
}

// Live returns a copy of the live segment, or nil if there is none.
func (r *Reconciler) Live() *Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.live == nil {
		return nil
	}
	seg := *r.live
	return &seg
}

// Committed returns the committed segments, most recent first.
func (r *Reconciler) Committed() []Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Segment, len(r.committed))
	copy(out, r.committed)
	return out
}

// Reset clears all transcript state for a new recording run. This is the only
// path that discards committed segments.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = nil
	r.committed = nil
}

// Stats recomputes character, word and segment counts over the live text
// followed by the committed history.
func (r *Reconciler) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]string, 0, len(r.committed)+1)
	if r.live != nil && r.live.Text != "" {
		parts = append(parts, r.live.Text)
	}
	for _, seg := range r.committed {
		parts = append(parts, seg.Text)
	}
	joined := strings.Join(parts, " ")

	return Stats{
		CharCount:    len([]rune(joined)),
		WordCount:    len(strings.Fields(joined)),
		SegmentCount: len(r.committed),
	}
}
