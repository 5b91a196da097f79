// Package playback drives a simulated webinar from the viewer's video position.
//
// Everything shown next to the video (chat transcript, offer, participant counter,
// session expiry) is derived from one committed video time. The derivations in this
// package are pure; Engine owns the committed time and the timers around it.
package playback

import (
	"math"
	"sort"

	"github.com/aura-webinar/funnel/internal/models"
)

// MaxTranscript is the number of chat entries kept in the combined transcript.
const MaxTranscript = 30

// DisplayMessage is a chat entry ready for rendering, whatever its origin.
type DisplayMessage struct {
	ID          string `json:"id"`
	UserName    string `json:"user_name"`
	Text        string `json:"text"`
	TimeSeconds int    `json:"time_seconds"`
	IsAdmin     bool   `json:"is_admin"`
	IsOwn       bool   `json:"is_own"`
}

// Entry is a chat message of any origin.
type Entry interface {
	Display() DisplayMessage
}

// ServerMessage is a seeded message replayed to every viewer at its time.
type ServerMessage struct {
	models.WebinarMessage
}

// Display implements Entry.
func (m ServerMessage) Display() DisplayMessage {
	return DisplayMessage{
		ID:          m.ID.String(),
		UserName:    m.UserName,
		Text:        m.Message,
		TimeSeconds: m.TimeSeconds,
		IsAdmin:     m.IsAdmin,
	}
}

// LocalMessage is a message the viewer wrote during this connection. It is never persisted.
type LocalMessage struct {
	ID          string
	UserName    string
	Text        string
	TimeSeconds int
}

// Display implements Entry.
func (m LocalMessage) Display() DisplayMessage {
	return DisplayMessage{
		ID:          m.ID,
		UserName:    m.UserName,
		Text:        m.Text,
		TimeSeconds: m.TimeSeconds,
		IsOwn:       true,
	}
}

// ServerEntries wraps fetched seed messages as entries.
func ServerEntries(msgs []models.WebinarMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ServerMessage{m})
	}
	return out
}

// Second returns the whole video second used for gating.
func Second(t float64) int {
	return int(math.Floor(t))
}

// Visible returns the entries due at video time t, in input order.
func Visible(entries []Entry, t float64) []DisplayMessage {
	sec := Second(t)
	out := make([]DisplayMessage, 0, len(entries))
	for _, e := range entries {
		d := e.Display()
		if d.TimeSeconds <= sec {
			out = append(out, d)
		}
	}
	return out
}

// Transcript merges visible server and local entries, ordered by time with arrival order
// breaking ties, and keeps the latest MaxTranscript.
func Transcript(server, local []Entry, t float64) []DisplayMessage {
	merged := append(Visible(server, t), Visible(local, t)...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TimeSeconds < merged[j].TimeSeconds
	})
	if len(merged) > MaxTranscript {
		merged = merged[len(merged)-MaxTranscript:]
	}
	return merged
}
