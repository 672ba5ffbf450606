package chat

import "time"

const (
	EnvelopeTypeLog    = "LOG"
	ActionUpdateBadge  = "updateBadge"
	ActionGetStats     = "getStats"
	ActionReset        = "reset"
	defaultReplyStatus = "ok"
)

// Envelope is an extension message passed between content and background
// contexts: either {type:"LOG", payload} or {action:"updateBadge", count}.
type Envelope struct {
	Type    string   `json:"type,omitempty"`
	Action  string   `json:"action,omitempty"`
	Count   *int     `json:"count,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
}

// Reply is what the background context answers to an Envelope.
type Reply struct {
	OK     bool        `json:"ok"`
	Status string      `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
	Count  int         `json:"count,omitempty"`
	Stats  *RelayStats `json:"stats,omitempty"`
	Seen   []SeenEntry `json:"seen,omitempty"`
}

// RelayStats summarises a relay session.
type RelayStats struct {
	Session   Session `json:"session"`
	Forwarded int     `json:"forwarded"`
	Blocked   int     `json:"blocked"`
	Sent      int     `json:"sent"`
	Failed    int     `json:"failed"`
	Dropped   int     `json:"dropped"`
	SeenSet   int     `json:"seenSet"`
}

// SeenEntry is one seen-set record as reported by getStats.
type SeenEntry struct {
	Text      string    `json:"text"`
	FirstSeen time.Time `json:"firstSeen"`
}

// OKReply is the default acknowledgement for messages with no handler.
func OKReply() Reply {
	return Reply{OK: true, Status: defaultReplyStatus}
}
