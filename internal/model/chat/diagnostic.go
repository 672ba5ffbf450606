package chat

import "time"

// DiagnosticItem records how a DOM element was transmitted, for analysing
// re-render retransmissions.
type DiagnosticItem struct {
	TS                  time.Time      `json:"ts"`
	Type                string         `json:"type"`
	Timestamp           any            `json:"timestamp,omitempty"`
	ElementSignature    map[string]any `json:"elementSignature,omitempty"`
	ConversationContext any            `json:"conversationContext,omitempty"`
	TransmissionType    string         `json:"transmissionType,omitempty"`
}

// AnalyticsItem is one event of a retransmission test run.
type AnalyticsItem struct {
	TS             time.Time      `json:"ts"`
	SessionTime    any            `json:"sessionTime,omitempty"`
	Type           string         `json:"type"`
	TestPhase      string         `json:"testPhase,omitempty"`
	URL            string         `json:"url,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}
