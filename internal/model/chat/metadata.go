package chat

import (
	"encoding/json"
	"fmt"
)

// Metadata carries scraper-side annotations of a payload. Keys without a
// field here are kept in Extra and written back out unchanged.
type Metadata struct {
	Artifacts     []Artifact                 `json:"artifacts"`
	Tools         []string                   `json:"tools"`
	Streaming     bool                       `json:"streaming"`
	MessageLength int                        `json:"messageLength"`
	Method        string                     `json:"method,omitempty"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// metadataFields has Metadata's layout without its JSON methods.
type metadataFields Metadata

var metadataKeys = []string{"artifacts", "tools", "streaming", "messageLength", "method"}

// FilterUserInputEcho tags an assistant entry that repeats the user's input.
const FilterUserInputEcho = "user_input_echo"

type signalProcessing struct {
	Filtered     bool `json:"filtered"`
	IsHistorical bool `json:"isHistorical"`
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields metadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range metadataKeys {
		delete(raw, key)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*m = Metadata(fields)
	m.Extra = raw
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	fields := metadataFields(m)
	if fields.Artifacts == nil {
		fields.Artifacts = []Artifact{}
	}
	if fields.Tools == nil {
		fields.Tools = []string{}
	}
	known, err := json.Marshal(fields)
	if err != nil || len(m.Extra) == 0 {
		return known, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, fmt.Errorf("merge metadata: %w", err)
	}
	for key, value := range m.Extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

func (m Metadata) signalProcessing() signalProcessing {
	var sp signalProcessing
	if raw, ok := m.Extra["signalProcessing"]; ok {
		_ = json.Unmarshal(raw, &sp)
	}
	return sp
}

// SignalNoise reports whether the scraper already flagged the message as
// noise, via isSignalNoise or signalProcessing.filtered.
func (m Metadata) SignalNoise() bool {
	if raw, ok := m.Extra["isSignalNoise"]; ok {
		var flagged bool
		if json.Unmarshal(raw, &flagged) == nil && flagged {
			return true
		}
	}
	return m.signalProcessing().Filtered
}

// Historical reports whether the message was captured from existing page
// history rather than typed or streamed live.
func (m Metadata) Historical() bool {
	return m.signalProcessing().IsHistorical
}

// MarkSignalNoise flags the message as noise and records which filter
// caught it.
func (m *Metadata) MarkSignalNoise(filter string) {
	extra := make(map[string]json.RawMessage, len(m.Extra)+2)
	for key, value := range m.Extra {
		extra[key] = value
	}
	filters, _ := json.Marshal([]string{filter})
	extra["isSignalNoise"] = json.RawMessage("true")
	extra["signalProcessingFilter"] = filters
	m.Extra = extra
}
