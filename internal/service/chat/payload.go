package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

// TimestampLayout matches the ISO strings browsers produce.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewPayload builds the wire payload for an observation that passed the gate.
func NewPayload(obs chat.Observation, now time.Time) chat.Payload {
	text := NormalizeText(obs.Text)
	platform := obs.Platform
	if platform == "" {
		platform = chat.PlatformUnknown
	}

	convo := obs.Convo
	if convo == "" && obs.URL != "" {
		convo = ConvoIDFromURL(platform, obs.URL)
	}

	return chat.Payload{
		ID:       uuid.NewString(),
		TS:       now.UTC().Format(TimestampLayout),
		Platform: platform,
		Convo:    convo,
		Role:     obs.Role,
		Text:     text,
		URLs:     ExtractURLs(text),
		Metadata: chat.Metadata{
			Artifacts:     []chat.Artifact{},
			Tools:         DetectTools(text, platform),
			Streaming:     obs.Role == chat.RoleAssistant,
			MessageLength: len([]rune(text)),
		},
	}
}
