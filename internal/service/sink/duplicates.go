package sink

import (
	"strings"
	"time"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

// Identical assistant replies inside assistantRepeatWindow are render
// repeats even across platforms.
const (
	assistantWindow       = 2 * time.Second
	userWindow            = 5 * time.Second
	assistantRepeatWindow = 30 * time.Second
	echoWindow            = 30 * time.Second
	minEchoLength         = 10
	repeatWindow          = 10 * time.Second
	inputEchoWindow       = 10 * time.Second
	inputEchoLookback     = 5
)

// DuplicateKind names the rule that rejected an entry.
type DuplicateKind string

const (
	DuplicateNone            DuplicateKind = ""
	DuplicateWindow          DuplicateKind = "window"
	DuplicateAssistantRepeat DuplicateKind = "assistant_repeat"
	DuplicateNameEcho        DuplicateKind = "name_echo"
	DuplicateHistorical      DuplicateKind = "historical"
	DuplicateRepeat          DuplicateKind = "repeat"
)

// duplicateOf checks entry against recently saved entries, newest first.
func duplicateOf(entry chat.Entry, history []chat.Entry) (DuplicateKind, chat.Entry) {
	for i := len(history) - 1; i >= 0; i-- {
		recent := history[i]
		diff := entry.TS.Sub(recent.TS)
		if diff < 0 {
			continue
		}

		if recent.Role == entry.Role && recent.Content == entry.Content {
			window := userWindow
			if entry.Role == chat.RoleAssistant {
				window = assistantWindow
			}
			if recent.Platform == entry.Platform && diff <= window {
				return DuplicateWindow, recent
			}
			if entry.Role == chat.RoleAssistant && diff <= assistantRepeatWindow {
				return DuplicateAssistantRepeat, recent
			}
		}

		if isNameEcho(entry, recent, diff) {
			return DuplicateNameEcho, recent
		}
	}
	return repeatOf(entry, history)
}

// repeatOf compares entry with the first saved entry of the same platform,
// role and content. Messages replayed from page history are always repeats;
// live ones only within repeatWindow of the first sighting.
func repeatOf(entry chat.Entry, history []chat.Entry) (DuplicateKind, chat.Entry) {
	for _, first := range history {
		if first.Platform != entry.Platform || first.Role != entry.Role || first.Content != entry.Content {
			continue
		}
		if entry.Metadata.Historical() {
			return DuplicateHistorical, first
		}
		if diff := entry.TS.Sub(first.TS); diff >= 0 && diff < repeatWindow {
			return DuplicateRepeat, first
		}
		break
	}
	return DuplicateNone, chat.Entry{}
}

// isUserInputEcho reports whether an assistant entry just repeats one of the
// last few user inputs on the same platform. Such entries are kept in the
// verbose log but not in chat.log.
func isUserInputEcho(entry chat.Entry, history []chat.Entry) bool {
	if entry.Role != chat.RoleAssistant {
		return false
	}
	content := strings.TrimSpace(entry.Content)
	for i := len(history) - 1; i >= 0 && i >= len(history)-inputEchoLookback; i-- {
		recent := history[i]
		if recent.Role != chat.RoleUser || recent.Platform != entry.Platform {
			continue
		}
		diff := entry.TS.Sub(recent.TS)
		if diff >= 0 && diff <= inputEchoWindow && strings.TrimSpace(recent.Content) == content {
			return true
		}
	}
	return false
}

// isNameEcho catches Claude replaying the user's input behind a one letter
// avatar prefix, e.g. "Jtestmessage110" after "testmessage110".
func isNameEcho(entry, recent chat.Entry, diff time.Duration) bool {
	if entry.Role != chat.RoleAssistant || entry.Platform != chat.PlatformClaude {
		return false
	}
	if recent.Role != chat.RoleUser || recent.Platform != chat.PlatformClaude {
		return false
	}
	if diff > echoWindow {
		return false
	}

	content := []rune(entry.Content)
	user := []rune(recent.Content)
	if len(user) < minEchoLength || len(content) != len(user)+1 {
		return false
	}
	return string(content[1:]) == recent.Content
}
