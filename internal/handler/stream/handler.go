package stream

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	"github.com/zhouzirui/chat-live-logger/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Source hands out live subscriptions to saved chat entries.
type Source interface {
	Subscribe() (<-chan chat.Entry, func())
}

// Handler streams entries saved to chat.log via Server-Sent Events
type Handler struct {
	source    Source
	heartbeat time.Duration
	logger    *zap.Logger
}

// New creates a new stream handler. A heartbeat of zero uses the default.
func New(source Source, heartbeat time.Duration, logger *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{
		source:    source,
		heartbeat: heartbeat,
		logger:    logger.Named("handler.stream"),
	}
}

// ServeHTTP keeps the connection open and writes one "entry" event per saved
// message until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entries, cancel := h.source.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	h.logger.Debug("opening event stream", zap.String("remote", r.RemoteAddr))

	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"}); err != nil {
		h.logger.Debug("client gone before first event", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("closing event stream", zap.String("remote", r.RemoteAddr))
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "entry", entry); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}
