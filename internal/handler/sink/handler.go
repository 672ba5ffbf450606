package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
	sinkService "github.com/zhouzirui/chat-live-logger/internal/service/sink"
	"github.com/zhouzirui/chat-live-logger/pkg/utils"
)

// ResultHeader carries the ingest outcome next to the plain "ok" body.
const ResultHeader = "X-Log-Result"

const getBypassMethod = "get_bypass"

var jsonpCallback = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// Handler 本地日志端点的HTTP处理器
type Handler struct {
	svc    *sinkService.Service
	logger *zap.Logger
}

// New 创建日志处理器
func New(svc *sinkService.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.Named("handler.sink"),
	}
}

// RegisterRoutes 注册日志端点的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/log", h.handleLog)
	r.Get("/log", h.handleLogQuery)
	r.Post("/diagnostic", h.handleDiagnostic)
	r.Post("/analytics", h.handleAnalytics)
	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)
}

// handleLog 接收一条聊天消息
func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	var payload chat.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("invalid log request", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.ingest(w, r, payload) {
		return
	}
	utils.RespondText(w, http.StatusOK, "ok")
}

// handleLogQuery accepts a message as query parameters, for pages where a
// cross-origin POST is blocked and an image beacon or JSONP call is used.
func (h *Handler) handleLogQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callback := q.Get("callback")
	if callback != "" && !jsonpCallback.MatchString(callback) {
		utils.RespondError(w, http.StatusBadRequest, "invalid callback")
		return
	}

	if text := q.Get("text"); text != "" {
		method := q.Get("method")
		if method == "" {
			method = getBypassMethod
		}
		payload := chat.Payload{
			Platform: chat.Platform(valueOr(q.Get("platform"), string(chat.PlatformClaude))),
			Role:     chat.Role(valueOr(q.Get("role"), string(chat.RoleUser))),
			Text:     text,
			Metadata: chat.Metadata{Method: method},
		}
		if !h.ingest(w, r, payload) {
			return
		}
	}

	if callback != "" {
		w.Header().Set("Content-Type", "application/javascript")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `%s({"status": "ok", "method": "jsonp"})`, callback)
		return
	}
	utils.RespondText(w, http.StatusOK, "ok")
}

// ingest writes the error response itself and reports whether to continue.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, payload chat.Payload) bool {
	result, err := h.svc.Ingest(r.Context(), payload)
	if errors.Is(err, sinkService.ErrEmptyText) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err != nil {
		h.logger.Error("ingest failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to write log")
		return false
	}
	w.Header().Set(ResultHeader, string(result))
	return true
}

// handleDiagnostic 记录重传诊断数据
func (h *Handler) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	var item chat.DiagnosticItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.logger.Warn("invalid diagnostic request", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.RecordDiagnostic(r.Context(), item); err != nil {
		h.logger.Error("record diagnostic failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to write diagnostic")
		return
	}
	utils.RespondText(w, http.StatusOK, "ok")
}

// handleAnalytics 记录重传测试事件
func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var item chat.AnalyticsItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.logger.Warn("invalid analytics request", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.RecordAnalytics(r.Context(), item); err != nil {
		h.logger.Error("record analytics failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to write analytics")
		return
	}
	utils.RespondText(w, http.StatusOK, "ok")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondText(w, http.StatusOK, "ok")
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.Stats())
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
