package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-live-logger/internal/handler/sink"
	"github.com/zhouzirui/chat-live-logger/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/chat-live-logger/internal/middleware"
	sinkService "github.com/zhouzirui/chat-live-logger/internal/service/sink"
)

// NewRouter wires the logger endpoint routes to the sink service.
func NewRouter(sinkSvc *sinkService.Service, heartbeat time.Duration, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sinkHandler := sink.New(sinkSvc, logger)
	sinkHandler.RegisterRoutes(r)

	// Live tail of chat.log
	r.Method(http.MethodGet, "/events", stream.New(sinkSvc, heartbeat, logger))

	return r
}
