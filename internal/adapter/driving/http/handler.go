package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/gateway/ws"
	"github.com/vasanthgoud799/connectify-sub001/internal/auth"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/service"
)

type Options struct {
	PingInterval   time.Duration
	AllowedOrigins []string
}

type Handler struct {
	Relay     *service.Relay
	Presence  *service.PresenceRegistry
	Hub       *ws.Hub
	Validator *auth.Validator

	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewHandler(relay *service.Relay, presence *service.PresenceRegistry, hub *ws.Hub, validator *auth.Validator, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Handler{
		Relay:        relay,
		Presence:     presence,
		Hub:          hub,
		Validator:    validator,
		pingInterval: opts.PingInterval,
		upgrader:     newUpgrader(opts.AllowedOrigins),
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Get("/ws", h.ServeWS)
		r.Get("/api/presence/{userID}", h.GetPresence)
	})

	return r
}
