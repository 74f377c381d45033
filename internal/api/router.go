package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/login", a.handleLogin)
	r.Get("/qr/{sessionID}", a.handleQR)
	r.Get("/status/{sessionID}", a.handleStatus)
	r.Post("/send-message", a.handleSendMessage)
	r.Get("/message-status/{to}", a.handleMessageStatus)
	r.Get("/message-history/{to}", a.handleMessageHistory)
	r.Post("/logout", a.handleLogout)

	return r
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.config.Ready != nil {
		if err := a.config.Ready(r.Context()); err != nil {
			http.Error(w, "dependencies not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
