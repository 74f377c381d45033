package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wagate/internal/delivery"
	"wagate/internal/ledger"
	"wagate/internal/session"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := a.config.DefaultSession

	if _, err := a.controller.Materialize(r.Context(), id); err != nil {
		a.log.Error().Err(err).Str("session", id).Msg("failed to initialize bridge session")
		respondError(w, http.StatusInternalServerError, errors.New("failed to initialize bridge session"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"message":   "Session initialized. Scan the QR code to authenticate.",
	})
}

func (a *API) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	qr := a.registry.QR(id)
	if qr == "" {
		respondError(w, http.StatusNotFound, errors.New("qr not generated yet"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessionId": id, "qr": qr})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"status":    string(a.registry.Readiness(id)),
	})
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.To == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, errors.New(`both "to" and "message" fields are required`))
		return
	}

	job := delivery.SendJob{
		SessionID: a.config.DefaultSession,
		To:        req.To,
		Body:      req.Message,
	}
	if err := a.queue.Publish(r.Context(), a.config.SendSubject, job); err != nil {
		a.log.Error().Err(err).Str("to", req.To).Msg("failed to enqueue message")
		respondError(w, http.StatusInternalServerError, errors.New("failed to queue message"))
		return
	}

	a.log.Info().Str("to", req.To).Msg("message queued")
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "queued",
		"to":      req.To,
		"message": req.Message,
	})
}

func (a *API) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	to := chi.URLParam(r, "to")

	rec, err := a.ledger.LatestStatusFor(r.Context(), to)
	switch {
	case errors.Is(err, ledger.ErrNoRecord):
		respondJSON(w, http.StatusNotFound, map[string]any{"to": to, "status": "not_found"})
		return
	case err != nil:
		a.log.Error().Err(err).Str("to", to).Msg("failed to fetch message status")
		respondError(w, http.StatusInternalServerError, errors.New("failed to fetch message status"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"to":     rec.To,
		"status": rec.Status,
		"body":   rec.Body,
		"sentAt": rec.SentAt,
		"error":  rec.Error,
	})
}

func (a *API) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	to := chi.URLParam(r, "to")

	recs, err := a.ledger.AttemptsFor(r.Context(), to)
	if err != nil {
		a.log.Error().Err(err).Str("to", to).Msg("failed to fetch message history")
		respondError(w, http.StatusInternalServerError, errors.New("failed to fetch message history"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"to": to, "attempts": recs})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := a.config.DefaultSession

	err := a.controller.Destroy(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, errors.New("no active session to logout"))
		return
	case err != nil:
		a.log.Error().Err(err).Str("session", id).Msg("failed to logout session")
		respondError(w, http.StatusInternalServerError, errors.New("failed to logout session"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "sessionId": id})
}
