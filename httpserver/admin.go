package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// PasswordVerifier checks the deployment's one-time administrator password.
type PasswordVerifier interface {
	VerifyOneTimePassword(ctx context.Context, otp string) (bool, error)
}

// AdminHandler serves event administration for operators holding the
// one-time password issued at stack creation.
type AdminHandler struct {
	store    interfaces.CredentialStore
	verifier PasswordVerifier
	log      *slog.Logger
}

// NewAdminHandler creates the admin handler. verifier checks bearer tokens.
func NewAdminHandler(store interfaces.CredentialStore, verifier PasswordVerifier, log *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, verifier: verifier, log: log}
}

// AdminRouter returns the admin routes, to be mounted under /admin.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAdmin)

	r.Put("/events/{event_id}", h.handlePutEvent)
	r.Get("/events/{event_id}", h.handleGetEvent)

	return r
}

func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}

		valid, err := h.verifier.VerifyOneTimePassword(r.Context(), token)
		if err != nil {
			writeRequestError(w, h.log, err)
			return
		}
		if !valid {
			h.log.Warn("Admin authentication failed", slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handlePutEvent creates an event or replaces its provisioning defaults.
// The user id counter is never lowered.
//
// Endpoint: PUT /admin/events/{event_id}
func (h *AdminHandler) handlePutEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := adminEventID(r)
	if err != nil {
		writeRequestError(w, h.log, err)
		return
	}

	var event interfaces.Event
	if err := decodeBody(r, &event); err != nil {
		writeRequestError(w, h.log, err)
		return
	}
	event.EventID = eventID

	if err := h.store.PutEvent(r.Context(), &event); err != nil {
		writeRequestError(w, h.log, fmt.Errorf("failed to store event: %w", err))
		return
	}

	stored, err := h.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeRequestError(w, h.log, err)
		return
	}

	h.log.Info("Event updated", slog.String("event_id", eventID), slog.Int64("next_uid", stored.NextUID))
	writeJSON(w, http.StatusOK, stored)
}

// handleGetEvent returns an event. Secrets on the record are never serialized.
//
// Endpoint: GET /admin/events/{event_id}
func (h *AdminHandler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := adminEventID(r)
	if err != nil {
		writeRequestError(w, h.log, err)
		return
	}

	event, err := h.store.GetEvent(r.Context(), eventID)
	if errors.Is(err, interfaces.ErrNotFound) {
		writeRequestError(w, h.log, &RequestError{StatusCode: http.StatusNotFound, Err: err})
		return
	}
	if err != nil {
		writeRequestError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func adminEventID(r *http.Request) (string, error) {
	eventID := chi.URLParam(r, "event_id")
	if eventID == "" || eventID == interfaces.ReservedEventID {
		return "", &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid event id %q", eventID)}
	}
	return eventID, nil
}
