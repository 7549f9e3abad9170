package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/auth"
	"github.com/cleanova/cleanova/src/internal/logging"
	"github.com/cleanova/cleanova/src/internal/services"
)

type meResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	IsSubscribed bool   `json:"isSubscribed"`
}

func (h *handlers) log(r *http.Request) zerolog.Logger {
	return logging.WithContext(r.Context(), h.Logger)
}

// principal is always present behind RequireAuth.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	u := principal(r).User
	writeJSON(w, http.StatusOK, meResponse{ID: u.ID, Email: u.Email, IsSubscribed: u.IsSubscribed})
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Catalog.Dashboard(r.Context(), principal(r).User.ID)
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) category(w http.ResponseWriter, r *http.Request) {
	page, err := h.Catalog.CategoryVideos(r.Context(), principal(r).User.ID, chi.URLParam(r, "slug"))
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) videoDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Catalog.VideoDetail(r.Context(), principal(r).User.ID, chi.URLParam(r, "slug"), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) continueWatching(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Catalog.ContinueWatching(r.Context(), principal(r).User.ID)
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *handlers) openSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sessions.Open(r.Context(), principal(r).Caller, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sessions.Get(r.Context(), principal(r).Caller, chi.URLParam(r, "sid"))
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(r.Context(), principal(r).Caller, chi.URLParam(r, "sid")); err != nil {
		respondError(w, h.log(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sessionEvent(w http.ResponseWriter, r *http.Request) {
	var ev services.MediaEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid event JSON")
		return
	}
	if ev.Type == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "event type is required")
		return
	}
	snap, err := h.Sessions.Dispatch(r.Context(), principal(r).Caller, chi.URLParam(r, "sid"), ev)
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) retrySession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sessions.Retry(r.Context(), principal(r).Caller, chi.URLParam(r, "sid"))
	if err != nil {
		respondError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
