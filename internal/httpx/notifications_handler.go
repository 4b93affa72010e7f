package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danuprasetya/go-shop-checkout/internal/notify"
)

type NotificationsHandler struct {
	Store *notify.Store
}

func (h *NotificationsHandler) Register(r *chi.Mux) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/unread-count", h.unreadCount)
		r.Put("/read-all", h.markAllRead)
		r.Put("/{id}/read", h.markRead)
		r.Delete("/{id}", h.delete)
	})
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	unreadOnly := r.URL.Query().Get("unread") == "true"
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 20)

	items, err := h.Store.List(ctx, userID, unreadOnly, page, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if items == nil {
		items = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items, "page": page, "limit": limit})
}

func (h *NotificationsHandler) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	count, err := h.Store.UnreadCount(ctx, userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (h *NotificationsHandler) markRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.MarkRead(ctx, userID, chi.URLParam(r, "id")); err != nil {
		h.notifyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationsHandler) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Store.MarkAllRead(ctx, userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (h *NotificationsHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.Delete(ctx, userID, chi.URLParam(r, "id")); err != nil {
		h.notifyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationsHandler) notifyError(w http.ResponseWriter, err error) {
	if errors.Is(err, notify.ErrNotificationNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
