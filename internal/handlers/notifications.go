package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"academia-backend/internal/middleware"
	"academia-backend/internal/models"
)

// NotificationStore is implemented by repository.NotificationRepo.
type NotificationStore interface {
	ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error)
}

type NotificationHandler struct {
	repo NotificationStore
}

func NewNotificationHandler(repo NotificationStore) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	list, err := h.repo.ListActive(r.Context(), userID, listLimit(r))
	if err != nil {
		handleError(w, r, err, "list notifications")
		return
	}

	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"unread_count":  unread,
	})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	count, err := h.repo.UnreadCount(r.Context(), userID)
	if err != nil {
		handleError(w, r, err, "count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// MarkAsRead is idempotent: marking a read notification again succeeds
// with updated=false.
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid notification ID", r))
		return
	}

	updated, err := h.repo.MarkAsRead(r.Context(), id, userID)
	if err != nil {
		handleError(w, r, err, "mark notification read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	n, err := h.repo.MarkAllAsRead(r.Context(), userID)
	if err != nil {
		handleError(w, r, err, "mark notifications read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
