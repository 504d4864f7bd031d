package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"academia-backend/internal/middleware"
	"academia-backend/internal/models"
	"academia-backend/internal/tracker"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// StudySessionStore is implemented by repository.StudySessionRepo.
type StudySessionStore interface {
	tracker.Recorder
	ListByUser(ctx context.Context, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*models.StudySession, error)
	SummaryByCourse(ctx context.Context, userID uuid.UUID) ([]models.CourseStudyTotal, error)
}

// StudySessionHandler exposes the recording procedure over REST for
// clients that track time themselves.
type StudySessionHandler struct {
	repo StudySessionStore
}

func NewStudySessionHandler(repo StudySessionStore) *StudySessionHandler {
	return &StudySessionHandler{repo: repo}
}

type recordSessionRequest struct {
	CourseID        uuid.UUID  `json:"course_id" validate:"required"`
	LessonID        *uuid.UUID `json:"lesson_id"`
	SessionType     string     `json:"session_type" validate:"omitempty,max=32"`
	DurationMinutes int        `json:"duration_minutes" validate:"min=0,max=1440"`
	StartedAt       time.Time  `json:"started_at" validate:"required"`
	EndedAt         *time.Time `json:"ended_at"`
}

type updateSessionRequest struct {
	DurationMinutes int        `json:"duration_minutes" validate:"min=0,max=1440"`
	EndedAt         *time.Time `json:"ended_at"`
}

func (h *StudySessionHandler) Record(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req recordSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	rec := tracker.Record{
		UserID:          userID,
		Resource:        models.ResourceRef{CourseID: req.CourseID, LessonID: req.LessonID},
		SessionType:     req.SessionType,
		DurationMinutes: req.DurationMinutes,
		StartedAt:       req.StartedAt,
		LastActiveAt:    now,
	}
	if req.EndedAt != nil {
		rec.EndedAt = *req.EndedAt
		rec.LastActiveAt = *req.EndedAt
	}

	id, err := h.repo.RecordSession(r.Context(), rec)
	if err != nil {
		handleError(w, r, err, "record study session")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": id,
	})
}

func (h *StudySessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	var req updateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec := tracker.Record{
		UserID:          userID,
		DurationMinutes: req.DurationMinutes,
		LastActiveAt:    time.Now().UTC(),
	}
	if req.EndedAt != nil {
		rec.EndedAt = *req.EndedAt
		rec.LastActiveAt = *req.EndedAt
	}

	if err := h.repo.UpdateSession(r.Context(), sessionID, rec); err != nil {
		handleError(w, r, err, "update study session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Study session updated"})
}

func (h *StudySessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var courseID *uuid.UUID
	if raw := r.URL.Query().Get("course_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid course_id", r))
			return
		}
		courseID = &id
	}

	sessions, err := h.repo.ListByUser(r.Context(), userID, courseID, listLimit(r))
	if err != nil {
		handleError(w, r, err, "list study sessions")
		return
	}
	if sessions == nil {
		sessions = []*models.StudySession{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (h *StudySessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	totals, err := h.repo.SummaryByCourse(r.Context(), userID)
	if err != nil {
		handleError(w, r, err, "summarise study sessions")
		return
	}

	total := 0
	for _, t := range totals {
		total += t.TotalMinutes
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"courses":       totals,
		"total_minutes": total,
	})
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
