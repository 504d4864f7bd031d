package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultSessionType = "study"

// ResourceRef identifies what is being studied.
type ResourceRef struct {
	CourseID uuid.UUID  `json:"course_id"`
	LessonID *uuid.UUID `json:"lesson_id,omitempty"`
}

type StudySession struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	CourseID        uuid.UUID  `json:"course_id"`
	LessonID        *uuid.UUID `json:"lesson_id,omitempty"`
	SessionType     string     `json:"session_type"`
	DurationMinutes int        `json:"duration_minutes"`
	StartedAt       time.Time  `json:"started_at"`
	LastActiveAt    time.Time  `json:"last_active_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CourseStudyTotal is the total recorded study time for one course.
type CourseStudyTotal struct {
	CourseID     uuid.UUID `json:"course_id"`
	TotalMinutes int       `json:"total_minutes"`
	Sessions     int       `json:"sessions"`
}
