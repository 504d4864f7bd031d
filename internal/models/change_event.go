package models

import (
	"github.com/google/uuid"
)

// Table names a relation whose row changes are pushed to the owning user.
type Table string

const (
	TableStudySessions     Table = "study_sessions"
	TableCourseEnrollments Table = "course_enrollments"
	TableUserAchievements  Table = "user_achievements"
	TableCourseBookmarks   Table = "course_bookmarks"
	TableCertificates      Table = "certificates"
	TableNotifications     Table = "notifications"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeEvent is a row-level change as delivered by the change stream.
// It is never stored.
type ChangeEvent struct {
	Table     Table                  `json:"table"`
	Operation Operation              `json:"operation"`
	UserID    uuid.UUID              `json:"user_id"`
	New       map[string]interface{} `json:"new,omitempty"`
	Old       map[string]interface{} `json:"old,omitempty"`
}

// Row returns the row state that best describes the change: the new row,
// or the old one for deletes.
func (e ChangeEvent) Row() map[string]interface{} {
	if e.Operation == OpDelete || e.New == nil {
		return e.Old
	}
	return e.New
}
