package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationCourse      NotificationType = "course"
	NotificationAppointment NotificationType = "appointment"
	NotificationAchievement NotificationType = "achievement"
	NotificationGeneral     NotificationType = "general"
)

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	IsRead    bool             `json:"is_read"`
	ActionURL *string          `json:"action_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the notification is past its expiry at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

type ToastVariant string

const (
	ToastSuccess ToastVariant = "success"
	ToastInfo    ToastVariant = "info"
)

// Toast is a transient message shown to the user for a significant change.
type Toast struct {
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Variant ToastVariant `json:"variant"`
}
