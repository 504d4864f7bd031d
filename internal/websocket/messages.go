package websocket

import (
	"encoding/json"

	"github.com/google/uuid"

	"academia-backend/internal/models"
	"academia-backend/internal/tracker"
)

// Client to server message types.
const (
	MsgStartTracking = "start_tracking"
	MsgStopTracking  = "stop_tracking"
	MsgActivity      = "activity"
	MsgVisibility    = "visibility"
	MsgMarkRead      = "mark_read"
)

// Server to client message types.
const (
	MsgEvent    = "event"
	MsgToast    = "toast"
	MsgTracking = "tracking"
	MsgInbox    = "inbox"
	MsgError    = "error"
)

// clientMessage is a message from the page. Payload is decoded according
// to Type.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startTrackingPayload struct {
	CourseID uuid.UUID  `json:"course_id"`
	LessonID *uuid.UUID `json:"lesson_id,omitempty"`
}

type visibilityPayload struct {
	Visible bool `json:"visible"`
}

type markReadPayload struct {
	ID uuid.UUID `json:"id"`
}

type trackingPayload struct {
	State  string               `json:"state"`
	Result *tracker.StartResult `json:"result,omitempty"`
	tracker.Snapshot
}

type inboxPayload struct {
	UnreadCount   int                   `json:"unread_count"`
	Notifications []models.Notification `json:"notifications"`
}

type errorPayload struct {
	Request string `json:"request"`
	Message string `json:"message"`
}
