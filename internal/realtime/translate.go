package realtime

import (
	"fmt"

	"academia-backend/internal/changestream"
	"academia-backend/internal/events"
	"academia-backend/internal/models"
)

// DefaultSubscriptions is the fixed set of changes a signed-in user's page
// listens to. Enrollment inserts and updates are registered separately.
var DefaultSubscriptions = []changestream.Subscription{
	{Table: models.TableStudySessions, Operations: []models.Operation{models.OpInsert, models.OpUpdate}},
	{Table: models.TableCourseEnrollments, Operations: []models.Operation{models.OpInsert}},
	{Table: models.TableCourseEnrollments, Operations: []models.Operation{models.OpUpdate}},
	{Table: models.TableUserAchievements, Operations: []models.Operation{models.OpInsert}},
	{Table: models.TableCourseBookmarks},
	{Table: models.TableCertificates, Operations: []models.Operation{models.OpInsert}},
	{Table: models.TableNotifications, Operations: []models.Operation{models.OpInsert, models.OpUpdate}},
}

func kindFor(table models.Table) (events.Kind, bool) {
	switch table {
	case models.TableStudySessions:
		return events.StudySessionUpdate, true
	case models.TableCourseEnrollments:
		return events.EnrollmentUpdate, true
	case models.TableUserAchievements:
		return events.AchievementUpdate, true
	case models.TableCourseBookmarks:
		return events.BookmarkUpdate, true
	case models.TableCertificates:
		return events.CertificateUpdate, true
	case models.TableNotifications:
		return events.NotificationUpdate, true
	}
	return "", false
}

// Translate turns a change into the bus event it publishes and, for
// significant changes, the toast shown to the user. ok is false for tables
// the router does not know.
func Translate(ch models.ChangeEvent) (ev events.Event, toast *models.Toast, ok bool) {
	kind, ok := kindFor(ch.Table)
	if !ok {
		return events.Event{}, nil, false
	}

	ev = events.Event{
		Kind: kind,
		Detail: events.Detail{
			Type: string(ch.Operation),
			Data: ch.Row(),
		},
	}
	if ch.Operation == models.OpInsert {
		toast = toastFor(kind, ch.New)
	}
	return ev, toast, true
}

func toastFor(kind events.Kind, row map[string]interface{}) *models.Toast {
	switch kind {
	case events.EnrollmentUpdate:
		msg := "You're now enrolled in a new course."
		if title := stringField(row, "course_title"); title != "" {
			msg = fmt.Sprintf("You're now enrolled in %s.", title)
		}
		return &models.Toast{Title: "Enrollment confirmed", Message: msg, Variant: models.ToastSuccess}
	case events.AchievementUpdate:
		msg := "You earned a new achievement."
		if title := stringField(row, "title"); title != "" {
			msg = fmt.Sprintf("You earned %q.", title)
		}
		return &models.Toast{Title: "Achievement unlocked!", Message: msg, Variant: models.ToastSuccess}
	case events.CertificateUpdate:
		return &models.Toast{
			Title:   "Certificate earned",
			Message: "Your certificate is ready to download.",
			Variant: models.ToastSuccess,
		}
	}
	return nil
}

func stringField(row map[string]interface{}, key string) string {
	s, _ := row[key].(string)
	return s
}
