package realtime

import (
	"strings"
	"testing"

	"academia-backend/internal/events"
	"academia-backend/internal/models"
)

func TestTranslate(t *testing.T) {
	newRow := map[string]interface{}{"id": "new"}
	oldRow := map[string]interface{}{"id": "old"}

	tests := []struct {
		name       string
		change     models.ChangeEvent
		wantKind   events.Kind
		wantType   string
		wantRowID  string
		wantToast  string
		wantUnused bool
	}{
		{
			name:      "study session insert",
			change:    models.ChangeEvent{Table: models.TableStudySessions, Operation: models.OpInsert, New: newRow},
			wantKind:  events.StudySessionUpdate,
			wantType:  "INSERT",
			wantRowID: "new",
		},
		{
			name:      "enrollment insert",
			change:    models.ChangeEvent{Table: models.TableCourseEnrollments, Operation: models.OpInsert, New: newRow},
			wantKind:  events.EnrollmentUpdate,
			wantType:  "INSERT",
			wantRowID: "new",
			wantToast: "Enrollment confirmed",
		},
		{
			name:      "enrollment update",
			change:    models.ChangeEvent{Table: models.TableCourseEnrollments, Operation: models.OpUpdate, New: newRow, Old: oldRow},
			wantKind:  events.EnrollmentUpdate,
			wantType:  "UPDATE",
			wantRowID: "new",
		},
		{
			name:      "achievement insert",
			change:    models.ChangeEvent{Table: models.TableUserAchievements, Operation: models.OpInsert, New: newRow},
			wantKind:  events.AchievementUpdate,
			wantType:  "INSERT",
			wantRowID: "new",
			wantToast: "Achievement unlocked!",
		},
		{
			name:      "bookmark delete carries old row",
			change:    models.ChangeEvent{Table: models.TableCourseBookmarks, Operation: models.OpDelete, Old: oldRow},
			wantKind:  events.BookmarkUpdate,
			wantType:  "DELETE",
			wantRowID: "old",
		},
		{
			name:      "certificate insert",
			change:    models.ChangeEvent{Table: models.TableCertificates, Operation: models.OpInsert, New: newRow},
			wantKind:  events.CertificateUpdate,
			wantType:  "INSERT",
			wantRowID: "new",
			wantToast: "Certificate earned",
		},
		{
			name:      "notification update",
			change:    models.ChangeEvent{Table: models.TableNotifications, Operation: models.OpUpdate, New: newRow, Old: oldRow},
			wantKind:  events.NotificationUpdate,
			wantType:  "UPDATE",
			wantRowID: "new",
		},
		{
			name:       "unknown table",
			change:     models.ChangeEvent{Table: "profiles", Operation: models.OpUpdate, New: newRow},
			wantUnused: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, toast, ok := Translate(tt.change)
			if tt.wantUnused {
				if ok {
					t.Fatalf("expected change to be ignored, got %+v", ev)
				}
				return
			}
			if !ok {
				t.Fatalf("expected change to translate")
			}
			if ev.Kind != tt.wantKind || ev.Detail.Type != tt.wantType {
				t.Errorf("got %s/%s, want %s/%s", ev.Kind, ev.Detail.Type, tt.wantKind, tt.wantType)
			}
			if ev.Detail.Data["id"] != tt.wantRowID {
				t.Errorf("got row %v, want id %q", ev.Detail.Data, tt.wantRowID)
			}
			switch {
			case tt.wantToast == "" && toast != nil:
				t.Errorf("unexpected toast %+v", toast)
			case tt.wantToast != "" && toast == nil:
				t.Errorf("expected toast %q", tt.wantToast)
			case tt.wantToast != "" && toast.Title != tt.wantToast:
				t.Errorf("got toast %q, want %q", toast.Title, tt.wantToast)
			}
		})
	}
}

func TestToastUsesRowTitles(t *testing.T) {
	_, toast, _ := Translate(models.ChangeEvent{
		Table:     models.TableCourseEnrollments,
		Operation: models.OpInsert,
		New:       map[string]interface{}{"course_title": "Linear Algebra"},
	})
	if toast == nil || !strings.Contains(toast.Message, "Linear Algebra") {
		t.Fatalf("expected the course title in the toast, got %+v", toast)
	}

	_, toast, _ = Translate(models.ChangeEvent{
		Table:     models.TableUserAchievements,
		Operation: models.OpInsert,
		New:       map[string]interface{}{"title": "Night owl"},
	})
	if toast == nil || !strings.Contains(toast.Message, "Night owl") {
		t.Fatalf("expected the achievement title in the toast, got %+v", toast)
	}
}

func TestDefaultSubscriptionsRegisterEnrollmentOperationsSeparately(t *testing.T) {
	var enrollment []models.Operation
	for _, sub := range DefaultSubscriptions {
		if sub.Table != models.TableCourseEnrollments {
			continue
		}
		if len(sub.Operations) != 1 {
			t.Fatalf("expected one operation per enrollment entry, got %v", sub.Operations)
		}
		enrollment = append(enrollment, sub.Operations[0])
	}
	if len(enrollment) != 2 || enrollment[0] != models.OpInsert || enrollment[1] != models.OpUpdate {
		t.Fatalf("unexpected enrollment subscriptions %v", enrollment)
	}
}
