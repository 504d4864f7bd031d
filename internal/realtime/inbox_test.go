package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	jujuerrors "github.com/juju/errors"

	"academia-backend/internal/changestream"
	"academia-backend/internal/events"
	"academia-backend/internal/models"
)

type fakeNotificationStore struct {
	mu        sync.Mutex
	list      []*models.Notification
	markCalls int
	markErr   error
}

func (s *fakeNotificationStore) ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Notification, 0, len(s.list))
	for _, n := range s.list {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeNotificationStore) MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return false, s.markErr
	}
	return true, nil
}

var inboxEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func notification(userID uuid.UUID, age time.Duration) *models.Notification {
	return &models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "Reminder",
		Message:   "Your live session starts soon",
		Type:      models.NotificationAppointment,
		CreatedAt: inboxEpoch.Add(-age),
	}
}

func loadedInbox(t *testing.T, store *fakeNotificationStore, userID uuid.UUID) (*Inbox, *int) {
	t.Helper()
	changes := 0
	inbox := NewInbox(userID, store, testclock.NewClock(inboxEpoch), func() { changes++ })
	if err := inbox.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return inbox, &changes
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	userID := uuid.New()
	first := notification(userID, time.Hour)
	store := &fakeNotificationStore{list: []*models.Notification{
		first,
		notification(userID, 2*time.Hour),
		notification(userID, 3*time.Hour),
	}}
	inbox, _ := loadedInbox(t, store, userID)
	ctx := context.Background()

	if got := inbox.UnreadCount(); got != 3 {
		t.Fatalf("expected 3 unread, got %d", got)
	}

	changed, err := inbox.MarkAsRead(ctx, first.ID)
	if err != nil || !changed {
		t.Fatalf("first MarkAsRead = %v, %v", changed, err)
	}
	if got := inbox.UnreadCount(); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}

	changed, err = inbox.MarkAsRead(ctx, first.ID)
	if err != nil || changed {
		t.Fatalf("second MarkAsRead = %v, %v", changed, err)
	}
	if got := inbox.UnreadCount(); got != 2 {
		t.Fatalf("expected unread count to stay at 2, got %d", got)
	}
	if store.markCalls != 1 {
		t.Fatalf("expected a single store call, got %d", store.markCalls)
	}

	for _, n := range inbox.Items() {
		if n.ID == first.ID && (n.ReadAt == nil || !n.ReadAt.Equal(inboxEpoch)) {
			t.Fatalf("expected read_at to be set to now, got %v", n.ReadAt)
		}
	}
}

func TestMarkAsReadUnknownID(t *testing.T) {
	inbox, _ := loadedInbox(t, &fakeNotificationStore{}, uuid.New())

	_, err := inbox.MarkAsRead(context.Background(), uuid.New())
	if !jujuerrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkAsReadStoreFailure(t *testing.T) {
	userID := uuid.New()
	n := notification(userID, time.Minute)
	store := &fakeNotificationStore{list: []*models.Notification{n}, markErr: errors.New("timeout")}
	inbox, _ := loadedInbox(t, store, userID)

	if _, err := inbox.MarkAsRead(context.Background(), n.ID); err == nil {
		t.Fatalf("expected the store error")
	}
	if got := inbox.UnreadCount(); got != 1 {
		t.Fatalf("expected the notification to stay unread, got %d unread", got)
	}
}

func TestApplyMirrorsNotificationChanges(t *testing.T) {
	userID := uuid.New()
	inbox, changes := loadedInbox(t, &fakeNotificationStore{}, userID)
	before := *changes

	n := notification(userID, 0)
	inbox.Apply(events.Event{
		Kind:   events.NotificationUpdate,
		Detail: events.Detail{Type: "INSERT", Data: changestream.RowOf(n)},
	})
	if got := inbox.UnreadCount(); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
	if *changes != before+1 {
		t.Fatalf("expected onChange to be called")
	}

	// Other users and other kinds are ignored.
	inbox.Apply(events.Event{
		Kind:   events.NotificationUpdate,
		Detail: events.Detail{Type: "INSERT", Data: changestream.RowOf(notification(uuid.New(), 0))},
	})
	inbox.Apply(events.Event{
		Kind:   events.AchievementUpdate,
		Detail: events.Detail{Type: "INSERT", Data: changestream.RowOf(notification(userID, 0))},
	})
	if got := inbox.UnreadCount(); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
}

func TestApplyNeverUnreads(t *testing.T) {
	userID := uuid.New()
	n := notification(userID, time.Minute)
	inbox, _ := loadedInbox(t, &fakeNotificationStore{list: []*models.Notification{n}}, userID)

	if _, err := inbox.MarkAsRead(context.Background(), n.ID); err != nil {
		t.Fatal(err)
	}

	stale := *n
	stale.IsRead = false
	inbox.Apply(events.Event{
		Kind:   events.NotificationUpdate,
		Detail: events.Detail{Type: "UPDATE", Data: changestream.RowOf(stale)},
	})
	if got := inbox.UnreadCount(); got != 0 {
		t.Fatalf("expected the notification to stay read, got %d unread", got)
	}
}

func TestExpiredNotificationsAreHidden(t *testing.T) {
	userID := uuid.New()
	expired := notification(userID, 48*time.Hour)
	past := inboxEpoch.Add(-time.Hour)
	expired.ExpiresAt = &past

	live := notification(userID, time.Hour)
	future := inboxEpoch.Add(time.Hour)
	live.ExpiresAt = &future

	newest := notification(userID, time.Minute)

	inbox, _ := loadedInbox(t, &fakeNotificationStore{list: []*models.Notification{expired, live, newest}}, userID)

	if got := inbox.UnreadCount(); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}
	items := inbox.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != newest.ID || items[1].ID != live.ID {
		t.Fatalf("expected newest first, got %s then %s", items[0].ID, items[1].ID)
	}
}
