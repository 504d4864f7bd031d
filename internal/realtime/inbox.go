package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"academia-backend/internal/events"
	"academia-backend/internal/models"
)

// NotificationStore is the backend surface the inbox reads from and
// acknowledges through.
type NotificationStore interface {
	ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

const inboxLimit = 50

// Inbox mirrors one user's notifications for the lifetime of a page. It is
// seeded from the store and kept current by notificationUpdate events.
type Inbox struct {
	userID   uuid.UUID
	store    NotificationStore
	clock    clock.Clock
	onChange func()

	mu    sync.Mutex
	items map[uuid.UUID]*models.Notification
}

// NewInbox returns an empty inbox. onChange, if not nil, is called after
// every change to the mirrored state.
func NewInbox(userID uuid.UUID, store NotificationStore, clk clock.Clock, onChange func()) *Inbox {
	return &Inbox{
		userID:   userID,
		store:    store,
		clock:    clk,
		onChange: onChange,
		items:    make(map[uuid.UUID]*models.Notification),
	}
}

func (i *Inbox) Load(ctx context.Context) error {
	list, err := i.store.ListActive(ctx, i.userID, inboxLimit)
	if err != nil {
		return errors.Annotate(err, "loading notifications")
	}

	i.mu.Lock()
	for _, n := range list {
		i.merge(n)
	}
	i.mu.Unlock()
	i.changed()
	return nil
}

// Apply mirrors a notificationUpdate event. Other kinds are ignored.
func (i *Inbox) Apply(ev events.Event) {
	if ev.Kind != events.NotificationUpdate {
		return
	}
	n, err := notificationFromRow(ev.Detail.Data)
	if err != nil {
		logger.Warningf("user %s: ignoring notification change: %v", i.userID, err)
		return
	}
	if n.UserID != uuid.Nil && n.UserID != i.userID {
		return
	}

	i.mu.Lock()
	i.merge(n)
	i.mu.Unlock()
	i.changed()
}

// merge stores n, never turning a read notification back into unread.
func (i *Inbox) merge(n *models.Notification) {
	if cur, ok := i.items[n.ID]; ok && cur.IsRead && !n.IsRead {
		n.IsRead = true
		n.ReadAt = cur.ReadAt
	}
	i.items[n.ID] = n
}

// MarkAsRead acknowledges a notification. It reports whether the call
// changed anything: repeated calls for the same id are no-ops.
func (i *Inbox) MarkAsRead(ctx context.Context, id uuid.UUID) (bool, error) {
	i.mu.Lock()
	n, ok := i.items[id]
	alreadyRead := ok && n.IsRead
	i.mu.Unlock()
	if !ok {
		return false, errors.NotFoundf("notification %s", id)
	}
	if alreadyRead {
		return false, nil
	}

	if _, err := i.store.MarkAsRead(ctx, id, i.userID); err != nil {
		return false, errors.Annotatef(err, "marking notification %s read", id)
	}

	i.mu.Lock()
	n, ok = i.items[id]
	changed := ok && !n.IsRead
	if changed {
		now := i.clock.Now().UTC()
		n.IsRead = true
		n.ReadAt = &now
	}
	i.mu.Unlock()

	if changed {
		i.changed()
	}
	return changed, nil
}

// UnreadCount counts unread notifications that have not expired.
func (i *Inbox) UnreadCount() int {
	now := i.clock.Now()

	i.mu.Lock()
	defer i.mu.Unlock()
	count := 0
	for _, n := range i.items {
		if !n.IsRead && !n.Expired(now) {
			count++
		}
	}
	return count
}

// Items returns the unexpired notifications, newest first.
func (i *Inbox) Items() []models.Notification {
	now := i.clock.Now()

	i.mu.Lock()
	out := make([]models.Notification, 0, len(i.items))
	for _, n := range i.items {
		if !n.Expired(now) {
			out = append(out, *n)
		}
	}
	i.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

func (i *Inbox) changed() {
	if i.onChange != nil {
		i.onChange()
	}
}

func notificationFromRow(row map[string]interface{}) (*models.Notification, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Annotate(err, "decoding notification row")
	}
	if n.ID == uuid.Nil {
		return nil, errors.NotValidf("notification row without id")
	}
	return &n, nil
}
