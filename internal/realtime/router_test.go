package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"academia-backend/internal/changestream"
	"academia-backend/internal/events"
	"academia-backend/internal/models"
)

type fakeChannel struct {
	changes chan models.ChangeEvent

	mu     sync.Mutex
	closed bool
	err    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{changes: make(chan models.ChangeEvent)}
}

func (c *fakeChannel) Changes() <-chan models.ChangeEvent { return c.changes }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.end(nil)
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.changes)
}

func (c *fakeChannel) send(ev models.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.changes <- ev
	}
}

type fakeStream struct {
	mu       sync.Mutex
	filters  []changestream.Filter
	channels []*fakeChannel
	err      error
}

func (s *fakeStream) Subscribe(ctx context.Context, filter changestream.Filter) (changestream.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := newFakeChannel()
	s.filters = append(s.filters, filter)
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *fakeStream) channel(i int) *fakeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[i]
}

func (s *fakeStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func newTestRouter(t *testing.T) (*Router, *fakeStream, *events.Bus, chan models.Toast) {
	t.Helper()
	stream := &fakeStream{}
	bus := events.NewBus()
	toasts := make(chan models.Toast, 8)
	r := NewRouter(stream, bus, ToasterFunc(func(toast models.Toast) { toasts <- toast }), nil)
	t.Cleanup(func() {
		r.Teardown()
		bus.Close()
	})
	return r, stream, bus, toasts
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return events.Event{}
}

func TestSetupKeepsASingleLiveChannel(t *testing.T) {
	r, stream, _, _ := newTestRouter(t)
	ctx := context.Background()
	userID := uuid.New()

	r.Setup(ctx, userID)
	r.Setup(ctx, userID)

	if n := stream.count(); n != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", n)
	}
	if !stream.channel(0).isClosed() {
		t.Fatalf("expected the first channel to be released before the second was created")
	}
	if stream.channel(1).isClosed() {
		t.Fatalf("expected the second channel to be live")
	}
	if r.State() != Subscribed {
		t.Fatalf("expected subscribed, got %s", r.State())
	}

	filter := stream.filters[1]
	if filter.UserID != userID {
		t.Fatalf("expected filter for %s, got %s", userID, filter.UserID)
	}
	if len(filter.Subscriptions) != len(DefaultSubscriptions) {
		t.Fatalf("expected the default subscription set, got %d entries", len(filter.Subscriptions))
	}

	r.Teardown()
	r.Teardown()
	if !stream.channel(1).isClosed() {
		t.Fatalf("expected teardown to release the channel")
	}
	if r.State() != Unsubscribed {
		t.Fatalf("expected unsubscribed, got %s", r.State())
	}
}

func TestSetupWithoutUserOnlyTearsDown(t *testing.T) {
	r, stream, _, _ := newTestRouter(t)
	ctx := context.Background()

	r.Setup(ctx, uuid.New())
	r.Setup(ctx, uuid.Nil)

	if n := stream.count(); n != 1 {
		t.Fatalf("expected 1 subscription, got %d", n)
	}
	if !stream.channel(0).isClosed() {
		t.Fatalf("expected the channel to be released")
	}
	if r.State() != Unsubscribed {
		t.Fatalf("expected unsubscribed, got %s", r.State())
	}
}

func TestSetupFailureLeavesRouterUnsubscribed(t *testing.T) {
	r, stream, _, _ := newTestRouter(t)
	stream.err = errors.New("too many connections")

	r.Setup(context.Background(), uuid.New())
	if r.State() != Unsubscribed {
		t.Fatalf("expected unsubscribed, got %s", r.State())
	}
}

func TestAchievementFansOutWithToast(t *testing.T) {
	r, stream, bus, toasts := newTestRouter(t)
	userID := uuid.New()

	achievements := make(chan events.Event, 4)
	bookmarks := make(chan events.Event, 4)
	if _, err := bus.Subscribe(events.AchievementUpdate, func(ev events.Event) { achievements <- ev }); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Subscribe(events.BookmarkUpdate, func(ev events.Event) { bookmarks <- ev }); err != nil {
		t.Fatal(err)
	}

	r.Setup(context.Background(), userID)
	ch := stream.channel(0)

	row := map[string]interface{}{"id": uuid.New().String(), "title": "Week streak"}
	ch.send(models.ChangeEvent{Table: models.TableUserAchievements, Operation: models.OpInsert, UserID: userID, New: row})

	ev := waitEvent(t, achievements)
	if ev.Kind != events.AchievementUpdate || ev.Detail.Type != "INSERT" || ev.Detail.Data["title"] != "Week streak" {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case toast := <-toasts:
		if toast.Title != "Achievement unlocked!" {
			t.Fatalf("unexpected toast %+v", toast)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected an achievement toast")
	}

	ch.send(models.ChangeEvent{Table: models.TableCourseBookmarks, Operation: models.OpUpdate, UserID: userID, New: map[string]interface{}{"id": "b1"}})
	if ev := waitEvent(t, bookmarks); ev.Detail.Type != "UPDATE" {
		t.Fatalf("unexpected bookmark event %+v", ev)
	}

	// The bookmark change was delivered after the achievement, so anything
	// extra would already be queued.
	select {
	case ev := <-achievements:
		t.Fatalf("unexpected second achievement event %+v", ev)
	case toast := <-toasts:
		t.Fatalf("unexpected toast %+v", toast)
	default:
	}
}

func TestChannelErrorReturnsToUnsubscribed(t *testing.T) {
	r, stream, _, _ := newTestRouter(t)

	r.Setup(context.Background(), uuid.New())
	stream.channel(0).end(errors.New("connection lost"))

	deadline := time.After(5 * time.Second)
	for r.State() != Unsubscribed {
		select {
		case <-deadline:
			t.Fatalf("router never left the subscribed state")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if n := stream.count(); n != 1 {
		t.Fatalf("expected no resubscription, got %d subscriptions", n)
	}
}
