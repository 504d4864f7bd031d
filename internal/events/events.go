// Package events is the in-process event bus that decouples the change
// router from the listeners that react to user data changes.
package events

import (
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
)

var logger = loggo.GetLogger("academia.events")

// Kind is the closed set of event names shared by publishers and listeners.
type Kind string

const (
	StudySessionUpdate Kind = "studySessionUpdate"
	EnrollmentUpdate   Kind = "enrollmentUpdate"
	AchievementUpdate  Kind = "achievementUpdate"
	BookmarkUpdate     Kind = "bookmarkUpdate"
	CertificateUpdate  Kind = "certificateUpdate"
	NotificationUpdate Kind = "notificationUpdate"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{
	StudySessionUpdate,
	EnrollmentUpdate,
	AchievementUpdate,
	BookmarkUpdate,
	CertificateUpdate,
	NotificationUpdate,
}

func (k Kind) Validate() error {
	switch k {
	case StudySessionUpdate, EnrollmentUpdate, AchievementUpdate,
		BookmarkUpdate, CertificateUpdate, NotificationUpdate:
		return nil
	}
	return errors.NotValidf("event kind %q", string(k))
}

// Detail is the payload carried by every event: the change operation and
// the affected row.
type Detail struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type Event struct {
	Kind   Kind   `json:"name"`
	Detail Detail `json:"detail"`
}

// Bus fans events out to subscribers. Each subscriber receives events in
// publish order on its own goroutine. A Bus belongs to one page connection
// and must be closed when that connection goes away.
type Bus struct {
	hub *pubsub.SimpleHub

	mu     sync.Mutex
	closed bool
	nextID int
	unsubs map[int]func()
}

func NewBus() *Bus {
	return &Bus{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: logger,
		}),
		unsubs: make(map[int]func()),
	}
}

// Publish hands the event to every subscriber of its kind. The returned
// func blocks until all of them have been called.
func (b *Bus) Publish(ev Event) (func(), error) {
	if err := ev.Kind.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("event bus closed")
	}
	return b.hub.Publish(string(ev.Kind), ev), nil
}

// Subscribe registers handler for events of the given kind and returns a
// func that removes the subscription.
func (b *Bus) Subscribe(kind Kind, handler func(Event)) (func(), error) {
	if err := kind.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("event bus closed")
	}

	unsub := b.hub.Subscribe(string(kind), func(_ string, data interface{}) {
		ev, ok := data.(Event)
		if !ok {
			logger.Criticalf("programming error: bus data expected Event, got %T", data)
			return
		}
		handler(ev)
	})

	id := b.nextID
	b.nextID++
	b.unsubs[id] = unsub

	return func() {
		b.mu.Lock()
		fn, ok := b.unsubs[id]
		delete(b.unsubs, id)
		b.mu.Unlock()
		if ok {
			fn()
		}
	}, nil
}

// SubscribeAll registers handler for every kind. The returned func removes
// all of the subscriptions.
func (b *Bus) SubscribeAll(handler func(Event)) (func(), error) {
	unsubs := make([]func(), 0, len(Kinds))
	unsubAll := func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
	for _, kind := range Kinds {
		unsub, err := b.Subscribe(kind, handler)
		if err != nil {
			unsubAll()
			return nil, errors.Trace(err)
		}
		unsubs = append(unsubs, unsub)
	}
	return unsubAll, nil
}

// Close removes every subscription. Publishing or subscribing afterwards
// fails.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
