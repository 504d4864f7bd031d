// Package realtime fans the signed-in user's row changes out to the page's
// in-process listeners and mirrors their notifications.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/loggo"

	"academia-backend/internal/changestream"
	"academia-backend/internal/events"
	"academia-backend/internal/metrics"
	"academia-backend/internal/models"
)

var logger = loggo.GetLogger("academia.realtime")

type State int

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Toaster shows a transient message to the user.
type Toaster interface {
	Toast(models.Toast)
}

type ToasterFunc func(models.Toast)

func (f ToasterFunc) Toast(t models.Toast) { f(t) }

// Router keeps at most one live change channel and republishes every
// change it receives on the bus. Channel failures are logged and end the
// subscription; nothing is retried until Setup is called again.
type Router struct {
	stream  changestream.Stream
	bus     *events.Bus
	toaster Toaster
	metrics *metrics.Metrics

	// setupMu serialises Setup and Teardown.
	setupMu sync.Mutex

	mu      sync.Mutex
	current *subscription
}

type subscription struct {
	userID  uuid.UUID
	channel changestream.Channel
	done    chan struct{}
}

// NewRouter returns an unsubscribed router. toaster and m may be nil.
func NewRouter(stream changestream.Stream, bus *events.Bus, toaster Toaster, m *metrics.Metrics) *Router {
	return &Router{
		stream:  stream,
		bus:     bus,
		toaster: toaster,
		metrics: m,
	}
}

// Setup subscribes to userID's changes. Any existing channel is released
// first. A nil userID leaves the router unsubscribed.
func (r *Router) Setup(ctx context.Context, userID uuid.UUID) {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	r.teardown()
	if userID == uuid.Nil {
		return
	}

	ch, err := r.stream.Subscribe(ctx, changestream.Filter{
		UserID:        userID,
		Subscriptions: DefaultSubscriptions,
	})
	if err != nil {
		logger.Errorf("user %s: cannot subscribe to changes: %v", userID, err)
		r.metrics.ObserveChannelError()
		return
	}

	sub := &subscription{
		userID:  userID,
		channel: ch,
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.current = sub
	r.mu.Unlock()
	r.metrics.SubscriptionOpened()

	go r.deliver(sub)
	logger.Debugf("user %s: change subscription established", userID)
}

// Teardown releases the live channel, if any, and waits for its delivery
// loop to finish.
func (r *Router) Teardown() {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()
	r.teardown()
}

func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Unsubscribed
	}
	return Subscribed
}

func (r *Router) teardown() {
	r.mu.Lock()
	sub := r.current
	r.current = nil
	r.mu.Unlock()
	if sub == nil {
		return
	}

	if err := sub.channel.Close(); err != nil {
		logger.Warningf("user %s: closing change channel: %v", sub.userID, err)
	}
	<-sub.done
	r.metrics.SubscriptionClosed()
	logger.Debugf("user %s: change subscription released", sub.userID)
}

func (r *Router) deliver(sub *subscription) {
	defer close(sub.done)

	for ch := range sub.channel.Changes() {
		r.dispatch(ch)
	}

	err := sub.channel.Err()

	r.mu.Lock()
	stale := r.current != sub
	if !stale {
		r.current = nil
	}
	r.mu.Unlock()
	if stale {
		// Torn down on purpose.
		return
	}

	r.metrics.SubscriptionClosed()
	r.metrics.ObserveChannelError()
	if err != nil {
		logger.Errorf("user %s: change channel failed, realtime updates stopped: %v", sub.userID, err)
	} else {
		logger.Warningf("user %s: change channel closed unexpectedly, realtime updates stopped", sub.userID)
	}
}

func (r *Router) dispatch(ch models.ChangeEvent) {
	ev, toast, ok := Translate(ch)
	if !ok {
		logger.Debugf("ignoring change on unknown table %q", ch.Table)
		return
	}

	if _, err := r.bus.Publish(ev); err != nil {
		logger.Warningf("dropping %s event: %v", ev.Kind, err)
		return
	}
	r.metrics.ObserveEvent(string(ev.Kind))

	if toast != nil && r.toaster != nil {
		r.toaster.Toast(*toast)
		r.metrics.ObserveToast()
	}
}
