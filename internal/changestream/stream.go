// Package changestream delivers row-level changes for a single user from
// the database (LISTEN/NOTIFY) or from Redis pub/sub.
package changestream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"academia-backend/internal/models"
)

var logger = loggo.GetLogger("academia.changestream")

// Subscription selects the operations of one table. No operations means
// all of them.
type Subscription struct {
	Table      models.Table
	Operations []models.Operation
}

type Filter struct {
	UserID        uuid.UUID
	Subscriptions []Subscription
}

// Matches reports whether ev belongs to the filtered user and to one of the
// subscribed table/operation pairs.
func (f Filter) Matches(ev models.ChangeEvent) bool {
	if ev.UserID != uuid.Nil && ev.UserID != f.UserID {
		return false
	}
	for _, sub := range f.Subscriptions {
		if sub.Table != ev.Table {
			continue
		}
		if len(sub.Operations) == 0 {
			return true
		}
		for _, op := range sub.Operations {
			if op == ev.Operation {
				return true
			}
		}
	}
	return false
}

func (f Filter) Validate() error {
	if f.UserID == uuid.Nil {
		return errors.NotValidf("filter without user")
	}
	if len(f.Subscriptions) == 0 {
		return errors.NotValidf("filter without subscriptions")
	}
	return nil
}

// Stream opens change channels.
type Stream interface {
	Subscribe(ctx context.Context, filter Filter) (Channel, error)
}

// Channel is one live subscription. Changes is closed when the channel
// stops. Err blocks until then and reports why; it is nil after Close.
type Channel interface {
	Changes() <-chan models.ChangeEvent
	Err() error
	Close() error
}

// Publisher pushes a change to the owning user's channel. It is used where
// the database does not emit notifications itself.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// NopPublisher drops every change.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.ChangeEvent) error { return nil }

// PostgresChannelName is the LISTEN channel carrying userID's changes.
// It must match the name built by the notify_user_change trigger.
func PostgresChannelName(userID uuid.UUID) string {
	return "user_changes_" + strings.ReplaceAll(userID.String(), "-", "")
}

// RedisChannelName is the pub/sub channel carrying userID's changes.
func RedisChannelName(userID uuid.UUID) string {
	return "user_changes:" + userID.String()
}

// RowOf converts a model into the row map carried by a ChangeEvent.
func RowOf(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var row map[string]interface{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil
	}
	return row
}

func decodeChange(payload []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, errors.Annotate(err, "decoding change payload")
	}
	if ev.Table == "" || ev.Operation == "" {
		return ev, errors.NotValidf("change payload without table or operation")
	}
	return ev, nil
}

// channel is the Channel shared by the stream implementations: a tomb
// governed reader goroutine feeding an unbuffered changes channel.
type channel struct {
	tomb    tomb.Tomb
	changes chan models.ChangeEvent
}

func newChannel() *channel {
	return &channel{changes: make(chan models.ChangeEvent)}
}

// run starts the reader. next blocks for the next raw payload and returns
// an error when the source fails.
func (c *channel) run(filter Filter, next func(ctx context.Context) ([]byte, error), release func()) {
	c.tomb.Go(func() error {
		defer close(c.changes)
		defer release()

		ctx := c.tomb.Context(context.Background())
		for {
			payload, err := next(ctx)
			if err != nil {
				select {
				case <-c.tomb.Dying():
					return tomb.ErrDying
				default:
				}
				return errors.Trace(err)
			}

			ev, err := decodeChange(payload)
			if err != nil {
				logger.Warningf("user %s: dropping change: %v", filter.UserID, err)
				continue
			}
			if !filter.Matches(ev) {
				continue
			}

			select {
			case c.changes <- ev:
			case <-c.tomb.Dying():
				return tomb.ErrDying
			}
		}
	})
}

func (c *channel) Changes() <-chan models.ChangeEvent {
	return c.changes
}

func (c *channel) Err() error {
	return c.tomb.Wait()
}

func (c *channel) Close() error {
	c.tomb.Kill(nil)
	return c.tomb.Wait()
}
