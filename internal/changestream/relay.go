package changestream

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"academia-backend/internal/models"
)

// RelayChannel is the shared LISTEN channel on which notify_user_change
// announces every change, whoever the owner.
const RelayChannel = "user_changes"

// Relay forwards database-emitted changes for selected tables to a
// Publisher. In Redis mode it carries the changes of tables written
// outside this service, which no repository publishes itself.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	tables    map[models.Table]bool
	started   bool
	tomb      tomb.Tomb
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher, tables ...models.Table) *Relay {
	set := make(map[models.Table]bool, len(tables))
	for _, table := range tables {
		set[table] = true
	}
	return &Relay{pool: pool, publisher: publisher, tables: set}
}

// Start takes a dedicated connection and begins relaying. The relay is not
// restarted if that connection fails; the failure is logged and returned
// by Stop.
func (r *Relay) Start(ctx context.Context) error {
	pooled, err := r.pool.Acquire(ctx)
	if err != nil {
		return errors.Annotate(err, "acquiring relay connection")
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{RelayChannel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return errors.Annotatef(err, "listening on %s", RelayChannel)
	}

	r.started = true
	r.tomb.Go(func() error {
		defer conn.Close(context.Background())

		ctx := r.tomb.Context(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				select {
				case <-r.tomb.Dying():
					return tomb.ErrDying
				default:
				}
				logger.Errorf("change relay stopped: %v", err)
				return errors.Trace(err)
			}
			if err := r.forward(ctx, []byte(n.Payload)); err != nil {
				logger.Warningf("relaying change: %v", err)
			}
		}
	})
	logger.Infof("relaying %d tables from %s", len(r.tables), RelayChannel)
	return nil
}

func (r *Relay) Stop() error {
	if !r.started {
		return nil
	}
	r.tomb.Kill(nil)
	return r.tomb.Wait()
}

// forward publishes payload if its table is relayed.
func (r *Relay) forward(ctx context.Context, payload []byte) error {
	ev, err := decodeChange(payload)
	if err != nil {
		return errors.Trace(err)
	}
	if !r.tables[ev.Table] {
		return nil
	}
	return errors.Trace(r.publisher.Publish(ctx, ev))
}
