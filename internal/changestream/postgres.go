package changestream

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

// PostgresStream listens for the notifications emitted by the
// notify_user_change trigger. Each channel holds one dedicated connection,
// taken out of the pool for the lifetime of the subscription.
type PostgresStream struct {
	pool *pgxpool.Pool
}

func NewPostgresStream(pool *pgxpool.Pool) *PostgresStream {
	return &PostgresStream{pool: pool}
}

func (s *PostgresStream) Subscribe(ctx context.Context, filter Filter) (Channel, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "acquiring listen connection")
	}
	conn := pooled.Hijack()

	name := pgx.Identifier{PostgresChannelName(filter.UserID)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+name); err != nil {
		conn.Close(context.Background())
		return nil, errors.Annotatef(err, "listening on %s", name)
	}

	ch := newChannel()
	ch.run(filter,
		func(ctx context.Context) ([]byte, error) {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				return nil, err
			}
			return []byte(n.Payload), nil
		},
		func() {
			conn.Close(context.Background())
		},
	)
	logger.Debugf("user %s: listening on %s", filter.UserID, name)
	return ch, nil
}
