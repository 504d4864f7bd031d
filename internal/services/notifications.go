package services

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"
)

var logger = loggo.GetLogger("academia.services")

const (
	notificationSweepInterval = 1 * time.Hour
	expiredNotificationGrace  = 7 * 24 * time.Hour
)

// ExpiredNotificationStore deletes notifications whose expiry is before
// cutoff and reports how many went.
type ExpiredNotificationStore interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationSweeper periodically removes notifications that expired more
// than a week ago. Expired notifications are already hidden from pages;
// this only reclaims the rows.
type NotificationSweeper struct {
	store ExpiredNotificationStore
	clock clock.Clock
	tomb  *tomb.Tomb
}

func NewNotificationSweeper(store ExpiredNotificationStore, clk clock.Clock) *NotificationSweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	return &NotificationSweeper{store: store, clock: clk}
}

func (s *NotificationSweeper) Start() {
	if s.store == nil || s.tomb != nil {
		return
	}
	s.tomb = &tomb.Tomb{}
	s.tomb.Go(s.loop)
	logger.Infof("notification sweeper started")
}

func (s *NotificationSweeper) Stop() {
	if s.tomb == nil {
		return
	}
	s.tomb.Kill(nil)
	if err := s.tomb.Wait(); err != nil {
		logger.Warningf("notification sweeper stopped with error: %v", err)
	}
}

func (s *NotificationSweeper) loop() error {
	ctx := s.tomb.Context(context.Background())

	// Run on startup as well as by interval.
	s.sweep(ctx)

	for {
		select {
		case <-s.tomb.Dying():
			return nil
		case <-s.clock.After(notificationSweepInterval):
			s.sweep(ctx)
		}
	}
}

func (s *NotificationSweeper) sweep(ctx context.Context) {
	cutoff := sweepCutoff(s.clock.Now())
	n, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		logger.Errorf("sweeping expired notifications: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("removed %d notifications expired before %s", n, cutoff.Format(time.RFC3339))
	}
}

func sweepCutoff(now time.Time) time.Time {
	return now.UTC().Add(-expiredNotificationGrace)
}
