package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/loggo"

	"academia-backend/internal/changestream"
	"academia-backend/internal/models"
)

var logger = loggo.GetLogger("academia.repository")

// publish announces a committed change. Failures only cost the realtime
// update, so they are logged rather than returned.
func publish(ctx context.Context, p changestream.Publisher, table models.Table, op models.Operation, userID uuid.UUID, newRow, oldRow interface{}) {
	ev := models.ChangeEvent{
		Table:     table,
		Operation: op,
		UserID:    userID,
	}
	if newRow != nil {
		ev.New = changestream.RowOf(newRow)
	}
	if oldRow != nil {
		ev.Old = changestream.RowOf(oldRow)
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warningf("publishing %s %s for user %s: %v", table, op, userID, err)
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
