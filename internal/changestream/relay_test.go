package changestream

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"academia-backend/internal/models"
)

type recordingPublisher struct {
	published []models.ChangeEvent
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev)
	return nil
}

func TestRelayForwardsSelectedTables(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRelay(nil, pub, models.TableCertificates, models.TableUserAchievements)
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name    string
		payload models.ChangeEvent
		relayed bool
	}{
		{"certificate", models.ChangeEvent{Table: models.TableCertificates, Operation: models.OpInsert, UserID: userID}, true},
		{"achievement", models.ChangeEvent{Table: models.TableUserAchievements, Operation: models.OpInsert, UserID: userID}, true},
		{"published by its repository", models.ChangeEvent{Table: models.TableStudySessions, Operation: models.OpUpdate, UserID: userID}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(pub.published)
			if err := r.forward(ctx, mustPayload(t, tt.payload)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			relayed := len(pub.published) > before
			if relayed != tt.relayed {
				t.Fatalf("relayed = %v, want %v", relayed, tt.relayed)
			}
			if relayed && pub.published[before].UserID != userID {
				t.Fatalf("relayed change lost its owner: %+v", pub.published[before])
			}
		})
	}
}

func TestRelayReportsBadPayloadsAndPublishFailures(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRelay(nil, pub, models.TableCertificates)
	ctx := context.Background()

	if err := r.forward(ctx, []byte("not json")); err == nil {
		t.Fatalf("expected an error for an undecodable payload")
	}

	pub.err = errors.New("redis down")
	payload := mustPayload(t, models.ChangeEvent{Table: models.TableCertificates, Operation: models.OpInsert, UserID: uuid.New()})
	if err := r.forward(ctx, payload); err == nil {
		t.Fatalf("expected the publish failure to be reported")
	}
}
