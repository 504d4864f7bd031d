package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"academia-backend/internal/changestream"
	"academia-backend/internal/models"
	"academia-backend/internal/tracker"
)

const studySessionColumns = `id, user_id, course_id, lesson_id, session_type, duration_minutes,
	started_at, last_active_at, ended_at, created_at`

// StudySessionRepo is the recording procedure behind the tracker.
type StudySessionRepo struct {
	pool      *pgxpool.Pool
	publisher changestream.Publisher
}

func NewStudySessionRepo(pool *pgxpool.Pool, publisher changestream.Publisher) *StudySessionRepo {
	if publisher == nil {
		publisher = changestream.NopPublisher{}
	}
	return &StudySessionRepo{pool: pool, publisher: publisher}
}

// RecordSession inserts a new session row and returns its id.
func (r *StudySessionRepo) RecordSession(ctx context.Context, rec tracker.Record) (uuid.UUID, error) {
	query := `
		INSERT INTO study_sessions (user_id, course_id, lesson_id, session_type, duration_minutes,
			started_at, last_active_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + studySessionColumns

	s, err := scanStudySession(r.pool.QueryRow(ctx, query,
		rec.UserID, rec.Resource.CourseID, rec.Resource.LessonID, sessionType(rec),
		rec.DurationMinutes, rec.StartedAt, rec.LastActiveAt, nullTime(rec.EndedAt),
	))
	if err != nil {
		return uuid.Nil, errors.Annotate(err, "inserting study session")
	}

	publish(ctx, r.publisher, models.TableStudySessions, models.OpInsert, s.UserID, s, nil)
	return s.ID, nil
}

// UpdateSession revises the duration and timestamps of a session owned by
// rec.UserID.
func (r *StudySessionRepo) UpdateSession(ctx context.Context, id uuid.UUID, rec tracker.Record) error {
	query := `
		UPDATE study_sessions
		SET duration_minutes = $3,
			last_active_at = $4,
			ended_at = $5
		WHERE id = $1
		  AND user_id = $2
		RETURNING ` + studySessionColumns

	s, err := scanStudySession(r.pool.QueryRow(ctx, query,
		id, rec.UserID, rec.DurationMinutes, rec.LastActiveAt, nullTime(rec.EndedAt),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFoundf("study session %s", id)
	}
	if err != nil {
		return errors.Annotatef(err, "updating study session %s", id)
	}

	publish(ctx, r.publisher, models.TableStudySessions, models.OpUpdate, s.UserID, s, nil)
	return nil
}

// ListByUser returns the user's sessions, newest first, optionally limited
// to one course.
func (r *StudySessionRepo) ListByUser(ctx context.Context, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*models.StudySession, error) {
	query := `
		SELECT ` + studySessionColumns + `
		FROM study_sessions
		WHERE user_id = $1
		  AND ($2::uuid IS NULL OR course_id = $2)
		ORDER BY started_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, courseID, limit)
	if err != nil {
		return nil, errors.Annotate(err, "listing study sessions")
	}
	defer rows.Close()

	var sessions []*models.StudySession
	for rows.Next() {
		s, err := scanStudySession(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		sessions = append(sessions, s)
	}
	return sessions, errors.Trace(rows.Err())
}

// SummaryByCourse totals the user's recorded minutes per course.
func (r *StudySessionRepo) SummaryByCourse(ctx context.Context, userID uuid.UUID) ([]models.CourseStudyTotal, error) {
	query := `
		SELECT course_id, COALESCE(SUM(duration_minutes), 0)::INT, COUNT(*)::INT
		FROM study_sessions
		WHERE user_id = $1
		GROUP BY course_id
		ORDER BY 2 DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Annotate(err, "summarising study sessions")
	}
	defer rows.Close()

	totals := []models.CourseStudyTotal{}
	for rows.Next() {
		var t models.CourseStudyTotal
		if err := rows.Scan(&t.CourseID, &t.TotalMinutes, &t.Sessions); err != nil {
			return nil, errors.Trace(err)
		}
		totals = append(totals, t)
	}
	return totals, errors.Trace(rows.Err())
}

func scanStudySession(row pgx.Row) (*models.StudySession, error) {
	s := &models.StudySession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.CourseID, &s.LessonID, &s.SessionType, &s.DurationMinutes,
		&s.StartedAt, &s.LastActiveAt, &s.EndedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func sessionType(rec tracker.Record) string {
	if rec.SessionType == "" {
		return models.DefaultSessionType
	}
	return rec.SessionType
}
