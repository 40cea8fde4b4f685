package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ams_backend/internal/domain"
)

type ReadMarkerRepo struct {
	db *sql.DB
}

func NewReadMarkerRepo(db *sql.DB) *ReadMarkerRepo {
	return &ReadMarkerRepo{db: db}
}

var _ domain.ReadMarkerRepository = (*ReadMarkerRepo)(nil)

func (r *ReadMarkerRepo) GroupMarker(ctx context.Context, userID string) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_read_at FROM group_read_markers WHERE user_id = $1`, userID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get group marker: %w", err)
	}
	return at.UTC(), nil
}

func (r *ReadMarkerRepo) AdvanceGroupMarker(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_read_markers (user_id, last_read_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET last_read_at = GREATEST(group_read_markers.last_read_at, EXCLUDED.last_read_at)
	`, userID, at)
	if err != nil {
		return fmt.Errorf("advance group marker: %w", err)
	}
	return nil
}
