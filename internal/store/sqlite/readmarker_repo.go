package sqlite

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
	var ms int64
	err := r.db.QueryRowContext(ctx, `
		SELECT last_read_at FROM group_read_markers WHERE user_id = ?
	`, userID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get group marker: %w", err)
	}
	return fromMillis(ms), nil
}

func (r *ReadMarkerRepo) AdvanceGroupMarker(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_read_markers (user_id, last_read_at)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET last_read_at = MAX(group_read_markers.last_read_at, excluded.last_read_at)
	`, userID, toMillis(at))
	if err != nil {
		return fmt.Errorf("advance group marker: %w", err)
	}
	return nil
}
