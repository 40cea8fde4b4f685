package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ams_backend/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, sender_id, receiver_id, kind, body, created_at, is_read`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return r.insert(ctx, r.db, m)
}

// CreateMany inserts all messages in one transaction; either every copy of a
// broadcast lands or none does.
func (r *MessageRepo) CreateMany(ctx context.Context, ms []*domain.Message) error {
	if len(ms) == 0 {
		return nil
	}
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range ms {
		if err := r.insert(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *MessageRepo) insert(ctx context.Context, db execer, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, kind, body, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SenderID, nullable(m.ReceiverID), string(m.Kind), m.Body, toMillis(m.CreatedAt), m.Read)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) LatestGroup(ctx context.Context) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE kind = 'group'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest group message: %w", err)
	}
	return m, nil
}

// ListGroup returns the newest limit group messages in chronological order.
// A non-positive limit returns the whole channel.
func (r *MessageRepo) ListGroup(ctx context.Context, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = 'group'
		ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order (DB returns DESC)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) CountGroupAfter(ctx context.Context, userID string, after time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE kind = 'group' AND sender_id <> ? AND created_at > ?
	`, userID, toMillis(after)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count group messages: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) ThreadHeads(ctx context.Context, userID string) ([]domain.ThreadHead, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH thread AS (
			SELECT `+messageColumns+`,
			       CASE WHEN sender_id = ?1 THEN receiver_id ELSE sender_id END AS counterpart_id
			FROM messages
			WHERE kind <> 'group'
			  AND (receiver_id = ?1 OR (sender_id = ?1 AND kind = 'direct'))
		), ranked AS (
			SELECT thread.*,
			       ROW_NUMBER() OVER (PARTITION BY counterpart_id ORDER BY created_at DESC, id DESC) AS rn,
			       SUM(CASE WHEN receiver_id = ?1 AND is_read = FALSE THEN 1 ELSE 0 END)
			           OVER (PARTITION BY counterpart_id) AS unread
			FROM thread
		)
		SELECT `+messageColumns+`, counterpart_id, unread
		FROM ranked
		WHERE rn = 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("thread heads: %w", err)
	}
	defer rows.Close()

	var heads []domain.ThreadHead
	for rows.Next() {
		var (
			h        domain.ThreadHead
			receiver sql.NullString
			kind     string
			created  int64
			m        domain.Message
		)
		if err := rows.Scan(
			&m.ID, &m.SenderID, &receiver, &kind, &m.Body, &created, &m.Read,
			&h.CounterpartID, &h.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan thread head: %w", err)
		}
		m.ReceiverID = receiver.String
		m.Kind = domain.MessageKind(kind)
		m.CreatedAt = fromMillis(created)
		h.Last = &m
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

func (r *MessageRepo) ListThread(ctx context.Context, userID, counterpartID string, includeBroadcasts bool) ([]*domain.Message, error) {
	kinds := `kind = 'direct'`
	if includeBroadcasts {
		kinds = `kind IN ('direct', 'broadcast')`
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+kinds+`
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY created_at ASC, id ASC
	`, userID, counterpartID, counterpartID, userID)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) ListBroadcastsTo(ctx context.Context, userID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE kind = 'broadcast' AND receiver_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) MarkThreadRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE receiver_id = ? AND sender_id = ? AND is_read = FALSE AND kind <> 'group'
	`, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	return res.RowsAffected()
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m        domain.Message
		receiver sql.NullString
		kind     string
		created  int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &receiver, &kind, &m.Body, &created, &m.Read); err != nil {
		return nil, err
	}
	m.ReceiverID = receiver.String
	m.Kind = domain.MessageKind(kind)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	res := []*domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
