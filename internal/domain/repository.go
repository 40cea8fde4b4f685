package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetMany resolves a batch of ids in one round trip; unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) ([]*User, error)
	ListByRole(ctx context.Context, role Role) ([]*User, error)
	List(ctx context.Context, offset, limit int) ([]*User, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	CreateMany(ctx context.Context, ms []*Message) error

	// LatestGroup returns ErrNotFound when the group channel is empty.
	LatestGroup(ctx context.Context) (*Message, error)
	// ListGroup returns the newest limit group messages, oldest first.
	ListGroup(ctx context.Context, limit int) ([]*Message, error)
	// CountGroupAfter counts group messages newer than after that were not
	// sent by userID. A zero after counts everything.
	CountGroupAfter(ctx context.Context, userID string, after time.Time) (int, error)

	// ThreadHeads groups userID's non-group messages by counterpart. Broadcast
	// copies sent by userID are excluded.
	ThreadHeads(ctx context.Context, userID string) ([]ThreadHead, error)
	// ListThread returns messages exchanged between the two users, oldest
	// first. Broadcast copies are included only when includeBroadcasts is set.
	ListThread(ctx context.Context, userID, counterpartID string, includeBroadcasts bool) ([]*Message, error)
	// ListBroadcastsTo returns broadcast copies addressed to userID, oldest first.
	ListBroadcastsTo(ctx context.Context, userID string) ([]*Message, error)

	// MarkThreadRead flips read=false→true for messages from senderID to
	// receiverID and reports how many changed.
	MarkThreadRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

// ReadMarkerRepository stores the per-user group read watermark.
type ReadMarkerRepository interface {
	// GroupMarker returns the zero time when the user never read the group.
	GroupMarker(ctx context.Context, userID string) (time.Time, error)
	// AdvanceGroupMarker moves the marker forward to at; older values are ignored.
	AdvanceGroupMarker(ctx context.Context, userID string, at time.Time) error
}
