package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account type of a user.
type Role string

const (
	RoleStudent Role = "Student"
	RoleTeacher Role = "Teacher"
)

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent, nil
	case "teacher":
		return RoleTeacher, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// User represents an application user.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identity is the resolved caller of a request.
type Identity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Role: u.Role, DisplayName: u.Name}
}

// MessageKind tags the delivery mode of a message.
type MessageKind string

const (
	KindDirect    MessageKind = "direct"
	KindBroadcast MessageKind = "broadcast"
	KindGroup     MessageKind = "group"
)

// GroupCounterpart is the counterpart id used for the shared group channel.
const GroupCounterpart = "group"

// Message is a single persisted chat message. Broadcasts are stored as one
// record per recipient; group messages have no receiver.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender"`
	ReceiverID string      `json:"receiver,omitempty"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"message"`
	CreatedAt  time.Time   `json:"timestamp"`
	Read       bool        `json:"read"`
}

func NewDirect(sender, receiver, body string, at time.Time) *Message {
	return &Message{SenderID: sender, ReceiverID: receiver, Kind: KindDirect, Body: body, CreatedAt: at}
}

func NewBroadcast(sender, receiver, body string, at time.Time) *Message {
	return &Message{SenderID: sender, ReceiverID: receiver, Kind: KindBroadcast, Body: body, CreatedAt: at}
}

func NewGroup(sender, body string, at time.Time) *Message {
	return &Message{SenderID: sender, Kind: KindGroup, Body: body, CreatedAt: at}
}

// Validate checks kind against receiver: group messages carry no receiver,
// direct and broadcast copies always do.
func (m *Message) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidInput)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: message body cannot be empty", ErrInvalidInput)
	}
	switch m.Kind {
	case KindGroup:
		if m.ReceiverID != "" {
			return fmt.Errorf("%w: group message cannot have a receiver", ErrInvalidInput)
		}
	case KindDirect, KindBroadcast:
		if m.ReceiverID == "" {
			return fmt.Errorf("%w: %s message requires a receiver", ErrInvalidInput, m.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", ErrInvalidInput, m.Kind)
	}
	return nil
}

// KindFromFlags maps the legacy isBroadcast/isGroupChat document flags onto
// a MessageKind, rejecting the combinations that cannot be represented.
func KindFromFlags(isBroadcast, isGroupChat bool, hasReceiver bool) (MessageKind, error) {
	switch {
	case isBroadcast && isGroupChat:
		return "", fmt.Errorf("%w: message is both broadcast and group", ErrInvalidInput)
	case isGroupChat:
		if hasReceiver {
			return "", fmt.Errorf("%w: group message with receiver", ErrInvalidInput)
		}
		return KindGroup, nil
	case !hasReceiver:
		return "", fmt.Errorf("%w: direct message without receiver", ErrInvalidInput)
	case isBroadcast:
		return KindBroadcast, nil
	}
	return KindDirect, nil
}

// Flags is the inverse of KindFromFlags.
func (k MessageKind) Flags() (isBroadcast, isGroupChat bool) {
	return k == KindBroadcast, k == KindGroup
}

// ThreadHead is the per-counterpart aggregate the message store computes for
// one user: the newest message exchanged and the number still unread.
type ThreadHead struct {
	CounterpartID string
	Last          *Message
	UnreadCount   int
}

// ConversationSummary is one entry of a user's conversation list.
type ConversationSummary struct {
	CounterpartID   string    `json:"counterpartId"`
	DisplayName     string    `json:"displayName"`
	IsGroup         bool      `json:"isGroup"`
	LastMessageBody string    `json:"lastMessageBody"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	LastSenderID    string    `json:"lastSenderId,omitempty"`
	UnreadCount     int       `json:"unreadCount"`
}

// UnreadSummary is the flattened unread view keyed by counterpart.
type UnreadSummary struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}
