package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"ams_backend/internal/domain"
	"ams_backend/internal/events"
	"ams_backend/internal/metrics"
)

const MaxMessageLength = 5000

// MessageService validates and persists outgoing messages.
type MessageService struct {
	messages domain.MessageRepository
	users    domain.UserRepository
	codec    BodyCodec
	pub      events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger

	broadcasterRole domain.Role
	audienceRole    domain.Role
	now             func() time.Time
}

type MessageOptions struct {
	BroadcasterRole domain.Role
	AudienceRole    domain.Role
}

func NewMessageService(
	messages domain.MessageRepository,
	users domain.UserRepository,
	codec BodyCodec,
	pub events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
	opts MessageOptions,
) *MessageService {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BroadcasterRole == "" {
		opts.BroadcasterRole = domain.RoleTeacher
	}
	if opts.AudienceRole == "" {
		opts.AudienceRole = domain.RoleStudent
	}
	return &MessageService{
		messages:        messages,
		users:           users,
		codec:           codec,
		pub:             pub,
		metrics:         m,
		log:             log,
		broadcasterRole: opts.BroadcasterRole,
		audienceRole:    opts.AudienceRole,
		now:             time.Now,
	}
}

// SetClock replaces the server clock.
func (s *MessageService) SetClock(now func() time.Time) { s.now = now }

// SendInput mirrors the legacy request body.
type SendInput struct {
	ReceiverID  string `json:"receiver"`
	Body        string `json:"message"`
	IsBroadcast bool   `json:"isBroadcast"`
	IsGroupChat bool   `json:"isGroupChat"`
}

type SendResult struct {
	Kind       domain.MessageKind `json:"kind"`
	Message    *domain.Message    `json:"message"`
	Recipients int                `json:"recipients"`
}

func (in SendInput) kind(senderID string) (domain.MessageKind, error) {
	receiver := strings.TrimSpace(in.ReceiverID)
	switch {
	case in.IsBroadcast && in.IsGroupChat:
		return "", fmt.Errorf("%w: a message cannot be both broadcast and group", domain.ErrInvalidInput)
	case in.IsGroupChat:
		if receiver != "" {
			return "", fmt.Errorf("%w: group messages have no receiver", domain.ErrInvalidInput)
		}
		return domain.KindGroup, nil
	case in.IsBroadcast:
		if receiver != "" {
			return "", fmt.Errorf("%w: broadcasts are addressed by role, not receiver", domain.ErrInvalidInput)
		}
		return domain.KindBroadcast, nil
	case receiver == "":
		return "", fmt.Errorf("%w: receiver is required", domain.ErrInvalidInput)
	case receiver == senderID:
		return "", fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidInput)
	}
	return domain.KindDirect, nil
}

// Send persists a direct, broadcast or group message. Input is validated in
// full before the first write.
func (s *MessageService) Send(ctx context.Context, sender *domain.User, in SendInput) (*SendResult, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: message body cannot be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidInput, MaxMessageLength)
	}
	kind, err := in.kind(sender.ID)
	if err != nil {
		return nil, err
	}

	sealed, err := seal(s.codec, body)
	if err != nil {
		return nil, err
	}
	now := clockNow(s.now)

	var (
		created    []*domain.Message
		recipients []string
	)
	switch kind {
	case domain.KindDirect:
		receiverID := strings.TrimSpace(in.ReceiverID)
		if _, err := s.users.GetByID(ctx, receiverID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: receiver not found", domain.ErrNotFound)
			}
			return nil, fmt.Errorf("resolve receiver: %w", err)
		}
		m := domain.NewDirect(sender.ID, receiverID, sealed, now)
		if err := s.messages.Create(ctx, m); err != nil {
			return nil, err
		}
		created = []*domain.Message{m}
		recipients = []string{sender.ID, receiverID}

	case domain.KindBroadcast:
		if sender.Role != s.broadcasterRole {
			return nil, fmt.Errorf("%w: only %s accounts can broadcast", domain.ErrForbidden, s.broadcasterRole)
		}
		audience, err := s.users.ListByRole(ctx, s.audienceRole)
		if err != nil {
			return nil, fmt.Errorf("resolve broadcast audience: %w", err)
		}
		for _, u := range audience {
			if u.ID == sender.ID {
				continue
			}
			created = append(created, domain.NewBroadcast(sender.ID, u.ID, sealed, now))
			recipients = append(recipients, u.ID)
		}
		if err := s.messages.CreateMany(ctx, created); err != nil {
			return nil, err
		}
		recipients = append(recipients, sender.ID)

	case domain.KindGroup:
		m := domain.NewGroup(sender.ID, sealed, now)
		if err := s.messages.Create(ctx, m); err != nil {
			return nil, err
		}
		created = []*domain.Message{m}
	}

	s.metrics.MessagesSent(string(kind), len(created))

	res := &SendResult{Kind: kind, Recipients: len(created)}
	if len(created) > 0 {
		view := *created[0]
		view.Body = body
		if kind == domain.KindBroadcast {
			view.ReceiverID = ""
		}
		res.Message = &view
	}
	if kind == domain.KindBroadcast {
		s.log.Info("broadcast sent",
			zap.String("sender_id", sender.ID),
			zap.Int("recipients", len(created)))
	}

	if res.Message != nil {
		ev := events.Event{Type: events.MessageCreated, Recipients: recipients, Data: res.Message, At: now}
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.log.Warn("publish message event", zap.Error(err), zap.String("kind", string(kind)))
		}
	}
	return res, nil
}
