package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ams_backend/internal/domain"
	"ams_backend/internal/events"
	"ams_backend/internal/metrics"
)

const (
	noGroupMessages = "No messages yet"
	unknownUserName = "Unknown user"
)

// ConversationService derives conversation summaries and read state from the
// message store on every call. Nothing is cached.
type ConversationService struct {
	messages domain.MessageRepository
	users    domain.UserRepository
	markers  domain.ReadMarkerRepository
	codec    BodyCodec
	pub      events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger

	groupName        string
	groupLimit       int
	threadBroadcasts bool
	now              func() time.Time
}

type ConversationOptions struct {
	GroupChatName string
	// MaxGroupMessages caps the group thread to its newest messages. Zero
	// returns the whole channel.
	MaxGroupMessages int
	// ThreadBroadcasts mixes broadcast copies into the direct thread with
	// their sender.
	ThreadBroadcasts bool
}

func NewConversationService(
	messages domain.MessageRepository,
	users domain.UserRepository,
	markers domain.ReadMarkerRepository,
	codec BodyCodec,
	pub events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
	opts ConversationOptions,
) *ConversationService {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.GroupChatName == "" {
		opts.GroupChatName = "Group Chat"
	}
	if opts.MaxGroupMessages < 0 {
		opts.MaxGroupMessages = 0
	}
	return &ConversationService{
		messages:         messages,
		users:            users,
		markers:          markers,
		codec:            codec,
		pub:              pub,
		metrics:          m,
		log:              log,
		groupName:        opts.GroupChatName,
		groupLimit:       opts.MaxGroupMessages,
		threadBroadcasts: opts.ThreadBroadcasts,
		now:              time.Now,
	}
}

// SetClock replaces the server clock.
func (s *ConversationService) SetClock(now func() time.Time) { s.now = now }

// ListConversations returns one summary per counterpart plus the group
// channel, newest first.
func (s *ConversationService) ListConversations(ctx context.Context, user *domain.User) ([]domain.ConversationSummary, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveConversationList(time.Since(start)) }()

	group, err := s.groupSummary(ctx, user)
	if err != nil {
		return nil, err
	}

	heads, err := s.messages.ThreadHeads(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("thread heads: %w", err)
	}

	ids := make([]string, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.CounterpartID)
	}
	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		counterparts, err := s.users.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve counterparts: %w", err)
		}
		for _, u := range counterparts {
			names[u.ID] = u.Name
		}
	}

	out := make([]domain.ConversationSummary, 0, len(heads)+1)
	for _, h := range heads {
		last := *h.Last
		if err := open(s.codec, &last); err != nil {
			return nil, err
		}
		name, ok := names[h.CounterpartID]
		if !ok {
			name = unknownUserName
		}
		out = append(out, domain.ConversationSummary{
			CounterpartID:   h.CounterpartID,
			DisplayName:     name,
			LastMessageBody: last.Body,
			LastMessageAt:   last.CreatedAt,
			LastSenderID:    last.SenderID,
			UnreadCount:     h.UnreadCount,
		})
	}
	out = append(out, group)

	sortSummaries(out)
	return out, nil
}

func (s *ConversationService) groupSummary(ctx context.Context, user *domain.User) (domain.ConversationSummary, error) {
	sum := domain.ConversationSummary{
		CounterpartID: domain.GroupCounterpart,
		DisplayName:   s.groupName,
		IsGroup:       true,
	}

	latest, err := s.messages.LatestGroup(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sum.LastMessageBody = noGroupMessages
		sum.LastMessageAt = clockNow(s.now)
		return sum, nil
	case err != nil:
		return sum, fmt.Errorf("latest group message: %w", err)
	}
	if err := open(s.codec, latest); err != nil {
		return sum, err
	}
	sum.LastMessageBody = latest.Body
	sum.LastMessageAt = latest.CreatedAt
	sum.LastSenderID = latest.SenderID

	marker, err := s.markers.GroupMarker(ctx, user.ID)
	if err != nil {
		return sum, fmt.Errorf("group marker: %w", err)
	}
	sum.UnreadCount, err = s.messages.CountGroupAfter(ctx, user.ID, marker)
	if err != nil {
		return sum, fmt.Errorf("group unread: %w", err)
	}
	return sum, nil
}

func sortSummaries(s []domain.ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.CounterpartID < b.CounterpartID
	})
}

// ListMessagesWith returns the thread with counterpartID, oldest first. The
// group sentinel returns the group channel; unknown counterparts yield an
// empty thread.
func (s *ConversationService) ListMessagesWith(ctx context.Context, user *domain.User, counterpartID string) ([]*domain.Message, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == domain.GroupCounterpart {
		return s.ListGroupMessages(ctx, user)
	}
	if counterpartID == "" {
		return []*domain.Message{}, nil
	}
	msgs, err := s.messages.ListThread(ctx, user.ID, counterpartID, s.threadBroadcasts)
	if errors.Is(err, domain.ErrInvalidInput) {
		return []*domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return openAll(s.codec, msgs)
}

func (s *ConversationService) ListGroupMessages(ctx context.Context, _ *domain.User) ([]*domain.Message, error) {
	msgs, err := s.messages.ListGroup(ctx, s.groupLimit)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	return openAll(s.codec, msgs)
}

// ListBroadcasts returns the announcements addressed to the user.
func (s *ConversationService) ListBroadcasts(ctx context.Context, user *domain.User) ([]*domain.Message, error) {
	msgs, err := s.messages.ListBroadcastsTo(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return openAll(s.codec, msgs)
}

// MarkRead marks every unread message from counterpartID to the user as read
// and reports how many changed. Repeating the call is a no-op.
func (s *ConversationService) MarkRead(ctx context.Context, user *domain.User, counterpartID string) (int64, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return 0, fmt.Errorf("%w: counterpart is required", domain.ErrInvalidInput)
	}
	if counterpartID == domain.GroupCounterpart {
		return s.MarkGroupRead(ctx, user)
	}

	n, err := s.messages.MarkThreadRead(ctx, user.ID, counterpartID)
	if errors.Is(err, domain.ErrInvalidInput) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	s.metrics.MessagesRead("direct", n)
	if n > 0 {
		s.publishRead(ctx, user.ID, counterpartID, n, []string{user.ID, counterpartID})
	}
	return n, nil
}

// MarkGroupRead advances the user's group watermark to the newest group
// message and reports how many group messages it covered. Messages stored
// after that one stay unread.
func (s *ConversationService) MarkGroupRead(ctx context.Context, user *domain.User) (int64, error) {
	latest, err := s.messages.LatestGroup(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest group message: %w", err)
	}
	marker, err := s.markers.GroupMarker(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("group marker: %w", err)
	}
	unread, err := s.messages.CountGroupAfter(ctx, user.ID, marker)
	if err != nil {
		return 0, fmt.Errorf("group unread: %w", err)
	}
	if err := s.markers.AdvanceGroupMarker(ctx, user.ID, latest.CreatedAt); err != nil {
		return 0, fmt.Errorf("mark group read: %w", err)
	}
	n := int64(unread)
	s.metrics.MessagesRead("group", n)
	if n > 0 {
		s.publishRead(ctx, user.ID, domain.GroupCounterpart, n, []string{user.ID})
	}
	return n, nil
}

// UnreadSummary flattens ListConversations to the non-zero unread counts.
func (s *ConversationService) UnreadSummary(ctx context.Context, user *domain.User) (*domain.UnreadSummary, error) {
	convs, err := s.ListConversations(ctx, user)
	if err != nil {
		return nil, err
	}
	res := &domain.UnreadSummary{Counts: map[string]int{}}
	for _, c := range convs {
		if c.UnreadCount == 0 {
			continue
		}
		res.Counts[c.CounterpartID] = c.UnreadCount
		res.Total += c.UnreadCount
	}
	return res, nil
}

func (s *ConversationService) publishRead(ctx context.Context, readerID, counterpartID string, n int64, recipients []string) {
	ev := events.Event{
		Type:       events.MessagesRead,
		Recipients: recipients,
		Data:       events.ReadPayload{ReaderID: readerID, CounterpartID: counterpartID, Count: n},
		At:         clockNow(s.now),
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publish read event", zap.Error(err), zap.String("user_id", readerID))
	}
}
