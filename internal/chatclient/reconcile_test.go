package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams_backend/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func summary(id string, unread int, at time.Time) domain.ConversationSummary {
	return domain.ConversationSummary{CounterpartID: id, DisplayName: id, LastMessageAt: at, UnreadCount: unread}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		prev  domain.ConversationSummary
		fresh domain.ConversationSummary
		want  int
	}{
		{"unread locally adopts fresh", summary("c", 2, t0), summary("c", 3, t0.Add(time.Second)), 3},
		{"unread locally adopts fresh zero", summary("c", 2, t0), summary("c", 0, t0), 0},
		{"server caught up", summary("c", 0, t0), summary("c", 0, t0), 0},
		{"stale server count ignored", summary("c", 0, t0), summary("c", 4, t0), 0},
		{"new message surfaces", summary("c", 0, t0), summary("c", 1, t0.Add(time.Millisecond)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.prev, tt.fresh).UnreadCount)
		})
	}
}

func TestState_LocalReadSurvivesStalePoll(t *testing.T) {
	s := NewState()
	require.True(t, s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("c", 2, t0)}))

	require.True(t, s.MarkReadLocal("c"))
	assert.Equal(t, 0, s.TotalUnread())

	// server has not applied the read yet
	s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("c", 2, t0)})
	got, _ := s.Get("c")
	assert.Equal(t, 0, got.UnreadCount)

	s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("c", 0, t0)})
	got, _ = s.Get("c")
	assert.Equal(t, 0, got.UnreadCount)

	s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("c", 1, t0.Add(time.Second))})
	got, _ = s.Get("c")
	assert.Equal(t, 1, got.UnreadCount)
}

func TestState_OutOfOrderTicks(t *testing.T) {
	s := NewState()
	first := s.BeginTick()
	second := s.BeginTick()

	assert.True(t, s.ApplyTick(second, []domain.ConversationSummary{summary("c", 2, t0.Add(time.Second))}))
	assert.False(t, s.ApplyTick(first, []domain.ConversationSummary{summary("c", 0, t0)}))

	got, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestState_AddsAndDropsKeys(t *testing.T) {
	s := NewState()
	s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("group", 0, t0), summary("old", 1, t0)})
	s.ApplyTick(s.BeginTick(), []domain.ConversationSummary{summary("new", 1, t0.Add(time.Second)), summary("group", 0, t0)})

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "new", snap[0].CounterpartID)
	assert.Equal(t, "group", snap[1].CounterpartID)
	_, ok := s.Get("old")
	assert.False(t, ok)
}

func TestState_ClosedIgnoresUpdates(t *testing.T) {
	s := NewState()
	seq := s.BeginTick()
	s.Close()

	assert.False(t, s.ApplyTick(seq, []domain.ConversationSummary{summary("c", 1, t0)}))
	assert.False(t, s.MarkReadLocal("c"))
	assert.Empty(t, s.Snapshot())
	assert.True(t, s.Closed())
}
