package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams_backend/internal/domain"
	"ams_backend/internal/events"
	"ams_backend/internal/service"
)

func TestSend_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	student := env.user(t, "Ann", domain.RoleStudent)
	other := env.user(t, "Ben", domain.RoleStudent)

	cases := []struct {
		name string
		in   service.SendInput
		want error
	}{
		{"blank body", service.SendInput{ReceiverID: other.ID, Body: "   "}, domain.ErrInvalidInput},
		{"too long", service.SendInput{ReceiverID: other.ID, Body: strings.Repeat("é", service.MaxMessageLength+1)}, domain.ErrInvalidInput},
		{"both modes", service.SendInput{Body: "x", IsBroadcast: true, IsGroupChat: true}, domain.ErrInvalidInput},
		{"group with receiver", service.SendInput{ReceiverID: other.ID, Body: "x", IsGroupChat: true}, domain.ErrInvalidInput},
		{"no mode", service.SendInput{Body: "x"}, domain.ErrInvalidInput},
		{"to self", service.SendInput{ReceiverID: student.ID, Body: "x"}, domain.ErrInvalidInput},
		{"unknown receiver", service.SendInput{ReceiverID: "ghost", Body: "x"}, domain.ErrNotFound},
		{"student broadcast", service.SendInput{Body: "x", IsBroadcast: true}, domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.send.Send(ctx, student, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing reached the store.
	list, err := env.convs.ListConversations(ctx, other)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Empty(t, env.pub.Events())
}

func TestSend_Direct(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.user(t, "Ann", domain.RoleStudent)
	b := env.user(t, "Ben", domain.RoleStudent)

	res := env.sendAt(t, a, service.SendInput{ReceiverID: b.ID, Body: "  hi Ben  "})
	assert.Equal(t, domain.KindDirect, res.Kind)
	assert.Equal(t, 1, res.Recipients)
	require.NotNil(t, res.Message)
	assert.Equal(t, "hi Ben", res.Message.Body)
	assert.Equal(t, b.ID, res.Message.ReceiverID)
	assert.False(t, res.Message.Read)
	assert.True(t, res.Message.CreatedAt.Equal(env.clock.Now()))

	evs := env.pub.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.MessageCreated, evs[0].Type)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, evs[0].Recipients)
}

func TestSend_BroadcastAudience(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	teacher := env.user(t, "Ms Tan", domain.RoleTeacher)
	colleague := env.user(t, "Mr Lee", domain.RoleTeacher)

	// No students yet: success without records.
	res := env.sendAt(t, teacher, service.SendInput{Body: "anyone?", IsBroadcast: true})
	assert.Zero(t, res.Recipients)
	assert.Nil(t, res.Message)

	s1 := env.user(t, "Ann", domain.RoleStudent)
	s2 := env.user(t, "Ben", domain.RoleStudent)

	res = env.sendAt(t, teacher, service.SendInput{Body: "exam moved", IsBroadcast: true})
	assert.Equal(t, 2, res.Recipients)
	require.NotNil(t, res.Message)
	assert.Empty(t, res.Message.ReceiverID)

	for _, st := range []*domain.User{s1, s2} {
		bc, err := env.convs.ListBroadcasts(ctx, st)
		require.NoError(t, err)
		require.Len(t, bc, 1)
		assert.Equal(t, st.ID, bc[0].ReceiverID)
	}
	bc, err := env.convs.ListBroadcasts(ctx, colleague)
	require.NoError(t, err)
	assert.Empty(t, bc)

	evs := env.pub.Events()
	require.Len(t, evs, 1)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID, teacher.ID}, evs[0].Recipients)
}

func TestSend_GroupReachesEveryone(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.user(t, "Ann", domain.RoleStudent)

	res := env.sendAt(t, a, service.SendInput{Body: "hello class", IsGroupChat: true})
	assert.Equal(t, domain.KindGroup, res.Kind)
	assert.Empty(t, res.Message.ReceiverID)

	evs := env.pub.Events()
	require.Len(t, evs, 1)
	assert.Nil(t, evs[0].Recipients)
}
