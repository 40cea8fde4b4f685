package chatclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams_backend/internal/chatclient"
	"ams_backend/internal/config"
	"ams_backend/internal/domain"
	"ams_backend/internal/httpserver"
	"ams_backend/internal/security"
	"ams_backend/internal/service"
	"ams_backend/internal/store/sqlite"
)

func newServer(t *testing.T) (*httptest.Server, *service.AuthService) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	auth := service.NewAuthService(users, security.NewTokenService("client-secret", time.Hour), security.NewPasswordHasher(4), time.Hour)

	h := httpserver.NewRouter(&config.Config{CORSOrigins: []string{"*"}}, httpserver.Deps{
		Auth:     auth,
		Users:    service.NewUserService(users),
		Messages: service.NewMessageService(msgs, users, nil, nil, nil, nil, service.MessageOptions{}),
		Convs:    service.NewConversationService(msgs, users, sqlite.NewReadMarkerRepo(db), nil, nil, nil, nil, service.ConversationOptions{}),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, auth
}

func signIn(t *testing.T, srv *httptest.Server, auth *service.AuthService, name string) (*chatclient.Client, *domain.User) {
	t.Helper()
	_, err := auth.Register(context.Background(), service.RegisterInput{
		Name: name, Email: name + "@school.test", Password: "secret123",
	})
	require.NoError(t, err)

	c := chatclient.NewClient(srv.URL + "/")
	res, err := c.Login(context.Background(), name+"@school.test", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token())
	return c, &res.User
}

func TestClient_DirectMessageRoundTrip(t *testing.T) {
	srv, auth := newServer(t)
	sam, samUser := signIn(t, srv, auth, "sam")
	amy, amyUser := signIn(t, srv, auth, "amy")
	ctx := context.Background()

	me, err := sam.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, samUser.ID, me.ID)

	res, err := sam.Send(ctx, chatclient.SendRequest{ReceiverID: amyUser.ID, Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindDirect, res.Kind)
	assert.Equal(t, 1, res.Recipients)

	unread, err := amy.Unread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unread.Counts[samUser.ID])

	thread, err := amy.Messages(ctx, samUser.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "hello", thread[0].Body)

	n, err := amy.MarkRead(ctx, samUser.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClient_ErrorsUnwrapToSentinels(t *testing.T) {
	srv, auth := newServer(t)
	sam, _ := signIn(t, srv, auth, "sam")
	ctx := context.Background()

	_, err := sam.Send(ctx, chatclient.SendRequest{ReceiverID: "nobody", Body: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = sam.Send(ctx, chatclient.SendRequest{Body: "hi", IsBroadcast: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	var apiErr *chatclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	anon := chatclient.NewClient(srv.URL)
	_, err = anon.Conversations(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = anon.Login(ctx, "sam@school.test", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPoller_AgainstServer(t *testing.T) {
	srv, auth := newServer(t)
	sam, samUser := signIn(t, srv, auth, "sam")
	amy, amyUser := signIn(t, srv, auth, "amy")
	ctx := context.Background()

	_, err := sam.Send(ctx, chatclient.SendRequest{ReceiverID: amyUser.ID, Body: "hello"})
	require.NoError(t, err)

	p := chatclient.NewPoller(amy, chatclient.NewState(), chatclient.PollerOptions{})
	require.True(t, p.Refresh(ctx))

	entry, ok := p.State().Get(samUser.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", entry.LastMessageBody)
	assert.Equal(t, 1, entry.UnreadCount)

	p.Select(ctx, samUser.ID)
	p.Wait()

	entry, _ = p.State().Get(samUser.ID)
	assert.Equal(t, 0, entry.UnreadCount)
	unread, err := amy.Unread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, unread.Total)

	time.Sleep(5 * time.Millisecond)
	_, err = sam.Send(ctx, chatclient.SendRequest{ReceiverID: amyUser.ID, Body: "are you there?"})
	require.NoError(t, err)
	require.True(t, p.Refresh(ctx))
	entry, _ = p.State().Get(samUser.ID)
	assert.Equal(t, 1, entry.UnreadCount)
}
