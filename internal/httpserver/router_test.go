package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams_backend/internal/config"
	"ams_backend/internal/domain"
	"ams_backend/internal/media"
	"ams_backend/internal/ratelimit"
	"ams_backend/internal/security"
	"ams_backend/internal/service"
	"ams_backend/internal/store/sqlite"
)

type apiEnv struct {
	srv *httptest.Server
}

func newAPI(t *testing.T, limiter ratelimit.Limiter) *apiEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	markers := sqlite.NewReadMarkerRepo(db)
	tokens := security.NewTokenService("api-secret", time.Hour)

	uploader, err := media.NewDiskUploader(t.TempDir(), "/api/uploads")
	require.NoError(t, err)

	cfg := &config.Config{AppName: "AMS Messaging API", CORSOrigins: []string{"*"}, MaxUploadMB: 1}
	h := NewRouter(cfg, Deps{
		Auth:     service.NewAuthService(users, tokens, security.NewPasswordHasher(4), time.Hour),
		Users:    service.NewUserService(users),
		Messages: service.NewMessageService(msgs, users, nil, nil, nil, nil, service.MessageOptions{}),
		Convs:    service.NewConversationService(msgs, users, markers, nil, nil, nil, nil, service.ConversationOptions{ThreadBroadcasts: true}),
		Limiter:  limiter,
		Uploader: uploader,
	})
	env := &apiEnv{srv: httptest.NewServer(h)}
	t.Cleanup(env.srv.Close)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type session struct {
	token string
	user  domain.User
}

func (e *apiEnv) register(t *testing.T, name, role string) session {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": name + "@school.test", "password": "secret123", "role": role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var tok struct {
		AccessToken string      `json:"access_token"`
		User        domain.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(data, &tok))
	require.NotEmpty(t, tok.AccessToken)
	return session{token: tok.AccessToken, user: tok.User}
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPI(t, nil)

	resp, data := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(data))

	resp, data = env.do(t, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"pong"}`, string(data))
}

func TestAuthFlow(t *testing.T) {
	env := newAPI(t, nil)
	s := env.register(t, "tina", "Teacher")
	assert.Equal(t, domain.RoleTeacher, s.user.Role)

	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "tina", "email": "TINA@school.test", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "tina@school.test", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := env.do(t, http.MethodGet, "/api/auth/me", s.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me domain.Identity
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, s.user.ID, me.ID)
	assert.Equal(t, "tina", me.DisplayName)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPI(t, nil)
	for _, path := range []string{"/api/messages/conversations", "/api/messages/unread", "/api/users"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)

		resp, _ = env.do(t, http.MethodGet, path, "not-a-token", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestUsersEndpoints(t *testing.T) {
	env := newAPI(t, nil)
	teacher := env.register(t, "tina", "Teacher")
	student := env.register(t, "sam", "Student")

	resp, data := env.do(t, http.MethodGet, "/api/users?role=student", teacher.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var list []domain.User
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, student.user.ID, list[0].ID)
	assert.NotContains(t, string(data), "password")

	resp, _ = env.do(t, http.MethodGet, "/api/users?role=admin", teacher.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = env.do(t, http.MethodGet, "/api/users/"+teacher.user.ID, student.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.User
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "tina", got.Name)

	resp, _ = env.do(t, http.MethodGet, "/api/users/missing", student.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDirectMessageAndMarkRead(t *testing.T) {
	env := newAPI(t, nil)
	teacher := env.register(t, "tina", "Teacher")
	student := env.register(t, "sam", "Student")

	resp, data := env.do(t, http.MethodPost, "/api/messages", student.token, map[string]any{
		"receiver": teacher.user.ID, "message": "Is the essay due Friday?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var convs []domain.ConversationSummary
	resp, data = env.do(t, http.MethodGet, "/api/messages/conversations", teacher.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &convs))
	require.Len(t, convs, 2)

	var withSam domain.ConversationSummary
	for _, c := range convs {
		if c.CounterpartID == student.user.ID {
			withSam = c
		}
	}
	assert.Equal(t, "sam", withSam.DisplayName)
	assert.Equal(t, "Is the essay due Friday?", withSam.LastMessageBody)
	assert.Equal(t, 1, withSam.UnreadCount)

	var unread domain.UnreadSummary
	_, data = env.do(t, http.MethodGet, "/api/messages/unread", teacher.token, nil)
	require.NoError(t, json.Unmarshal(data, &unread))
	assert.Equal(t, 1, unread.Total)
	assert.Equal(t, 1, unread.Counts[student.user.ID])

	var marked markReadResponse
	resp, data = env.do(t, http.MethodPut, "/api/messages/read/"+student.user.ID, teacher.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &marked))
	assert.EqualValues(t, 1, marked.Updated)

	_, data = env.do(t, http.MethodPut, "/api/messages/read/"+student.user.ID, teacher.token, nil)
	require.NoError(t, json.Unmarshal(data, &marked))
	assert.EqualValues(t, 0, marked.Updated)

	_, data = env.do(t, http.MethodGet, "/api/messages/unread", teacher.token, nil)
	require.NoError(t, json.Unmarshal(data, &unread))
	assert.Equal(t, 0, unread.Total)

	var thread []domain.Message
	_, data = env.do(t, http.MethodGet, "/api/messages/"+teacher.user.ID, student.token, nil)
	require.NoError(t, json.Unmarshal(data, &thread))
	require.Len(t, thread, 1)
	assert.True(t, thread[0].Read)
}

func TestSendMessageErrors(t *testing.T) {
	env := newAPI(t, nil)
	student := env.register(t, "sam", "Student")

	resp, _ := env.do(t, http.MethodPost, "/api/messages", student.token, map[string]any{"message": "   ", "isGroupChat": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/messages", student.token, map[string]any{"message": "hi", "receiver": "missing-user"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/messages", student.token, map[string]any{"message": "all hands", "isBroadcast": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/api/messages", student.token, map[string]any{"message": "hello class", "isGroupChat": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
}

func TestGroupReadFlow(t *testing.T) {
	env := newAPI(t, nil)
	teacher := env.register(t, "tina", "Teacher")
	student := env.register(t, "sam", "Student")

	resp, _ := env.do(t, http.MethodPost, "/api/messages", teacher.token, map[string]any{"message": "quiz moved", "isGroupChat": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var unread domain.UnreadSummary
	_, data := env.do(t, http.MethodGet, "/api/messages/unread", student.token, nil)
	require.NoError(t, json.Unmarshal(data, &unread))
	assert.Equal(t, 1, unread.Counts[domain.GroupCounterpart])

	resp, _ = env.do(t, http.MethodPut, "/api/messages/group/read", student.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data = env.do(t, http.MethodGet, "/api/messages/unread", student.token, nil)
	require.NoError(t, json.Unmarshal(data, &unread))
	assert.Equal(t, 0, unread.Total)

	var group []domain.Message
	_, data = env.do(t, http.MethodGet, "/api/messages/group", student.token, nil)
	require.NoError(t, json.Unmarshal(data, &group))
	require.Len(t, group, 1)
	assert.Equal(t, domain.KindGroup, group[0].Kind)
}

func TestSendRateLimited(t *testing.T) {
	env := newAPI(t, ratelimit.NewLocalLimiter(1, 1))
	teacher := env.register(t, "tina", "Teacher")

	resp, _ := env.do(t, http.MethodPost, "/api/messages", teacher.token, map[string]any{"message": "one", "isGroupChat": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/messages", teacher.token, map[string]any{"message": "two", "isGroupChat": true})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUploadAndServe(t *testing.T) {
	env := newAPI(t, nil)
	s := env.register(t, "sam", "Student")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="notes.txt"`)
	hdr.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("chapter 4 summary"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var obj media.Object
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&obj))
	assert.True(t, strings.HasPrefix(obj.URL, "/api/uploads/"))

	resp2, data := env.do(t, http.MethodGet, obj.URL, s.token, nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "chapter 4 summary", string(data))
}
