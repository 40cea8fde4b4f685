package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ams_backend/internal/domain"
	"ams_backend/internal/events"
	"ams_backend/internal/service"
	"ams_backend/internal/store/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type testEnv struct {
	users    *sqlite.UserRepo
	messages *sqlite.MessageRepo
	markers  *sqlite.ReadMarkerRepo
	clock    *fakeClock
	pub      *recordingPublisher
	send     *service.MessageService
	convs    *service.ConversationService
}

func newTestEnv(t *testing.T, codec service.BodyCodec) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		users:    sqlite.NewUserRepo(db),
		messages: sqlite.NewMessageRepo(db),
		markers:  sqlite.NewReadMarkerRepo(db),
		clock:    &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		pub:      &recordingPublisher{},
	}
	env.send = service.NewMessageService(env.messages, env.users, codec, env.pub, nil, nil, service.MessageOptions{})
	env.send.SetClock(env.clock.Now)
	env.convs = service.NewConversationService(env.messages, env.users, env.markers, codec, env.pub, nil, nil,
		service.ConversationOptions{ThreadBroadcasts: true})
	env.convs.SetClock(env.clock.Now)
	return env
}

func (e *testEnv) user(t *testing.T, name string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Name: name, Email: name + "@school.test", HashedPassword: "x", Role: role}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// sendAt advances the clock by one second and sends.
func (e *testEnv) sendAt(t *testing.T, from *domain.User, in service.SendInput) *service.SendResult {
	t.Helper()
	e.clock.Advance(time.Second)
	res, err := e.send.Send(context.Background(), from, in)
	require.NoError(t, err)
	return res
}

func (e *testEnv) direct(t *testing.T, from, to *domain.User, body string) {
	t.Helper()
	e.sendAt(t, from, service.SendInput{ReceiverID: to.ID, Body: body})
}

func summaryFor(t *testing.T, list []domain.ConversationSummary, counterpartID string) domain.ConversationSummary {
	t.Helper()
	for _, s := range list {
		if s.CounterpartID == counterpartID {
			return s
		}
	}
	require.Failf(t, "summary not found", "no conversation with %s", counterpartID)
	return domain.ConversationSummary{}
}
