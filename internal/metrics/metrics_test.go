package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MessagesSent("broadcast", 3)
	m.MessagesSent("direct", 1)
	m.MessagesSent("direct", 0)
	m.MessagesRead("direct", 2)
	m.ObserveConversationList(15 * time.Millisecond)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `ams_messages_sent_total{mode="broadcast"} 3`)
	assert.Contains(t, out, `ams_messages_sent_total{mode="direct"} 1`)
	assert.Contains(t, out, `ams_messages_marked_read_total{scope="direct"} 2`)
	assert.Contains(t, out, "ams_websocket_connections 1")
	assert.Contains(t, out, "ams_conversation_list_seconds_count 1")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessagesSent("group", 1)
		m.MessagesRead("group", 1)
		m.ObserveConversationList(time.Second)
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RateLimited()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
