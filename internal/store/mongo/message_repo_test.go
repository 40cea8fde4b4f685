package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"ams_backend/internal/domain"
)

func TestMessageDocFlags(t *testing.T) {
	alice := primitive.NewObjectID().Hex()
	bob := primitive.NewObjectID().Hex()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	doc, err := newMessageDoc(domain.NewBroadcast(alice, bob, "quiz", at))
	require.NoError(t, err)
	assert.True(t, doc.IsBroadcast)
	assert.False(t, doc.IsGroupChat)
	require.NotNil(t, doc.Receiver)
	assert.Equal(t, bob, doc.Receiver.Hex())

	back, err := doc.toDomain()
	require.NoError(t, err)
	assert.Equal(t, domain.KindBroadcast, back.Kind)
	assert.Equal(t, alice, back.SenderID)

	doc, err = newMessageDoc(domain.NewGroup(alice, "hello", at))
	require.NoError(t, err)
	assert.Nil(t, doc.Receiver)
	assert.True(t, doc.IsGroupChat)

	_, err = newMessageDoc(domain.NewDirect("not-hex", bob, "x", at))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// Legacy rows flagged as both broadcast and group are rejected on read.
	bad := &messageDoc{ID: primitive.NewObjectID(), IsBroadcast: true, IsGroupChat: true}
	_, err = bad.toDomain()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDecodeSkipsMalformedDocuments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := &MessageRepo{log: zap.New(core)}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	bob := primitive.NewObjectID()
	good := &messageDoc{ID: primitive.NewObjectID(), Sender: primitive.NewObjectID(), Receiver: &bob, Message: "hi", Timestamp: at}
	m, ok := r.decode(good)
	require.True(t, ok)
	assert.Equal(t, domain.KindDirect, m.Kind)
	assert.Zero(t, logs.Len())

	// Direct message without a receiver, as older clients stored them.
	orphan := &messageDoc{ID: primitive.NewObjectID(), Sender: bob, Message: "lost", Timestamp: at}
	_, ok = r.decode(orphan)
	assert.False(t, ok)

	both := &messageDoc{ID: primitive.NewObjectID(), Sender: bob, IsBroadcast: true, IsGroupChat: true}
	_, ok = r.decode(both)
	assert.False(t, ok)

	entries := logs.FilterMessage("skipping malformed message").All()
	require.Len(t, entries, 2)
	assert.Equal(t, orphan.ID.Hex(), entries[0].ContextMap()["id"])
}

func TestMessageRepo_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	db := client.Database("ams_test_" + primitive.NewObjectID().Hex())
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	msgs := NewMessageRepo(db, zaptest.NewLogger(t))
	markers := NewReadMarkerRepo(db)
	aliceID, bobID := primitive.NewObjectID(), primitive.NewObjectID()
	alice, bob := aliceID.Hex(), bobID.Hex()
	carol := primitive.NewObjectID().Hex()
	dave := primitive.NewObjectID().Hex()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	require.NoError(t, msgs.Create(ctx, domain.NewDirect(bob, alice, "one", at(0))))
	require.NoError(t, msgs.Create(ctx, domain.NewDirect(bob, alice, "two", at(1))))
	require.NoError(t, msgs.Create(ctx, domain.NewGroup(bob, "hi all", at(2))))
	require.NoError(t, msgs.Create(ctx, domain.NewDirect(alice, carol, "outbound", at(3))))
	require.NoError(t, msgs.CreateMany(ctx, []*domain.Message{
		domain.NewBroadcast(alice, dave, "alice announces", at(4)),
		domain.NewBroadcast(bob, alice, "announce", at(5)),
	}))

	// Legacy documents the domain cannot represent.
	_, err = msgs.coll.InsertMany(ctx, []any{
		bson.M{"sender": aliceID, "message": "no receiver", "timestamp": at(6), "read": false, "isBroadcast": false, "isGroupChat": false},
		bson.M{"sender": bobID, "receiver": aliceID, "message": "group with receiver", "timestamp": at(7), "read": false, "isBroadcast": false, "isGroupChat": true},
	})
	require.NoError(t, err)

	heads, err := msgs.ThreadHeads(ctx, alice)
	require.NoError(t, err)
	byCounterpart := map[string]domain.ThreadHead{}
	for _, h := range heads {
		byCounterpart[h.CounterpartID] = h
	}
	require.Len(t, byCounterpart, 2)

	assert.Equal(t, "announce", byCounterpart[bob].Last.Body)
	assert.Equal(t, domain.KindBroadcast, byCounterpart[bob].Last.Kind)
	assert.Equal(t, 3, byCounterpart[bob].UnreadCount)

	// Outbound messages group under their receiver.
	assert.Equal(t, "outbound", byCounterpart[carol].Last.Body)
	assert.Zero(t, byCounterpart[carol].UnreadCount)

	// Broadcasts alice sent never form a thread for her.
	assert.NotContains(t, byCounterpart, dave)

	thread, err := msgs.ListThread(ctx, alice, bob, true)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "one", thread[0].Body)
	assert.Equal(t, "announce", thread[2].Body)

	thread, err = msgs.ListThread(ctx, alice, bob, false)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "two", thread[1].Body)

	broadcasts, err := msgs.ListBroadcastsTo(ctx, alice)
	require.NoError(t, err)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, bob, broadcasts[0].SenderID)

	n, err := msgs.MarkThreadRead(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	latest, err := msgs.LatestGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi all", latest.Body)

	group, err := msgs.ListGroup(ctx, 0)
	require.NoError(t, err)
	require.Len(t, group, 1)

	count, err := msgs.CountGroupAfter(ctx, alice, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, markers.AdvanceGroupMarker(ctx, alice, at(2)))
	require.NoError(t, markers.AdvanceGroupMarker(ctx, alice, base))
	marker, err := markers.GroupMarker(ctx, alice)
	require.NoError(t, err)
	assert.True(t, marker.Equal(at(2)))
}
