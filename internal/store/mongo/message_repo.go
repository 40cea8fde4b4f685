package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"ams_backend/internal/domain"
)

type messageDoc struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	Sender      primitive.ObjectID  `bson:"sender"`
	Receiver    *primitive.ObjectID `bson:"receiver,omitempty"`
	Message     string              `bson:"message"`
	Timestamp   time.Time           `bson:"timestamp"`
	Read        bool                `bson:"read"`
	IsBroadcast bool                `bson:"isBroadcast"`
	IsGroupChat bool                `bson:"isGroupChat"`
}

func newMessageDoc(m *domain.Message) (*messageDoc, error) {
	sender, err := objectID(m.SenderID)
	if err != nil {
		return nil, err
	}
	isBroadcast, isGroup := m.Kind.Flags()
	doc := &messageDoc{
		Sender:      sender,
		Message:     m.Body,
		Timestamp:   m.CreatedAt,
		Read:        m.Read,
		IsBroadcast: isBroadcast,
		IsGroupChat: isGroup,
	}
	if m.ReceiverID != "" {
		receiver, err := objectID(m.ReceiverID)
		if err != nil {
			return nil, err
		}
		doc.Receiver = &receiver
	}
	if m.ID != "" {
		if doc.ID, err = objectID(m.ID); err != nil {
			return nil, err
		}
	} else {
		doc.ID = primitive.NewObjectID()
	}
	return doc, nil
}

func (d *messageDoc) toDomain() (*domain.Message, error) {
	kind, err := domain.KindFromFlags(d.IsBroadcast, d.IsGroupChat, d.Receiver != nil)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", d.ID.Hex(), err)
	}
	m := &domain.Message{
		ID:        d.ID.Hex(),
		SenderID:  d.Sender.Hex(),
		Kind:      kind,
		Body:      d.Message,
		CreatedAt: d.Timestamp.UTC(),
		Read:      d.Read,
	}
	if d.Receiver != nil {
		m.ReceiverID = d.Receiver.Hex()
	}
	return m, nil
}

type MessageRepo struct {
	coll *mongo.Collection
	log  *zap.Logger
}

// groupMessages matches group posts that map onto a domain message.
func groupMessages() bson.M {
	return bson.M{"isGroupChat": true, "isBroadcast": bson.M{"$ne": true}, "receiver": nil}
}

func NewMessageRepo(db *mongo.Database, log *zap.Logger) *MessageRepo {
	if log == nil {
		log = zap.NewNop()
	}
	coll := db.Collection(messagesCollection)
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "receiver", Value: 1}, {Key: "sender", Value: 1}, {Key: "read", Value: 1}},
			Options: options.Index().SetName("receiver_sender_read"),
		},
		{
			Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("sender_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "isGroupChat", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("group_timestamp"),
		},
	})
	return &MessageRepo{coll: coll, log: log}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	doc, err := newMessageDoc(m)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID = doc.ID.Hex()
	return nil
}

// CreateMany uses one ordered InsertMany; documents are validated up front so
// a malformed copy never leaves a partial broadcast behind.
func (r *MessageRepo) CreateMany(ctx context.Context, ms []*domain.Message) error {
	if len(ms) == 0 {
		return nil
	}
	docs := make([]any, len(ms))
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
		doc, err := newMessageDoc(m)
		if err != nil {
			return err
		}
		docs[i] = doc
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	for i, m := range ms {
		m.ID = docs[i].(*messageDoc).ID.Hex()
	}
	return nil
}

func (r *MessageRepo) LatestGroup(ctx context.Context) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	var doc messageDoc
	if err := r.coll.FindOne(ctx, groupMessages(), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest group message: %w", err)
	}
	return doc.toDomain()
}

// ListGroup returns the newest limit group messages in chronological order.
// A non-positive limit returns the whole channel.
func (r *MessageRepo) ListGroup(ctx context.Context, limit int) ([]*domain.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	msgs, err := r.find(ctx, groupMessages(), opts)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) CountGroupAfter(ctx context.Context, userID string, after time.Time) (int, error) {
	uid, err := objectID(userID)
	if err != nil {
		return 0, err
	}
	filter := groupMessages()
	filter["sender"] = bson.M{"$ne": uid}
	if !after.IsZero() {
		filter["timestamp"] = bson.M{"$gt": after}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count group messages: %w", err)
	}
	return int(n), nil
}

func (r *MessageRepo) ThreadHeads(ctx context.Context, userID string) ([]domain.ThreadHead, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"isGroupChat": bson.M{"$ne": true},
			"$or": []bson.M{
				{"receiver": uid},
				{"sender": uid, "isBroadcast": bson.M{"$ne": true}, "receiver": bson.M{"$ne": nil}},
			},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$sender", uid}}, "$receiver", "$sender"}},
			"last": bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver", uid}},
					bson.M{"$eq": bson.A{"$read", false}},
				}},
				1, 0,
			}}},
		}}},
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("thread heads: %w", err)
	}
	defer cur.Close(ctx)

	var heads []domain.ThreadHead
	for cur.Next(ctx) {
		var row struct {
			Counterpart *primitive.ObjectID `bson:"_id"`
			Last        messageDoc          `bson:"last"`
			Unread      int                 `bson:"unread"`
		}
		if err := cur.Decode(&row); err != nil {
			r.log.Warn("skipping undecodable thread head", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if row.Counterpart == nil {
			continue
		}
		last, ok := r.decode(&row.Last)
		if !ok {
			continue
		}
		heads = append(heads, domain.ThreadHead{
			CounterpartID: row.Counterpart.Hex(),
			Last:          last,
			UnreadCount:   row.Unread,
		})
	}
	return heads, cur.Err()
}

func (r *MessageRepo) ListThread(ctx context.Context, userID, counterpartID string, includeBroadcasts bool) ([]*domain.Message, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	cid, err := objectID(counterpartID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"isGroupChat": bson.M{"$ne": true},
		"$or": []bson.M{
			{"sender": uid, "receiver": cid},
			{"sender": cid, "receiver": uid},
		},
	}
	if !includeBroadcasts {
		filter["isBroadcast"] = bson.M{"$ne": true}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *MessageRepo) ListBroadcastsTo(ctx context.Context, userID string) ([]*domain.Message, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"isBroadcast": true, "receiver": uid}, opts)
}

func (r *MessageRepo) MarkThreadRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	rid, err := objectID(receiverID)
	if err != nil {
		return 0, err
	}
	sid, err := objectID(senderID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"receiver": rid, "sender": sid, "read": false, "isGroupChat": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			r.log.Warn("skipping undecodable message", zap.Error(err))
			continue
		}
		if m, ok := r.decode(&doc); ok {
			out = append(out, m)
		}
	}
	return out, cur.Err()
}

// decode maps a stored document to a message. Legacy documents with flag
// combinations the domain cannot represent are logged and dropped.
func (r *MessageRepo) decode(doc *messageDoc) (*domain.Message, bool) {
	m, err := doc.toDomain()
	if err != nil {
		r.log.Warn("skipping malformed message", zap.String("id", doc.ID.Hex()), zap.Error(err))
		return nil, false
	}
	return m, true
}
