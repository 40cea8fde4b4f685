package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ams_backend/internal/domain"
)

type ReadMarkerRepo struct {
	coll *mongo.Collection
}

func NewReadMarkerRepo(db *mongo.Database) *ReadMarkerRepo {
	return &ReadMarkerRepo{coll: db.Collection(markersCollection)}
}

var _ domain.ReadMarkerRepository = (*ReadMarkerRepo)(nil)

func (r *ReadMarkerRepo) GroupMarker(ctx context.Context, userID string) (time.Time, error) {
	uid, err := objectID(userID)
	if err != nil {
		return time.Time{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc struct {
		LastReadAt time.Time `bson:"lastReadAt"`
	}
	if err := r.coll.FindOne(ctx, bson.M{"_id": uid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get group marker: %w", err)
	}
	return doc.LastReadAt.UTC(), nil
}

// AdvanceGroupMarker relies on $max so concurrent or stale writes never move
// the marker backwards.
func (r *ReadMarkerRepo) AdvanceGroupMarker(ctx context.Context, userID string, at time.Time) error {
	uid, err := objectID(userID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.coll.UpdateByID(ctx, uid,
		bson.M{"$max": bson.M{"lastReadAt": at}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("advance group marker: %w", err)
	}
	return nil
}
