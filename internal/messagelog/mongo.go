// Package messagelog stores chat messages in an append-only MongoDB
// collection, keyed by room and queried by recency. Messages are immutable:
// they are inserted once and removed only by whole-room reclamation.
package messagelog

import (
	"context"
	"fmt"
	"time"

	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "messages"

type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the (room_id, created_at) index used by Recent and
// DeleteRoom. Called once at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("messagelog.EnsureIndexes: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("messagelog.Insert", time.Now())()
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("messagelog.Insert: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for the room, most recent first.
// A non-zero before narrows the page to messages created strictly earlier
// (cursor pagination for "load older").
func (s *Store) Recent(ctx context.Context, roomID string, limit int, before time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("messagelog.Recent", time.Now())()
	filter := bson.M{"room_id": roomID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("messagelog.Recent find: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]model.Message, 0, limit)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("messagelog.Recent decode: %w", err)
	}
	return messages, nil
}

// CountSince counts messages in a room created after the given time,
// excluding the user's own. Backs the unread counter.
func (s *Store) CountSince(ctx context.Context, roomID, userID string, since time.Time) (int, error) {
	defer logger.DeferLogDuration("messagelog.CountSince", time.Now())()
	filter := bson.M{
		"room_id":    roomID,
		"sender_id":  bson.M{"$ne": userID},
		"created_at": bson.M{"$gt": since},
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("messagelog.CountSince: %w", err)
	}
	return int(n), nil
}

// DeleteRoom removes every message belonging to the room. Reclamation only;
// idempotent across retries.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	defer logger.DeferLogDuration("messagelog.DeleteRoom", time.Now())()
	if _, err := s.coll.DeleteMany(ctx, bson.M{"room_id": roomID}); err != nil {
		return fmt.Errorf("messagelog.DeleteRoom: %w", err)
	}
	return nil
}
