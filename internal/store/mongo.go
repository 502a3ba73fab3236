package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"tgmirror/internal/domain"
)

const cursorCollection = "sync_cursors"

// MongoStore implements Store using MongoDB, one collection per channel.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger

	mu      sync.Mutex
	indexed map[string]bool
}

// NewMongoStore connects to uri and uses database for every collection.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if database == "" {
		database = "tgmirror"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStore{
		client:  client,
		db:      client.Database(database),
		logger:  logger,
		indexed: make(map[string]bool),
	}, nil
}

func (s *MongoStore) Backend() string { return "mongo" }

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// collection returns the named collection, creating its indexes on first use.
func (s *MongoStore) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	coll := s.db.Collection(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed[name] {
		return coll, nil
	}
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "source_message_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_source_key").
				SetPartialFilterExpression(bson.M{"origin": string(domain.OriginSource)}),
		},
		{Keys: bson.D{{Key: "origin", Value: 1}, {Key: "synced_to_source", Value: 1}}},
		{Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "origin", Value: 1}, {Key: "deleted", Value: 1}, {Key: "delete_synced", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create indexes for %s: %w", name, err)
	}
	s.indexed[name] = true
	s.logger.Debug("mongo indexes ensured", "collection", name)
	return coll, nil
}

func (s *MongoStore) ExistsByKey(ctx context.Context, collection, sourceMessageID string) (bool, error) {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return false, err
	}
	err = coll.FindOne(ctx, bson.M{
		"origin":            string(domain.OriginSource),
		"source_message_id": sourceMessageID,
	}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, sourceMessageID, err)
	}
	return true, nil
}

func (s *MongoStore) Insert(ctx context.Context, collection string, rec domain.MessageRecord) error {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if _, err := coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, f domain.Filter, limit int) ([]domain.MessageRecord, error) {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var out []domain.MessageRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return out, nil
}

func (s *MongoStore) Count(ctx context.Context, collection string, f domain.Filter) (int64, error) {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, collection, id string, p domain.Patch) error {
	set := bson.M{}
	if p.SynchronizedToSource != nil {
		set["synced_to_source"] = *p.SynchronizedToSource
	}
	if p.SourceDeliveredID != nil {
		set["source_delivered_id"] = *p.SourceDeliveredID
	}
	if p.SyncedAt != nil {
		set["synced_at"] = *p.SyncedAt
	}
	if p.RejectedAt != nil {
		set["rejected_at"] = *p.RejectedAt
	}
	if p.RejectReason != nil {
		set["reject_reason"] = *p.RejectReason
	}
	if p.Deleted != nil {
		set["deleted"] = *p.Deleted
	}
	if p.DeletedAt != nil {
		set["deleted_at"] = *p.DeletedAt
	}
	if p.DeleteSynced != nil {
		set["delete_synced"] = *p.DeleteSynced
	}
	if len(set) == 0 {
		return nil
	}

	coll, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}
	result, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return nil
}

type cursorDoc struct {
	ChannelID     string    `bson:"_id"`
	LastMessageID int64     `bson:"last_message_id"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (s *MongoStore) LoadCursors(ctx context.Context) (map[string]int64, error) {
	cur, err := s.db.Collection(cursorCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	defer cur.Close(ctx)

	var docs []cursorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	out := make(map[string]int64, len(docs))
	for _, d := range docs {
		out[d.ChannelID] = d.LastMessageID
	}
	return out, nil
}

// SaveCursor upserts the cursor unless a higher value is already stored.
func (s *MongoStore) SaveCursor(ctx context.Context, channelID string, lastMessageID int64) error {
	_, err := s.db.Collection(cursorCollection).UpdateOne(ctx,
		bson.M{"_id": channelID, "last_message_id": bson.M{"$lt": lastMessageID}},
		bson.M{"$set": bson.M{"last_message_id": lastMessageID, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	// The upsert collides with an existing newer cursor document.
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", channelID, err)
	}
	return nil
}

// mongoFilter translates f. False flags match with $ne so documents the
// application wrote without the field still qualify.
func mongoFilter(f domain.Filter) bson.M {
	filter := bson.M{}
	if f.Origin != nil {
		filter["origin"] = string(*f.Origin)
	}
	if f.SynchronizedToSource != nil {
		filter["synced_to_source"] = flagMatch(*f.SynchronizedToSource)
	}
	if f.Deleted != nil {
		filter["deleted"] = flagMatch(*f.Deleted)
	}
	if f.DeleteSynced != nil {
		filter["delete_synced"] = flagMatch(*f.DeleteSynced)
	}
	if f.Rejected != nil {
		if *f.Rejected {
			filter["rejected_at"] = bson.M{"$ne": nil}
		} else {
			filter["rejected_at"] = nil
		}
	}
	if f.CreatedAtOrBefore != nil {
		filter["created_at"] = bson.M{"$lte": *f.CreatedAtOrBefore}
	}
	return filter
}

func flagMatch(v bool) any {
	if v {
		return true
	}
	return bson.M{"$ne": true}
}
