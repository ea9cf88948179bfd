package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"listing-snapshot-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoDBSnapshotRepository implements SnapshotRepository using MongoDB.
// A snapshot and its listings are one document keyed by SKU, so a replace
// is a single atomic document write.
type MongoDBSnapshotRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	log        *zap.Logger
}

// NewMongoDBSnapshotRepository creates a new MongoDB snapshot repository.
func NewMongoDBSnapshotRepository(uri, database, collection string, log *zap.Logger) (*MongoDBSnapshotRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("repository.mongodb")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		// Nested item attributes must decode as maps to marshal back into JSON objects.
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Warn("failed to create index", zap.Error(err))
	}

	log.Info("connected", zap.String("database", database), zap.String("collection", collection))
	return newMongoRepository(coll, log), nil
}

func newMongoRepository(coll *mongo.Collection, log *zap.Logger) *MongoDBSnapshotRepository {
	return &MongoDBSnapshotRepository{
		client:     coll.Database().Client(),
		db:         coll.Database(),
		collection: coll,
		log:        log,
	}
}

// snapshotDocument represents a snapshot document in MongoDB.
type snapshotDocument struct {
	SKU        string            `bson:"_id"`
	SnapshotID string            `bson:"snapshot_id"`
	Name       string            `bson:"name"`
	CreatedAt  time.Time         `bson:"created_at"`
	Listings   []listingDocument `bson:"listings"`
}

type listingDocument struct {
	ID                  string      `bson:"id"`
	SKU                 string      `bson:"sku"`
	SteamID64           string      `bson:"steamid64"`
	Item                bson.M      `bson:"item"` // Stores parsed JSON as BSON
	Intent              string      `bson:"intent"`
	CurrenciesKeys      float64     `bson:"currencies_keys"`
	CurrenciesHalfScrap int         `bson:"currencies_half_scrap"`
	IsAutomatic         bool        `bson:"is_automatic"`
	IsOffers            bool        `bson:"is_offers"`
	IsBuyout            bool        `bson:"is_buyout"`
	Comment             *string     `bson:"comment"`
	CreatedAt           time.Time   `bson:"created_at"`
	BumpedAt            time.Time   `bson:"bumped_at"`
}

func toDocument(s *model.Snapshot) (*snapshotDocument, error) {
	doc := &snapshotDocument{
		SKU:        s.SKU,
		SnapshotID: s.ID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt.UTC(),
		Listings:   make([]listingDocument, 0, len(s.Listings)),
	}
	for _, l := range s.Listings {
		// Parse JSON to interface{} for proper BSON conversion
		var item bson.M
		if err := json.Unmarshal(l.Item, &item); err != nil {
			return nil, fmt.Errorf("failed to parse item JSON of listing %s: %w", l.ID, err)
		}
		doc.Listings = append(doc.Listings, listingDocument{
			ID:                  l.ID,
			SKU:                 l.SKU,
			SteamID64:           l.SteamID64,
			Item:                item,
			Intent:              string(l.Intent),
			CurrenciesKeys:      l.CurrenciesKeys,
			CurrenciesHalfScrap: l.CurrenciesHalfScrap,
			IsAutomatic:         l.IsAutomatic,
			IsOffers:            l.IsOffers,
			IsBuyout:            l.IsBuyout,
			Comment:             l.Comment,
			CreatedAt:           l.CreatedAt.UTC(),
			BumpedAt:            l.BumpedAt.UTC(),
		})
	}
	return doc, nil
}

func (d *snapshotDocument) toModel(withListings bool) (*model.Snapshot, error) {
	s := &model.Snapshot{
		ID:        d.SnapshotID,
		SKU:       d.SKU,
		Name:      d.Name,
		CreatedAt: d.CreatedAt,
	}
	if !withListings {
		return s, nil
	}
	for _, l := range d.Listings {
		// Convert BSON back to JSON
		item, err := json.Marshal(l.Item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item to JSON: %w", err)
		}
		s.Listings = append(s.Listings, model.Listing{
			ID:                  l.ID,
			SKU:                 l.SKU,
			SteamID64:           l.SteamID64,
			Item:                item,
			Intent:              model.ListingIntent(l.Intent),
			CurrenciesKeys:      l.CurrenciesKeys,
			CurrenciesHalfScrap: l.CurrenciesHalfScrap,
			IsAutomatic:         l.IsAutomatic,
			IsOffers:            l.IsOffers,
			IsBuyout:            l.IsBuyout,
			Comment:             l.Comment,
			CreatedAt:           l.CreatedAt,
			BumpedAt:            l.BumpedAt,
		})
	}
	return s, nil
}

// ReplaceSnapshot overwrites the SKU's document in one write.
func (r *MongoDBSnapshotRepository) ReplaceSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	doc, err := toDocument(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": snapshot.SKU}, doc, opts); err != nil {
		r.log.Warn("replace snapshot failed", zap.String("sku", snapshot.SKU), zap.Error(err))
		return fmt.Errorf("%w: replace snapshot %s: %w", ErrConflict, snapshot.SKU, err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot document for the SKU.
func (r *MongoDBSnapshotRepository) GetSnapshot(ctx context.Context, sku string) (*model.Snapshot, error) {
	var doc snapshotDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": sku}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return doc.toModel(true)
}

// ListSnapshots returns one page of snapshots without listings.
func (r *MongoDBSnapshotRepository) ListSnapshots(ctx context.Context, opts ListOptions) ([]model.Snapshot, int64, error) {
	opts = opts.Normalize()

	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	direction := -1
	if opts.Order == "asc" {
		direction = 1
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: direction}, {Key: "_id", Value: 1}}).
		SetSkip(int64(opts.Offset())).
		SetLimit(int64(opts.Limit)).
		SetProjection(bson.M{"listings": 0})

	cursor, err := r.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	snapshots := make([]model.Snapshot, 0, opts.Limit)
	for cursor.Next(ctx) {
		var doc snapshotDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		s, _ := doc.toModel(false)
		snapshots = append(snapshots, *s)
	}
	return snapshots, total, cursor.Err()
}

// ListStale returns SKUs of snapshots created before the cutoff.
func (r *MongoDBSnapshotRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"created_at": bson.M{
			"$lt": before.UTC(),
		},
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var skus []string
	for cursor.Next(ctx) {
		var doc struct {
			SKU string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		skus = append(skus, doc.SKU)
	}
	return skus, cursor.Err()
}

// GetStats returns statistics about the snapshot collection.
func (r *MongoDBSnapshotRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["db_type"] = "mongodb"

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_snapshots"] = count

	opts := options.FindOne().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"listings": 0})
	var doc snapshotDocument
	if err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc); err == nil {
		stats["last_snapshot_sku"] = doc.SKU
	}

	// Get collection stats
	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		if size, ok := collStats["size"].(int64); ok {
			stats["db_size_bytes"] = size
		} else if size, ok := collStats["size"].(int32); ok {
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

func (r *MongoDBSnapshotRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoDBSnapshotRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ensure MongoDBSnapshotRepository implements SnapshotRepository
var _ SnapshotRepository = (*MongoDBSnapshotRepository)(nil)
