package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kipavy/bigdata-filrouge/internal/models"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
)

// ErrNoBatch is returned when no unprocessed batch is staged.
var ErrNoBatch = errors.New("staging: no unprocessed batch")

// Store is the staging data lake contract consumed by the pipeline and fed by
// the extractor. FetchNextUnprocessed and MarkProcessed are idempotent.
type Store interface {
	InsertBatch(ctx context.Context, batch *models.StagedBatch) error
	FetchNextUnprocessed(ctx context.Context) (*models.StagedBatch, error)
	MarkProcessed(ctx context.Context, batchID string) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config holds staging store connection settings
type Config struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// mongoStore implements Store on a MongoDB collection, one document per
// extraction cycle.
type mongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *logging.StructuredLogger
}

// NewMongoStore connects to MongoDB and returns a staging Store
func NewMongoStore(cfg *Config, logger *logging.StructuredLogger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to staging store: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping staging store: %w", err)
	}

	logger.Info(context.Background(), "[STAGING_INIT] MongoDB connection established", logging.Fields{
		"database":   cfg.Database,
		"collection": cfg.Collection,
	})

	return &mongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}, nil
}

// InsertBatch stores one extraction cycle's snapshots
func (s *mongoStore) InsertBatch(ctx context.Context, batch *models.StagedBatch) error {
	if _, err := s.collection.InsertOne(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert staged batch: %w", err)
	}

	s.logger.Debug(ctx, "[STAGING_INSERT] Batch staged", logging.Fields{
		"batch_id":     batch.BatchID,
		"record_count": batch.RecordCount,
	})

	return nil
}

// FetchNextUnprocessed returns the oldest staged batch not yet processed, so
// a backlog drains in extraction order.
func (s *mongoStore) FetchNextUnprocessed(ctx context.Context) (*models.StagedBatch, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "extracted_at", Value: 1}})

	var batch models.StagedBatch
	err := s.collection.FindOne(ctx, bson.M{"processed": false}, opts).Decode(&batch)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNoBatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staged batch: %w", err)
	}

	return &batch, nil
}

// MarkProcessed flags a staged batch as processed. Marking an already
// processed batch is a no-op.
func (s *mongoStore) MarkProcessed(ctx context.Context, batchID string) error {
	now := time.Now().UTC()
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"batch_id": batchID},
		bson.M{"$set": bson.M{"processed": true, "processed_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark batch %s processed: %w", batchID, err)
	}

	return nil
}

// HealthCheck pings the staging store
func (s *mongoStore) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("staging store health check failed: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
