package sink

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

type finder interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// MongoDB runs each payload as a find against one collection. The payload
// statement is an extended JSON filter document.
type MongoDB struct {
	collection finder
	close      func(ctx context.Context) error
	logger     *zap.Logger
}

// NewMongoDB connects to the deployment and checks the primary is reachable.
func NewMongoDB(ctx context.Context, cfg config.MongoDBConfig, parallelism int, logger *zap.Logger) (*MongoDB, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("surge").
		SetMaxPoolSize(uint64(max(parallelism, 1)))

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	logger.Info("mongodb sink ready", zap.String("database", cfg.Database), zap.String("collection", cfg.Collection))
	m := newMongoDB(client.Database(cfg.Database).Collection(cfg.Collection), logger)
	m.close = client.Disconnect
	return m, nil
}

func newMongoDB(collection finder, logger *zap.Logger) *MongoDB {
	return &MongoDB{
		collection: collection,
		close:      func(context.Context) error { return nil },
		logger:     logger,
	}
}

// Name returns "mongodb"
func (m *MongoDB) Name() string { return config.SinkMongoDB }

// Dispatch parses the statement and reads every matching document.
func (m *MongoDB) Dispatch(ctx context.Context, p Payload) error {
	stmt := p.Statement()
	filter, err := parseFilter(stmt)
	if err != nil {
		return err
	}

	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return queryError(err, stmt)
	}
	defer cursor.Close(ctx)

	var n int
	for cursor.Next(ctx) {
		n++
	}
	if err := cursor.Err(); err != nil {
		return queryError(err, stmt)
	}
	m.logger.Debug("find completed", zap.Int("documents", n))
	return nil
}

// Close disconnects the client.
func (m *MongoDB) Close() error {
	return m.close(context.Background())
}

// parseFilter decodes a relaxed extended JSON document. An empty statement
// matches every document.
func parseFilter(stmt string) (bson.D, error) {
	if stmt == "" {
		return bson.D{}, nil
	}
	var filter bson.D
	if err := bson.UnmarshalExtJSON([]byte(stmt), false, &filter); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid filter document").WithDetail("statement", stmt)
	}
	return filter, nil
}
