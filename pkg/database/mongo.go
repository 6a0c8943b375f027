package database

import (
	"context"
	"fmt"
	"time"

	"transcoding_service/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// mongoPingTimeout bound of each connect attempt
const mongoPingTimeout = 5 * time.Second

// NewMongoDB connect and ping, retried RetryCount times
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	opts := options.Client().ApplyURI(c.ConnectStr).SetServerSelectionTimeout(mongoPingTimeout)

	var lastErr error
	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		client, err := pingMongo(ctx, opts)
		if err == nil {
			return &MongoDB{Client: client, Database: client.Database(dbName)}, nil
		}
		lastErr = err
		logger.Log.Warn("Failed to connect to MongoDB, retrying...", zap.Int("attempt", attempt+1), zap.Error(err))

		if attempt == c.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryInterval):
		}
	}
	return nil, fmt.Errorf("mongo connect after %d attempts: %w", c.RetryCount+1, lastErr)
}

func pingMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Close disconnect mongoDB
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
