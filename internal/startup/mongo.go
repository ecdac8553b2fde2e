package startup

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sobun/chat/internal/logger"
)

// ConnectMongoWithRetry connects to MongoDB with retries.
func ConnectMongoWithRetry(uri string, maxWait time.Duration) *mongo.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		cancel()
		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(pingCtx, readpref.Primary())
			pingCancel()
			if err == nil {
				return client
			}
			disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 3*time.Second)
			client.Disconnect(disconnectCtx)
			disconnectCancel()
		}
		if time.Now().After(deadline) {
			logger.Errorf("mongo (gave up after %v): %v", maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("mongo connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
