package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Khambazarov/hello-word-sub000/internal/config"
)

const (
	chatroomsCollection = "chatrooms"
	messagesCollection  = "messages"
)

// New connects to the chat store and verifies the connection.
func New(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo: ping: %w", err)
	}

	db := client.Database(cfg.Database)
	if cfg.EnsureIndexes {
		if err := EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
	}
	return client, db, nil
}

// EnsureIndexes creates the lookup indexes and the uniqueness guards for
// direct chat pairs and group names.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(chatroomsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "members", Value: 1}}},
		{
			Keys: bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().
				SetName("uniq_direct_pair").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isGroup": false, "pairKey": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "name", Value: 1}},
			Options: options.Index().
				SetName("uniq_group_name").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"isGroup": true, "name": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo: chatroom indexes: %w", err)
	}

	_, err = db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chatroomId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: message indexes: %w", err)
	}
	return nil
}
