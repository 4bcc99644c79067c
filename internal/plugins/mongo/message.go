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

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

type MessageRepo struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepo {
	return &MessageRepo{coll: db.Collection(messagesCollection)}
}

func (r *MessageRepo) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("mongo: insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetMessageByID(ctx context.Context, id primitive.ObjectID) (*domain.Message, error) {
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("mongo: find message: %w", err)
	}
	return &m, nil
}

func (r *MessageRepo) ListMessages(ctx context.Context, chatroomID primitive.ObjectID) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"chatroomId": chatroomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []domain.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("mongo: decode messages: %w", err)
	}
	return messages, nil
}

func (r *MessageRepo) LastMessage(ctx context.Context, chatroomID primitive.ObjectID) (*domain.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"chatroomId": chatroomID}, opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: last message: %w", err)
	}
	return &m, nil
}

// CountUnread treats a null sender (system message) as someone else.
func (r *MessageRepo) CountUnread(ctx context.Context, chatroomID, userID primitive.ObjectID, since time.Time) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"chatroomId": chatroomID,
		"createdAt":  bson.M{"$gt": since},
		"sender":     bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, fmt.Errorf("mongo: count unread: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) (*domain.Message, error) {
	return r.findAndUpdate(ctx, id, bson.M{"$set": bson.M{
		"content":           content,
		"editedAt":          at,
		"updatedAt":         at,
		"editSeenBy":        bson.A{},
		"editSeenByOwner":   false,
		"editSeenByPartner": false,
	}})
}

func (r *MessageRepo) AddEditSeenBy(ctx context.Context, id, userID primitive.ObjectID) (*domain.Message, error) {
	return r.findAndUpdate(ctx, id, bson.M{"$addToSet": bson.M{"editSeenBy": userID}})
}

func (r *MessageRepo) SetEditSeenFlag(ctx context.Context, id primitive.ObjectID, owner bool) (*domain.Message, error) {
	field := "editSeenByPartner"
	if owner {
		field = "editSeenByOwner"
	}
	return r.findAndUpdate(ctx, id, bson.M{"$set": bson.M{field: true}})
}

func (r *MessageRepo) findAndUpdate(ctx context.Context, id primitive.ObjectID, update bson.M) (*domain.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m domain.Message
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("mongo: update message: %w", err)
	}
	return &m, nil
}

func (r *MessageRepo) DeleteMessage(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) DeleteMessagesByChatroom(ctx context.Context, chatroomID primitive.ObjectID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"chatroomId": chatroomID})
	if err != nil {
		return 0, fmt.Errorf("mongo: delete chatroom messages: %w", err)
	}
	return res.DeletedCount, nil
}
