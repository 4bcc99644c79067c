package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

type ChatroomRepo struct {
	coll *mongo.Collection
}

func NewChatroomRepository(db *mongo.Database) *ChatroomRepo {
	return &ChatroomRepo{coll: db.Collection(chatroomsCollection)}
}

func (r *ChatroomRepo) CreateChatroom(ctx context.Context, c *domain.Chatroom) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if c.IsGroup {
				return domain.ErrGroupNameTaken
			}
			return domain.ErrDuplicateChatroom
		}
		return fmt.Errorf("mongo: insert chatroom: %w", err)
	}
	return nil
}

func (r *ChatroomRepo) GetChatroomByID(ctx context.Context, id primitive.ObjectID) (*domain.Chatroom, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindDirectChatroom matches on the member pair so chats created before the
// pairKey field existed are still found.
func (r *ChatroomRepo) FindDirectChatroom(ctx context.Context, a, b primitive.ObjectID) (*domain.Chatroom, error) {
	return r.findOne(ctx, bson.M{
		"isGroup": false,
		"members": bson.M{"$all": bson.A{a, b}, "$size": 2},
	})
}

func (r *ChatroomRepo) FindGroupByName(ctx context.Context, name string) (*domain.Chatroom, error) {
	return r.findOne(ctx, bson.M{"isGroup": true, "name": name})
}

func (r *ChatroomRepo) findOne(ctx context.Context, filter bson.M) (*domain.Chatroom, error) {
	var c domain.Chatroom
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrChatroomNotFound
		}
		return nil, fmt.Errorf("mongo: find chatroom: %w", err)
	}
	return &c, nil
}

func (r *ChatroomRepo) ListChatroomsForUser(ctx context.Context, userID primitive.ObjectID) ([]domain.Chatroom, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, fmt.Errorf("mongo: list chatrooms: %w", err)
	}
	defer cursor.Close(ctx)

	var rooms []domain.Chatroom
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("mongo: decode chatrooms: %w", err)
	}
	return rooms, nil
}

func (r *ChatroomRepo) SetLastSeen(ctx context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error {
	// members guard: a removed member must not get its entry back
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": chatroomID, "members": userID},
		bson.M{"$set": bson.M{lastSeenKey(userID): at}},
	)
	if err != nil {
		return fmt.Errorf("mongo: set last seen: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotMember
	}
	return nil
}

func (r *ChatroomRepo) TouchActivity(ctx context.Context, chatroomID primitive.ObjectID, at time.Time) error {
	return r.update(ctx, chatroomID, bson.M{"$max": bson.M{"lastActivity": at}})
}

func (r *ChatroomRepo) AddMembers(ctx context.Context, chatroomID primitive.ObjectID, userIDs []primitive.ObjectID, at time.Time) error {
	set := bson.M{}
	for _, id := range userIDs {
		set[lastSeenKey(id)] = at
	}
	return r.update(ctx, chatroomID, bson.M{
		"$addToSet": bson.M{"members": bson.M{"$each": userIDs}},
		"$set":      set,
		"$max":      bson.M{"lastActivity": at},
	})
}

func (r *ChatroomRepo) RemoveMember(ctx context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error {
	return r.update(ctx, chatroomID, bson.M{
		"$pull":  bson.M{"members": userID, "admins": userID},
		"$unset": bson.M{lastSeenKey(userID): ""},
		"$max":   bson.M{"lastActivity": at},
	})
}

func (r *ChatroomRepo) SetAdmin(ctx context.Context, chatroomID, userID primitive.ObjectID, admin bool, at time.Time) error {
	op := "$pull"
	if admin {
		op = "$addToSet"
	}
	return r.update(ctx, chatroomID, bson.M{
		op:     bson.M{"admins": userID},
		"$max": bson.M{"lastActivity": at},
	})
}

func (r *ChatroomRepo) UpdateGroup(ctx context.Context, chatroomID primitive.ObjectID, update domain.GroupUpdate, at time.Time) error {
	set := bson.M{}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Image != nil {
		set["image"] = *update.Image
	}
	err := r.update(ctx, chatroomID, bson.M{
		"$set": set,
		"$max": bson.M{"lastActivity": at},
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrGroupNameTaken
	}
	return err
}

func (r *ChatroomRepo) DeleteChatroom(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete chatroom: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrChatroomNotFound
	}
	return nil
}

func (r *ChatroomRepo) update(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return err
		}
		return fmt.Errorf("mongo: update chatroom: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrChatroomNotFound
	}
	return nil
}

func lastSeenKey(userID primitive.ObjectID) string {
	return "lastSeen." + userID.Hex()
}
