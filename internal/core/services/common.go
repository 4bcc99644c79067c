package services

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

var tracer = otel.Tracer("chat-services")

// clock returns UTC time truncated to the store's millisecond precision, so
// a timestamp compares the same before and after a round trip.
func clock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// fail records err on the span and logs it. Business rejections are logged
// at info, everything else is an internal failure.
func fail(ctx context.Context, log *slog.Logger, span trace.Span, op string, err error, args ...any) error {
	span.RecordError(err)
	args = append(args, logging.Err(err))
	if domain.ClassOf(err) == domain.ErrInternal {
		span.SetStatus(codes.Error, op+" failed")
		log.ErrorContext(ctx, op+" - failed", args...)
		return err
	}
	log.InfoContext(ctx, op+" - rejected", args...)
	return err
}

// resolveUsers maps ids to public profiles; ids without an account become
// deleted-account placeholders.
func resolveUsers(ctx context.Context, users domain.UserRepository, ids []primitive.ObjectID) (map[primitive.ObjectID]domain.PublicUser, error) {
	found, err := users.GetUsersByIDs(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[primitive.ObjectID]domain.PublicUser, len(ids))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			out[id] = u.Public()
		} else {
			out[id] = domain.DeletedUser(id)
		}
	}
	return out, nil
}

func resolveUser(ctx context.Context, users domain.UserRepository, id primitive.ObjectID) (domain.PublicUser, error) {
	resolved, err := resolveUsers(ctx, users, []primitive.ObjectID{id})
	if err != nil {
		return domain.PublicUser{}, err
	}
	return resolved[id], nil
}

// populateSenders fills Message.Sender for every message with a sender.
func populateSenders(ctx context.Context, users domain.UserRepository, msgs ...*domain.Message) error {
	var ids []primitive.ObjectID
	for _, m := range msgs {
		if m != nil && m.SenderID != nil {
			ids = append(ids, *m.SenderID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	resolved, err := resolveUsers(ctx, users, ids)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m != nil && m.SenderID != nil {
			sender := resolved[*m.SenderID]
			m.Sender = &sender
		}
	}
	return nil
}

func uniqueIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// loadMembership fetches the chatroom and rejects non-members.
func loadMembership(ctx context.Context, chatrooms domain.ChatroomRepository, chatroomID, userID primitive.ObjectID) (*domain.Chatroom, error) {
	room, err := chatrooms.GetChatroomByID(ctx, chatroomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(userID) {
		return nil, domain.ErrNotMember
	}
	return room, nil
}
