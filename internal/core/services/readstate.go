package services

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// ReadStateService tracks per-member last-seen marks and derives unread counts.
type ReadStateService struct {
	log       *slog.Logger
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	notifier  *Notifier
	now       func() time.Time
}

func NewReadStateService(
	log *slog.Logger,
	chatrooms domain.ChatroomRepository,
	messages domain.MessageRepository,
	notifier *Notifier,
) *ReadStateService {
	return &ReadStateService{
		log:       log,
		chatrooms: chatrooms,
		messages:  messages,
		notifier:  notifier,
		now:       clock,
	}
}

// MarkRead moves the member's last-seen mark to now and returns it.
func (s *ReadStateService) MarkRead(ctx context.Context, chatroomID, userID primitive.ObjectID) (time.Time, error) {
	ctx, span := tracer.Start(ctx, "ReadStateService.MarkRead", trace.WithAttributes(
		attribute.String("chatroom_id", chatroomID.Hex()),
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()
	const op = "read state - mark read"

	if _, err := loadMembership(ctx, s.chatrooms, chatroomID, userID); err != nil {
		return time.Time{}, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(userID.Hex()))
	}
	at := s.now()
	if err := s.chatrooms.SetLastSeen(ctx, chatroomID, userID, at); err != nil {
		return time.Time{}, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(userID.Hex()))
	}
	// other sessions of the same user refresh their badges
	s.notifier.NotifyListUpdate(ctx, chatroomID, userID)
	return at, nil
}

// UnreadCount counts messages newer than the member's mark that someone else sent.
func (s *ReadStateService) UnreadCount(ctx context.Context, chatroomID, userID primitive.ObjectID) (int64, error) {
	ctx, span := tracer.Start(ctx, "ReadStateService.UnreadCount", trace.WithAttributes(
		attribute.String("chatroom_id", chatroomID.Hex()),
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()

	room, err := loadMembership(ctx, s.chatrooms, chatroomID, userID)
	if err != nil {
		return 0, fail(ctx, s.log, span, "read state - unread count", err, logging.Chatroom(chatroomID.Hex()), logging.User(userID.Hex()))
	}
	n, err := s.unreadFor(ctx, room, userID)
	if err != nil {
		return 0, fail(ctx, s.log, span, "read state - unread count", err, logging.Chatroom(chatroomID.Hex()), logging.User(userID.Hex()))
	}
	return n, nil
}

func (s *ReadStateService) unreadFor(ctx context.Context, room *domain.Chatroom, userID primitive.ObjectID) (int64, error) {
	return s.messages.CountUnread(ctx, room.ID, userID, room.LastSeenOf(userID))
}
