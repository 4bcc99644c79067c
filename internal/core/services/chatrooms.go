package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// DirectChatLookup is either an existing chatroom or a preview of the partner.
type DirectChatLookup struct {
	ChatroomID *primitive.ObjectID `json:"chatroomId,omitempty"`
	Partner    *domain.PublicUser  `json:"partner,omitempty"`
}

type ChatroomDetail struct {
	Chatroom *domain.Chatroom    `json:"chatroom"`
	Messages []domain.Message    `json:"messages"`
	Members  []domain.PublicUser `json:"members"`
}

// ChatroomService manages direct chats and chatroom reads.
type ChatroomService struct {
	log       *slog.Logger
	users     domain.UserRepository
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	sender    *MessageService
	notifier  *Notifier
	now       func() time.Time
}

func NewChatroomService(
	log *slog.Logger,
	users domain.UserRepository,
	chatrooms domain.ChatroomRepository,
	messages domain.MessageRepository,
	sender *MessageService,
	notifier *Notifier,
) *ChatroomService {
	return &ChatroomService{
		log:       log,
		users:     users,
		chatrooms: chatrooms,
		messages:  messages,
		sender:    sender,
		notifier:  notifier,
		now:       clock,
	}
}

func (s *ChatroomService) resolvePartner(ctx context.Context, currentUserID primitive.ObjectID, username string) (*domain.User, error) {
	partner, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if partner.ID == currentUserID {
		return nil, domain.ErrSelfChat
	}
	return partner, nil
}

// FindOrPreviewDirectChat never creates anything.
func (s *ChatroomService) FindOrPreviewDirectChat(ctx context.Context, currentUserID primitive.ObjectID, targetUsername string) (*DirectChatLookup, error) {
	ctx, span := tracer.Start(ctx, "ChatroomService.FindOrPreviewDirectChat", trace.WithAttributes(
		attribute.String("user_id", currentUserID.Hex()),
	))
	defer span.End()
	const op = "chatrooms - find direct chat"

	partner, err := s.resolvePartner(ctx, currentUserID, targetUsername)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.User(currentUserID.Hex()), "target", targetUsername)
	}
	room, err := s.chatrooms.FindDirectChatroom(ctx, currentUserID, partner.ID)
	switch {
	case err == nil:
		return &DirectChatLookup{ChatroomID: &room.ID}, nil
	case errors.Is(err, domain.ErrNotFound):
		preview := partner.Public()
		return &DirectChatLookup{Partner: &preview}, nil
	default:
		return nil, fail(ctx, s.log, span, op, err, logging.User(currentUserID.Hex()))
	}
}

// CreateDirectChat starts a chat with its first message. When the pair
// already has a chat, the message goes there instead.
func (s *ChatroomService) CreateDirectChat(ctx context.Context, currentUserID primitive.ObjectID, partnerUsername, firstMessage string) (primitive.ObjectID, error) {
	ctx, span := tracer.Start(ctx, "ChatroomService.CreateDirectChat", trace.WithAttributes(
		attribute.String("user_id", currentUserID.Hex()),
	))
	defer span.End()
	const op = "chatrooms - create direct chat"

	partner, err := s.resolvePartner(ctx, currentUserID, partnerUsername)
	if err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(currentUserID.Hex()), "target", partnerUsername)
	}
	content := strings.TrimSpace(firstMessage)
	if content == "" {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, domain.ErrEmptyContent, logging.User(currentUserID.Hex()))
	}

	room, err := s.chatrooms.FindDirectChatroom(ctx, currentUserID, partner.ID)
	if errors.Is(err, domain.ErrNotFound) {
		room = domain.NewDirectChatroom(currentUserID, partner.ID, s.now())
		err = s.chatrooms.CreateChatroom(ctx, room)
		if errors.Is(err, domain.ErrDuplicateChatroom) {
			// lost the race against a concurrent create for the same pair
			room, err = s.chatrooms.FindDirectChatroom(ctx, currentUserID, partner.ID)
		} else if err == nil {
			s.log.InfoContext(ctx, op+" - created", logging.Chatroom(room.ID.Hex()), logging.User(currentUserID.Hex()), "partner_id", partner.ID.Hex())
		}
	}
	if err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(currentUserID.Hex()))
	}

	if _, err := s.sender.post(ctx, room, &currentUserID, content, s.sender.classify(content)); err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.Chatroom(room.ID.Hex()))
	}
	return room.ID, nil
}

// DeleteDirectChat removes the chat for both members, messages first.
func (s *ChatroomService) DeleteDirectChat(ctx context.Context, chatroomID, actingUserID primitive.ObjectID) error {
	ctx, span := tracer.Start(ctx, "ChatroomService.DeleteDirectChat", trace.WithAttributes(
		attribute.String("chatroom_id", chatroomID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "chatrooms - delete direct chat"

	room, err := loadMembership(ctx, s.chatrooms, chatroomID, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(actingUserID.Hex()))
	}
	if room.IsGroup {
		return fail(ctx, s.log, span, op, domain.Validation("group chats are deleted through the group"), logging.Chatroom(chatroomID.Hex()))
	}
	if err := cascadeDelete(ctx, s.chatrooms, s.messages, room.ID); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()))
	}
	s.notifier.EvictFromChatroom(ctx, room, domain.EventChatroomDeleted, domain.ChatroomDeletedPayload{ChatroomID: room.ID}, room.Members...)
	s.log.InfoContext(ctx, op+" - success", logging.Chatroom(chatroomID.Hex()), logging.User(actingUserID.Hex()))
	return nil
}

// GetChatroomDetail returns the chatroom with its full history, ascending.
func (s *ChatroomService) GetChatroomDetail(ctx context.Context, chatroomID, actingUserID primitive.ObjectID) (*ChatroomDetail, error) {
	ctx, span := tracer.Start(ctx, "ChatroomService.GetChatroomDetail", trace.WithAttributes(
		attribute.String("chatroom_id", chatroomID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "chatrooms - get detail"

	room, err := loadMembership(ctx, s.chatrooms, chatroomID, actingUserID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(actingUserID.Hex()))
	}
	msgs, err := s.messages.ListMessages(ctx, room.ID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()))
	}

	ids := append([]primitive.ObjectID{}, room.Members...)
	for _, m := range msgs {
		if m.SenderID != nil {
			ids = append(ids, *m.SenderID)
		}
	}
	resolved, err := resolveUsers(ctx, s.users, ids)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()))
	}
	for i := range msgs {
		if msgs[i].SenderID != nil {
			sender := resolved[*msgs[i].SenderID]
			msgs[i].Sender = &sender
		}
	}
	members := make([]domain.PublicUser, 0, len(room.Members))
	for _, id := range room.Members {
		members = append(members, resolved[id])
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return &ChatroomDetail{Chatroom: room, Messages: msgs, Members: members}, nil
}

// cascadeDelete removes the messages, then the chatroom. A crash in between
// leaves an empty chatroom, which the list read cleans up for direct chats.
func cascadeDelete(ctx context.Context, chatrooms domain.ChatroomRepository, messages domain.MessageRepository, chatroomID primitive.ObjectID) error {
	if _, err := messages.DeleteMessagesByChatroom(ctx, chatroomID); err != nil {
		return err
	}
	return chatrooms.DeleteChatroom(ctx, chatroomID)
}
