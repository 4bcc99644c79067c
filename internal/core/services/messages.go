package services

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
	audioExtensions = map[string]bool{".webm": true, ".mp3": true, ".ogg": true, ".wav": true, ".m4a": true}
)

// MessageService owns the message lifecycle: send, edit, delete and edit-seen acks.
type MessageService struct {
	log       *slog.Logger
	users     domain.UserRepository
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	notifier  *Notifier
	storage   contracts.ObjectStorage
	now       func() time.Time
}

func NewMessageService(
	log *slog.Logger,
	users domain.UserRepository,
	chatrooms domain.ChatroomRepository,
	messages domain.MessageRepository,
	notifier *Notifier,
	storage contracts.ObjectStorage,
) *MessageService {
	return &MessageService{
		log:       log,
		users:     users,
		chatrooms: chatrooms,
		messages:  messages,
		notifier:  notifier,
		storage:   storage,
		now:       clock,
	}
}

func (s *MessageService) Send(ctx context.Context, chatroomID, senderID primitive.ObjectID, content string) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Send", trace.WithAttributes(
		attribute.String("chatroom_id", chatroomID.Hex()),
		attribute.String("sender_id", senderID.Hex()),
	))
	defer span.End()
	const op = "messages - send"

	room, err := loadMembership(ctx, s.chatrooms, chatroomID, senderID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(senderID.Hex()))
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fail(ctx, s.log, span, op, domain.ErrEmptyContent, logging.Chatroom(chatroomID.Hex()))
	}
	msg, err := s.post(ctx, room, &senderID, content, s.classify(content))
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(chatroomID.Hex()), logging.User(senderID.Hex()))
	}
	s.log.InfoContext(ctx, op+" - success", logging.Chatroom(chatroomID.Hex()), logging.Message(msg.ID.Hex()), "type", string(msg.Type))
	return msg, nil
}

// postSystem writes a sender-less message describing a membership or metadata change.
func (s *MessageService) postSystem(ctx context.Context, room *domain.Chatroom, text string) (*domain.Message, error) {
	return s.post(ctx, room, nil, text, domain.MessageTypeSystem)
}

// post persists a message, bumps the chatroom and fans it out. Each write is
// its own document update; a failure after the insert is logged and the
// message stands.
func (s *MessageService) post(ctx context.Context, room *domain.Chatroom, sender *primitive.ObjectID, content string, kind domain.MessageType) (*domain.Message, error) {
	at := s.now()
	msg := domain.NewMessage(room.ID, sender, content, kind, at)
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.chatrooms.TouchActivity(ctx, room.ID, at); err != nil {
		s.log.WarnContext(ctx, "messages - touch activity - failed", logging.Chatroom(room.ID.Hex()), logging.Err(err))
	}
	if sender != nil {
		// the author has read everything up to their own message
		if err := s.chatrooms.SetLastSeen(ctx, room.ID, *sender, at); err != nil {
			s.log.WarnContext(ctx, "messages - sender last seen - failed", logging.Chatroom(room.ID.Hex()), logging.Err(err))
		}
	}
	if err := populateSenders(ctx, s.users, msg); err != nil {
		s.log.WarnContext(ctx, "messages - populate sender - failed", logging.Message(msg.ID.Hex()), logging.Err(err))
	}
	s.notifier.EmitToChatroom(ctx, room, domain.EventMessage, msg)
	return msg, nil
}

func (s *MessageService) Edit(ctx context.Context, messageID, actingUserID primitive.ObjectID, newContent string) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Edit", trace.WithAttributes(
		attribute.String("message_id", messageID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "messages - edit"

	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	if msg.IsSystemMessage || msg.SenderID == nil {
		return nil, fail(ctx, s.log, span, op, domain.Forbidden("system messages cannot be edited"), logging.Message(messageID.Hex()))
	}
	if !msg.SentBy(actingUserID) {
		return nil, fail(ctx, s.log, span, op, domain.Forbidden("you can only edit your own messages"), logging.Message(messageID.Hex()), logging.User(actingUserID.Hex()))
	}
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, fail(ctx, s.log, span, op, domain.ErrEmptyContent, logging.Message(messageID.Hex()))
	}
	if newContent == msg.Content {
		return nil, fail(ctx, s.log, span, op, domain.Validation("no changes to apply"), logging.Message(messageID.Hex()))
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, newContent, s.now())
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	if err := populateSenders(ctx, s.users, updated); err != nil {
		s.log.WarnContext(ctx, "messages - populate sender - failed", logging.Message(messageID.Hex()), logging.Err(err))
	}
	s.emitForMessage(ctx, updated, domain.EventMessageUpdate, domain.MessageUpdatePayload{UpdatedMessage: updated})
	s.log.InfoContext(ctx, op+" - success", logging.Message(messageID.Hex()))
	return updated, nil
}

// Delete hard-deletes a message. In direct chats only the author may delete;
// in groups the author, the owner, and admins for messages of plain members
// or system messages.
func (s *MessageService) Delete(ctx context.Context, messageID, actingUserID primitive.ObjectID) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Delete", trace.WithAttributes(
		attribute.String("message_id", messageID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "messages - delete"

	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	room, err := loadMembership(ctx, s.chatrooms, msg.ChatroomID, actingUserID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()), logging.User(actingUserID.Hex()))
	}
	if err := canDelete(room, msg, actingUserID); err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()), logging.User(actingUserID.Hex()))
	}
	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	_ = populateSenders(ctx, s.users, msg)
	s.notifier.EmitToChatroom(ctx, room, domain.EventMessageDelete, domain.MessageDeletePayload{DeletedMessage: msg})
	s.log.InfoContext(ctx, op+" - success", logging.Message(messageID.Hex()), logging.Chatroom(room.ID.Hex()))
	return msg, nil
}

func canDelete(room *domain.Chatroom, msg *domain.Message, actor primitive.ObjectID) error {
	if msg.SentBy(actor) {
		return nil
	}
	if !room.IsGroup {
		return domain.Forbidden("you can only delete your own messages")
	}
	role := domain.RoleOf(room, actor)
	switch {
	case role == domain.RoleOwner:
		return nil
	case msg.SenderID == nil:
		if role == domain.RoleAdmin {
			return nil
		}
		return domain.Forbidden("only admins can delete system messages")
	case role == domain.RoleAdmin:
		if domain.RoleOf(room, *msg.SenderID).AtLeast(domain.RoleAdmin) {
			return domain.Forbidden("admins cannot delete messages of other admins or the owner")
		}
		return nil
	default:
		return domain.Forbidden("you can only delete your own messages")
	}
}

// MarkEditSeen acknowledges the latest edit. It never touches editedAt.
func (s *MessageService) MarkEditSeen(ctx context.Context, messageID, actingUserID primitive.ObjectID) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.MarkEditSeen", trace.WithAttributes(
		attribute.String("message_id", messageID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "messages - mark edit seen"

	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	room, err := loadMembership(ctx, s.chatrooms, msg.ChatroomID, actingUserID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()), logging.User(actingUserID.Hex()))
	}

	var updated *domain.Message
	if room.IsGroup {
		updated, err = s.messages.AddEditSeenBy(ctx, messageID, actingUserID)
	} else {
		updated, err = s.messages.SetEditSeenFlag(ctx, messageID, msg.SentBy(actingUserID))
	}
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Message(messageID.Hex()))
	}
	_ = populateSenders(ctx, s.users, updated)
	s.notifier.Emit(ctx, []string{room.ID.Hex()}, domain.EventMessageUpdate, domain.MessageUpdatePayload{UpdatedMessage: updated})
	return updated, nil
}

func (s *MessageService) emitForMessage(ctx context.Context, msg *domain.Message, event string, payload any) {
	room, err := s.chatrooms.GetChatroomByID(ctx, msg.ChatroomID)
	if err != nil {
		s.notifier.Emit(ctx, []string{msg.ChatroomID.Hex()}, event, payload)
		return
	}
	s.notifier.EmitToChatroom(ctx, room, event, payload)
}

// classify derives the message type from the content: storage URLs with a
// known media suffix are images or audio, anything else is text.
func (s *MessageService) classify(content string) domain.MessageType {
	if s.storage == nil || !s.storage.Owns(content) {
		return domain.MessageTypeText
	}
	u, err := url.Parse(content)
	if err != nil {
		return domain.MessageTypeText
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case imageExtensions[ext]:
		return domain.MessageTypeImage
	case audioExtensions[ext]:
		return domain.MessageTypeAudio
	default:
		return domain.MessageTypeText
	}
}
