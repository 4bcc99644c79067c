package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// ChatroomSummary is one entry of a user's chat list.
type ChatroomSummary struct {
	*domain.Chatroom
	LastMessage      *domain.Message    `json:"lastMessage"`
	UnreadCount      int64              `json:"unreadCount"`
	Partner          *domain.PublicUser `json:"partner,omitempty"`
	IsDeletedAccount bool               `json:"isDeletedAccount"`
}

// ListingService builds the chat list.
type ListingService struct {
	log       *slog.Logger
	users     domain.UserRepository
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	readState *ReadStateService
}

func NewListingService(
	log *slog.Logger,
	users domain.UserRepository,
	chatrooms domain.ChatroomRepository,
	messages domain.MessageRepository,
	readState *ReadStateService,
) *ListingService {
	return &ListingService{
		log:       log,
		users:     users,
		chatrooms: chatrooms,
		messages:  messages,
		readState: readState,
	}
}

// ListChatroomsForUser returns every chatroom of the user with its last
// message and unread count. Direct chats whose partner account is gone and
// that never got a message are deleted on the way.
func (s *ListingService) ListChatroomsForUser(ctx context.Context, userID primitive.ObjectID) ([]ChatroomSummary, error) {
	ctx, span := tracer.Start(ctx, "ListingService.ListChatroomsForUser", trace.WithAttributes(
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()
	const op = "listing - list chatrooms"

	rooms, err := s.chatrooms.ListChatroomsForUser(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.User(userID.Hex()))
	}

	summaries := make([]ChatroomSummary, 0, len(rooms))
	var ids []primitive.ObjectID
	for i := range rooms {
		room := &rooms[i]
		last, err := s.messages.LastMessage(ctx, room.ID)
		if err != nil {
			return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(room.ID.Hex()))
		}
		unread, err := s.readState.unreadFor(ctx, room, userID)
		if err != nil {
			return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(room.ID.Hex()))
		}
		if partner, ok := room.Partner(userID); ok {
			ids = append(ids, partner)
		}
		if last != nil && last.SenderID != nil {
			ids = append(ids, *last.SenderID)
		}
		summaries = append(summaries, ChatroomSummary{Chatroom: room, LastMessage: last, UnreadCount: unread})
	}

	resolved, err := resolveUsers(ctx, s.users, ids)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.User(userID.Hex()))
	}

	out := summaries[:0]
	for _, sum := range summaries {
		if sum.LastMessage != nil && sum.LastMessage.SenderID != nil {
			sender := resolved[*sum.LastMessage.SenderID]
			sum.LastMessage.Sender = &sender
		}
		if partnerID, ok := sum.Chatroom.Partner(userID); ok {
			partner := resolved[partnerID]
			sum.Partner = &partner
			sum.IsDeletedAccount = partner.IsDeletedAccount
		} else if !sum.IsGroup {
			// a direct chat left with only one member has no partner at all
			sum.IsDeletedAccount = true
		}
		if sum.IsDeletedAccount && sum.LastMessage == nil {
			s.dropOrphan(ctx, sum.ID)
			continue
		}
		out = append(out, sum)
	}

	sortSummaries(out)
	span.SetAttributes(attribute.Int("chatroom_count", len(out)))
	return out, nil
}

func (s *ListingService) dropOrphan(ctx context.Context, chatroomID primitive.ObjectID) {
	err := s.chatrooms.DeleteChatroom(ctx, chatroomID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.WarnContext(ctx, "listing - drop orphan chatroom - failed", logging.Chatroom(chatroomID.Hex()), logging.Err(err))
		return
	}
	s.log.InfoContext(ctx, "listing - drop orphan chatroom - success", logging.Chatroom(chatroomID.Hex()))
}

// sortSummaries orders live chats before deleted-account chats, chats with
// messages before empty ones, then by recency. Empty chats compare by
// lastActivity so the comparator stays a strict weak ordering.
func sortSummaries(list []ChatroomSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsDeletedAccount != b.IsDeletedAccount {
			return !a.IsDeletedAccount
		}
		aHas, bHas := a.LastMessage != nil, b.LastMessage != nil
		if aHas != bHas {
			return aHas
		}
		if !aHas {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.LastMessage.CreatedAt.After(b.LastMessage.CreatedAt)
	})
}
