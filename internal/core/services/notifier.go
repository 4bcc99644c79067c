package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

const publishTimeout = 3 * time.Second

// Notifier publishes realtime events. Publishing is fire-and-forget: a
// failure is logged and never fails the operation that produced the event.
type Notifier struct {
	log *slog.Logger
	bus contracts.EventBus
}

func NewNotifier(log *slog.Logger, bus contracts.EventBus) *Notifier {
	return &Notifier{log: log, bus: bus}
}

// Emit publishes one event to the given rooms.
func (n *Notifier) Emit(ctx context.Context, rooms []string, event string, payload any) {
	n.publish(ctx, rooms, event, payload, nil)
}

func (n *Notifier) publish(ctx context.Context, rooms []string, event string, payload any, evict []string) {
	if len(rooms) == 0 {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		n.log.ErrorContext(ctx, "notifier - encode - failed", logging.Event(event), logging.Err(err))
		return
	}
	// the request may finish before the publish does
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.bus.Publish(pubCtx, domain.Envelope{Rooms: rooms, Event: event, Payload: raw, Evict: evict}); err != nil {
		n.log.ErrorContext(ctx, "notifier - publish - failed", logging.Event(event), "rooms", rooms, logging.Err(err))
		return
	}
	n.log.DebugContext(ctx, "notifier - publish - success", logging.Event(event), "rooms", rooms)
}

// EmitToChatroom sends the event to the chatroom's room and a chat-list-update
// to the user room of every member.
func (n *Notifier) EmitToChatroom(ctx context.Context, room *domain.Chatroom, event string, payload any) {
	n.Emit(ctx, []string{room.ID.Hex()}, event, payload)
	n.NotifyListUpdate(ctx, room.ID, room.Members...)
}

// EvictFromChatroom is EmitToChatroom for events that end membership. The
// evicted users also get the list update, and their clients are dropped from
// the chatroom's room once the event reaches them.
func (n *Notifier) EvictFromChatroom(ctx context.Context, room *domain.Chatroom, event string, payload any, evicted ...primitive.ObjectID) {
	ids := uniqueIDs(evicted)
	evict := make([]string, 0, len(ids))
	for _, id := range ids {
		evict = append(evict, id.Hex())
	}
	n.publish(ctx, []string{room.ID.Hex()}, event, payload, evict)
	n.NotifyListUpdate(ctx, room.ID, append(append([]primitive.ObjectID{}, room.Members...), ids...)...)
}

// NotifyListUpdate asks the given users to refresh their chat list.
func (n *Notifier) NotifyListUpdate(ctx context.Context, chatroomID primitive.ObjectID, userIDs ...primitive.ObjectID) {
	ids := uniqueIDs(userIDs)
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, domain.UserRoom(id))
	}
	n.Emit(ctx, rooms, domain.EventChatListUpdate, domain.ChatListUpdatePayload{ChatroomID: chatroomID})
}
