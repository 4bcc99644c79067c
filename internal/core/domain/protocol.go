package domain

import (
	"encoding/json"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Realtime event names
const (
	EventMessage          = "message"
	EventMessageUpdate    = "message-update"
	EventMessageDelete    = "message-delete"
	EventGroupMemberAdded = "group-member-added"
	EventAdminPromoted    = "admin-promoted"
	EventAdminDemoted     = "admin-demoted"
	EventMemberRemoved    = "member-removed"
	EventMemberLeft       = "member-left"
	EventGroupUpdated     = "group-updated"
	EventChatroomDeleted  = "chatroom-deleted"
	EventChatListUpdate   = "chat-list-update"
)

// Websocket frame types
const (
	FrameEvent = "event"
	FrameJoin  = "join"
	FrameLeave = "leave"
	FrameError = "error"
)

const userRoomPrefix = "user:"

// UserRoom is the per-user channel used for chat list refreshes.
func UserRoom(userID primitive.ObjectID) string { return userRoomPrefix + userID.Hex() }

// ParseRoom splits a room name into a chatroom id or a user id.
func ParseRoom(room string) (id primitive.ObjectID, isUserRoom bool, err error) {
	if rest, ok := strings.CutPrefix(room, userRoomPrefix); ok {
		id, err = ParseID(rest)
		return id, true, err
	}
	id, err = ParseID(room)
	return id, false, err
}

// Envelope is one event on the bus, addressed to one or more rooms.
type Envelope struct {
	Rooms   []string        `json:"rooms"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Evict holds user ids whose clients leave Rooms after delivery.
	Evict []string `json:"evict,omitempty"`
}

// ServerFrame is pushed to websocket clients.
type ServerFrame struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ClientFrame is sent by websocket clients.
type ClientFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type MessageUpdatePayload struct {
	UpdatedMessage *Message `json:"updatedMessage"`
}

type MessageDeletePayload struct {
	DeletedMessage *Message `json:"deletedMessage"`
}

type GroupMemberAddedPayload struct {
	GroupID    primitive.ObjectID `json:"groupId"`
	NewMembers []PublicUser       `json:"newMembers"`
	InvitedBy  PublicUser         `json:"invitedBy"`
}

type AdminPromotedPayload struct {
	GroupID      primitive.ObjectID `json:"groupId"`
	PromotedUser PublicUser         `json:"promotedUser"`
	By           PublicUser         `json:"by"`
}

type AdminDemotedPayload struct {
	GroupID      primitive.ObjectID `json:"groupId"`
	DemotedAdmin PublicUser         `json:"demotedAdmin"`
	By           PublicUser         `json:"by"`
}

type MemberRemovedPayload struct {
	GroupID primitive.ObjectID `json:"groupId"`
	User    PublicUser         `json:"user"`
	By      PublicUser         `json:"by"`
}

type MemberLeftPayload struct {
	GroupID primitive.ObjectID `json:"groupId"`
	User    PublicUser         `json:"user"`
}

type GroupUpdatedPayload struct {
	GroupID   primitive.ObjectID `json:"groupId"`
	Updates   GroupUpdate        `json:"updates"`
	UpdatedBy PublicUser         `json:"updatedBy"`
}

type ChatroomDeletedPayload struct {
	ChatroomID primitive.ObjectID `json:"chatroomId"`
}

type ChatListUpdatePayload struct {
	ChatroomID primitive.ObjectID `json:"chatroomId"`
}
